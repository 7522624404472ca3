package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/turfline/wager-engine/internal/feed"
	"github.com/turfline/wager-engine/internal/ledger"
	"github.com/turfline/wager-engine/internal/limits"
	"github.com/turfline/wager-engine/internal/market"
	"github.com/turfline/wager-engine/internal/metrics"
	"github.com/turfline/wager-engine/internal/persist"
	"github.com/turfline/wager-engine/internal/reward"
	"github.com/turfline/wager-engine/internal/wager"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	signupBonus := envInt64("SIGNUP_BONUS", 1000)
	rewardInterval := envDuration("REWARD_INTERVAL", 4*time.Hour)
	rewardAmount := envInt64("REWARD_AMOUNT", 25)
	maxPerBet := envInt64("MAX_STAKE_PER_BET", 500)
	maxPerMarket := envInt64("MAX_STAKE_PER_MARKET", 2000)
	snapshotEvery := envDuration("SNAPSHOT_EVERY", 30*time.Second)
	feedEvery := envDuration("FEED_SWEEP_EVERY", 5*time.Minute)

	// --- Snapshot adapter ---
	adapter, cleanup := buildAdapter()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Core components ---
	l := ledger.New(signupBonus)
	markets := market.NewStore()
	bets := wager.NewBetBook()

	state, err := adapter.Load(context.Background())
	if err != nil {
		slog.Error("failed to load snapshot", "err", err)
		os.Exit(1)
	}
	if state != nil {
		persist.RestoreAll(state, l, markets, bets)
		slog.Info("state restored from snapshot",
			"saved_at", state.SavedAt,
			"users", len(state.Users),
			"markets", len(state.Markets),
			"bets", len(state.Bets))
	}

	// --- WebSocket hub ---
	wsHub := wager.NewWSHub()
	go wsHub.Run()

	// --- Wagering service ---
	limiter := limits.NewStakeLimiter(maxPerBet, maxPerMarket)
	svc := wager.NewService(l, markets, bets,
		wager.WithLimiter(limiter),
		wager.WithHub(wsHub))

	// --- Background jobs ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rewards := reward.NewScheduler(l, rewardInterval, rewardAmount)
	go rewards.Run(ctx, time.Minute)

	seeder := feed.NewSeeder(
		feed.NewClient(os.Getenv("FEED_URL"), 10*time.Second),
		markets, 5*time.Minute)
	if _, err := seeder.Sweep(ctx); err != nil {
		slog.Warn("initial feed sweep failed", "err", err)
	}
	go seeder.Run(ctx, feedEvery)

	// Periodic reads drive the lazy OPEN -> LOCKED transition even on
	// markets nobody is looking at, and keep the gauge current.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.OpenMarkets()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(snapshotEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := adapter.Save(context.Background(), persist.Capture(l, markets, bets)); err != nil {
					slog.Error("snapshot failed", "err", err)
				}
			}
		}
	}()

	// --- HTTP router ---
	handler := wager.NewHandler(svc, rewards)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		handler.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wager-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wager-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	// Final snapshot so nothing placed since the last tick is lost.
	if err := adapter.Save(shutdownCtx, persist.Capture(l, markets, bets)); err != nil {
		slog.Error("final snapshot failed", "err", err)
	}
	fmt.Println("wager-engine stopped")
}

// buildAdapter picks the snapshot backend from the environment:
// PostgreSQL when DATABASE_URL is set (with Redis as a warm tier when
// REDIS_URL is also set), Redis alone when only REDIS_URL is set, and
// a local file otherwise.
func buildAdapter() (persist.Adapter, []func()) {
	var cleanup []func()

	dbURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")

	var rdb *redis.Client
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		slog.Info("connected to PostgreSQL")

		var adapter persist.Adapter = persist.NewPostgresAdapter(pool, "wager-engine")
		if rdb != nil {
			adapter = persist.NewTieredAdapter(adapter, persist.NewRedisAdapter(rdb, "wager-engine"))
			slog.Info("Redis warm tier enabled")
		}
		return adapter, cleanup
	}

	if rdb != nil {
		slog.Warn("DATABASE_URL not set, snapshotting to Redis only")
		return persist.NewRedisAdapter(rdb, "wager-engine"), cleanup
	}

	dir := os.Getenv("SNAPSHOT_DIR")
	if dir == "" {
		dir = "data"
	}
	path := filepath.Join(dir, "engine.json")
	slog.Warn("no database configured, snapshotting to local file", "path", path)
	return persist.NewFileAdapter(path), cleanup
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
	}
	return def
}

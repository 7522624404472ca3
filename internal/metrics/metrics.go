// Package metrics provides Prometheus instrumentation for the wagering
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsPlacedTotal counts accepted bets.
	BetsPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_bets_placed_total",
		Help: "Total number of bets accepted",
	})

	// BetsRejectedTotal counts rejected placements by reason.
	BetsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_bets_rejected_total",
		Help: "Total number of bet placements rejected",
	}, []string{"reason"})

	// StakeVolumeTotal accumulates accepted stake in currency units.
	StakeVolumeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_stake_volume_total",
		Help: "Cumulative accepted stake in currency units",
	})

	// CompensatedDebitsTotal counts debits refunded because the market
	// rejected the stake after the ledger debit.
	CompensatedDebitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_compensated_debits_total",
		Help: "Debits refunded after a mid-placement market rejection",
	})

	// SettlementsTotal counts settled markets.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_settlements_total",
		Help: "Total number of markets settled",
	})

	// PayoutsTotal accumulates credited winnings in currency units.
	PayoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_payouts_total",
		Help: "Cumulative winnings credited in currency units",
	})

	// RewardsCreditedTotal accumulates idle rewards in currency units.
	RewardsCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_rewards_credited_total",
		Help: "Cumulative idle rewards credited in currency units",
	})

	// OpenMarkets tracks the number of markets currently open.
	OpenMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_open_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small
		// enough that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

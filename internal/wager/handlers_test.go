package wager_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/turfline/wager-engine/internal/limits"
	"github.com/turfline/wager-engine/internal/model"
	"github.com/turfline/wager-engine/internal/reward"
	"github.com/turfline/wager-engine/internal/wager"
)

func newTestRouter(t *testing.T, opts ...wager.Option) (*chi.Mux, *testEnv) {
	t.Helper()
	env := newTestEnv(t, opts...)
	h := wager.NewHandler(env.svc, reward.NewScheduler(env.ledger, 4*time.Hour, 25))
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return r, env
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestHandler_CreateUser(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/users", wager.CreateUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}

	user := decode[model.UserAccount](t, rec)
	if user.ID == "" || user.Username != "alice" || user.Balance != 1000 {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestHandler_CreateUser_MissingUsername(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/users", wager.CreateUserRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestHandler_PlaceBetAndSettleFlow(t *testing.T) {
	router, env := newTestRouter(t)
	u := env.user(t, "alice")
	m := env.market(t, "a", "b")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/bets", wager.PlaceBetRequest{
		UserID:   u.ID,
		MarketID: m.ID,
		OptionID: m.Options[0].ID,
		Stake:    100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place bet status %d, body %s", rec.Code, rec.Body.String())
	}
	bet := decode[model.Bet](t, rec)
	if bet.Stake != 100 || bet.Status != model.BetActive {
		t.Errorf("unexpected bet: %+v", bet)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/users/"+u.ID+"/bets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user bets status %d", rec.Code)
	}
	if bets := decode[[]model.Bet](t, rec); len(bets) != 1 || bets[0].ID != bet.ID {
		t.Errorf("unexpected bet list: %+v", bets)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/markets/"+m.ID+"/settle", wager.SettleRequest{
		WinningOptionID: m.Options[0].ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("settle status %d, body %s", rec.Code, rec.Body.String())
	}
	report := decode[wager.SettlementReport](t, rec)
	if report.BetsResolved != 1 || report.Winners != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/users/"+u.ID, nil)
	user := decode[model.UserAccount](t, rec)
	if user.Balance != 1000 { // 1000 - 100 + 100 payout
		t.Errorf("balance %d, want 1000", user.Balance)
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	router, env := newTestRouter(t)
	u := env.user(t, "alice")
	m := env.market(t, "a", "b")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown user", http.MethodGet, "/api/v1/users/nope", nil, http.StatusNotFound},
		{"unknown market", http.MethodGet, "/api/v1/markets/nope", nil, http.StatusNotFound},
		{
			"unknown option",
			http.MethodPost, "/api/v1/bets",
			wager.PlaceBetRequest{UserID: u.ID, MarketID: m.ID, OptionID: "nope", Stake: 10},
			http.StatusUnprocessableEntity,
		},
		{
			"invalid stake",
			http.MethodPost, "/api/v1/bets",
			wager.PlaceBetRequest{UserID: u.ID, MarketID: m.ID, OptionID: m.Options[0].ID, Stake: -5},
			http.StatusBadRequest,
		},
		{
			"insufficient balance",
			http.MethodPost, "/api/v1/bets",
			wager.PlaceBetRequest{UserID: u.ID, MarketID: m.ID, OptionID: m.Options[0].ID, Stake: 5000},
			http.StatusConflict,
		},
		{
			"settle unknown option",
			http.MethodPost, fmt.Sprintf("/api/v1/markets/%s/settle", m.ID),
			wager.SettleRequest{WinningOptionID: "nope"},
			http.StatusUnprocessableEntity,
		},
		{
			"missing bet fields",
			http.MethodPost, "/api/v1/bets",
			wager.PlaceBetRequest{Stake: 10},
			http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHandler_SettlementConflict(t *testing.T) {
	router, env := newTestRouter(t)
	m := env.market(t, "a", "b")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/markets/"+m.ID+"/settle", wager.SettleRequest{
		WinningOptionID: m.Options[0].ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first settle status %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/markets/"+m.ID+"/settle", wager.SettleRequest{
		WinningOptionID: m.Options[1].ID,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("conflicting settle status %d, want 409", rec.Code)
	}
}

func TestHandler_GetOpenMarkets(t *testing.T) {
	router, env := newTestRouter(t)
	env.market(t, "a", "b")
	env.market(t, "c", "d")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/markets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if markets := decode[[]model.Market](t, rec); len(markets) != 2 {
		t.Errorf("expected 2 open markets, got %d", len(markets))
	}
}

func TestHandler_GetExposure(t *testing.T) {
	router, env := newTestRouter(t, wager.WithLimiter(limits.NewStakeLimiter(200, 300)))
	u := env.user(t, "alice")
	m := env.market(t, "a", "b")

	if _, err := env.svc.PlaceBet(u.ID, m.ID, m.Options[0].ID, 200); err != nil {
		t.Fatalf("place bet: %v", err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/v1/users/"+u.ID+"/markets/"+m.ID+"/exposure", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[wager.ExposureResponse](t, rec)
	if resp.MarketID != m.ID || resp.Exposure != 200 {
		t.Errorf("unexpected exposure response: %+v", resp)
	}
	// 200 of a 300 per-market cap.
	if want := decimal.RequireFromString("66.67"); !resp.Utilization.Equal(want) {
		t.Errorf("utilization %s, want %s", resp.Utilization, want)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/users/nope/markets/"+m.ID+"/exposure", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status %d, want 404", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/users/"+u.ID+"/markets/nope/exposure", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown market status %d, want 404", rec.Code)
	}
}

func TestHandler_GetTransactions(t *testing.T) {
	router, env := newTestRouter(t)
	u := env.user(t, "alice")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/users/"+u.ID+"/transactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	txs := decode[[]model.Transaction](t, rec)
	if len(txs) != 1 || txs[0].Type != model.TxSignupBonus {
		t.Errorf("expected the signup bonus transaction, got %+v", txs)
	}
}

package wager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/turfline/wager-engine/internal/ledger"
	"github.com/turfline/wager-engine/internal/limits"
	"github.com/turfline/wager-engine/internal/market"
	"github.com/turfline/wager-engine/internal/model"
	"github.com/turfline/wager-engine/internal/reward"
)

// Handler exposes the wagering operations over HTTP. It is the
// interface boundary consumed by the (out of scope) UI layer.
type Handler struct {
	svc     *Service
	rewards *reward.Scheduler
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *Service, rewards *reward.Scheduler) *Handler {
	return &Handler{svc: svc, rewards: rewards}
}

// Routes registers all API endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/users", h.CreateUser)
	r.Get("/users/{userID}", h.GetUser)
	r.Get("/users/{userID}/bets", h.GetUserBets)
	r.Get("/users/{userID}/markets/{marketID}/exposure", h.GetExposure)
	r.Get("/users/{userID}/transactions", h.GetTransactions)
	r.Post("/users/{userID}/rewards/claim", h.ClaimRewards)

	r.Get("/markets", h.GetOpenMarkets)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Post("/markets/{marketID}/settle", h.SettleMarket)

	r.Post("/bets", h.PlaceBet)
}

// --- Request types ---

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// PlaceBetRequest is the JSON body for POST /bets.
type PlaceBetRequest struct {
	UserID   string `json:"user_id"`
	MarketID string `json:"market_id"`
	OptionID string `json:"option_id"`
	Stake    int64  `json:"stake"`
}

// SettleRequest is the JSON body for POST /markets/{marketID}/settle.
type SettleRequest struct {
	WinningOptionID string `json:"winning_option_id"`
}

// --- Handlers ---

// CreateUser handles POST /api/v1/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	user, err := h.svc.ledger.CreateUser(req.Username, req.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("user created", "id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{userID}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.ledger.User(chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PlaceBet handles POST /api/v1/bets.
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.MarketID == "" || req.OptionID == "" {
		writeError(w, "user_id, market_id and option_id are required", http.StatusBadRequest)
		return
	}

	bet, err := h.svc.PlaceBet(req.UserID, req.MarketID, req.OptionID, req.Stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// GetOpenMarkets handles GET /api/v1/markets.
func (h *Handler) GetOpenMarkets(w http.ResponseWriter, r *http.Request) {
	open := h.svc.OpenMarkets()
	if open == nil {
		open = []model.Market{}
	}
	writeJSON(w, http.StatusOK, open)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.markets.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// SettleMarket handles POST /api/v1/markets/{marketID}/settle.
func (h *Handler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WinningOptionID == "" {
		writeError(w, "winning_option_id is required", http.StatusBadRequest)
		return
	}

	report, err := h.svc.Settle(chi.URLParam(r, "marketID"), req.WinningOptionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetUserBets handles GET /api/v1/users/{userID}/bets.
func (h *Handler) GetUserBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.svc.UserBets(chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// ExposureResponse is the body for the exposure endpoint. Utilization
// is the percentage of the per-market stake limit already consumed.
type ExposureResponse struct {
	MarketID    string          `json:"market_id"`
	Exposure    int64           `json:"exposure"`
	Utilization decimal.Decimal `json:"utilization"`
}

// GetExposure handles GET /api/v1/users/{userID}/markets/{marketID}/exposure.
func (h *Handler) GetExposure(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	exposure, utilization, err := h.svc.Exposure(chi.URLParam(r, "userID"), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExposureResponse{
		MarketID:    marketID,
		Exposure:    exposure,
		Utilization: utilization,
	})
}

// GetTransactions handles GET /api/v1/users/{userID}/transactions.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := h.svc.ledger.User(userID); err != nil {
		writeDomainError(w, err)
		return
	}
	txs := h.svc.ledger.TransactionsOf(userID)
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// ClaimRewards handles POST /api/v1/users/{userID}/rewards/claim, the
// on-demand catch-up path, typically triggered at login.
func (h *Handler) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	amount, err := h.rewards.ApplyPending(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	balance, err := h.svc.ledger.BalanceOf(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"credited": amount, "balance": balance})
}

// --- Error mapping ---

// writeDomainError maps domain sentinels to HTTP statuses. Every error
// in the taxonomy is an expected, recoverable condition; the wrapped
// message carries the ids and amounts the caller needs to render an
// actionable message.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidStake),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrUnknownUser),
		errors.Is(err, market.ErrUnknownMarket):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, market.ErrUnknownOption):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInactiveUser),
		errors.Is(err, market.ErrMarketNotOpen),
		errors.Is(err, market.ErrMarketAlreadySettled),
		errors.Is(err, market.ErrSettlementConflict),
		errors.Is(err, limits.ErrStakeTooLarge),
		errors.Is(err, limits.ErrMarketExposureExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("unexpected error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

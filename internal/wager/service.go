// Package wager orchestrates bet placement and settlement over the
// ledger and the market store, and exposes the caller-facing HTTP API.
//
// Placement touches two aggregates that have no shared transaction
// boundary, so mid-sequence failures are handled by compensation: a
// debit whose stake the market then rejects is refunded before the
// error is returned, never a silent loss of funds.
package wager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/turfline/wager-engine/internal/ledger"
	"github.com/turfline/wager-engine/internal/limits"
	"github.com/turfline/wager-engine/internal/market"
	"github.com/turfline/wager-engine/internal/metrics"
	"github.com/turfline/wager-engine/internal/model"
	"github.com/turfline/wager-engine/internal/pricing"
)

// ErrInvalidStake is returned for a non-positive stake.
var ErrInvalidStake = errors.New("wager: stake must be positive")

// Service wires the ledger, the market store, and the bet book into the
// caller-facing wagering operations.
type Service struct {
	ledger  *ledger.Ledger
	markets *market.Store
	bets    *BetBook
	limiter *limits.StakeLimiter
	hub     *WSHub // optional; nil disables broadcasting
	clock   func() time.Time

	// lockMu guards marketLocks. Each market's lock serializes the
	// record-stake-then-book-append sequence against the settlement
	// loop, so a settlement run sees every bet whose stake is in the
	// pool and never runs twice over the same ACTIVE set.
	lockMu      sync.Mutex
	marketLocks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithHub attaches a WebSocket hub for price broadcasts.
func WithHub(hub *WSHub) Option {
	return func(s *Service) { s.hub = hub }
}

// WithLimiter attaches a stake limiter.
func WithLimiter(l *limits.StakeLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// NewService creates a wagering service over the given components.
func NewService(l *ledger.Ledger, markets *market.Store, bets *BetBook, opts ...Option) *Service {
	s := &Service{
		ledger:      l,
		markets:     markets,
		bets:        bets,
		clock:       func() time.Time { return time.Now().UTC() },
		marketLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bets returns the service's bet book.
func (s *Service) Bets() *BetBook { return s.bets }

// marketLock returns the mutex serializing placement and settlement
// for one market.
func (s *Service) marketLock(marketID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	mu, ok := s.marketLocks[marketID]
	if !ok {
		mu = &sync.Mutex{}
		s.marketLocks[marketID] = mu
	}
	return mu
}

// PlaceBet validates the request, debits the stake, records it against
// the market, and issues the bet receipt. priceAtPlacement is the
// staked option's price after the pool recompute that included this
// stake, and potentialPayout derives from it.
//
// If the market rejects the stake after the debit (it can close between
// validation and recording), the debit is refunded before the error is
// returned.
func (s *Service) PlaceBet(userID, marketID, optionID string, stake int64) (model.Bet, error) {
	if stake <= 0 {
		metrics.BetsRejectedTotal.WithLabelValues("invalid_stake").Inc()
		return model.Bet{}, fmt.Errorf("%w: got %d", ErrInvalidStake, stake)
	}

	// Pre-validate against the market before touching the ledger, so
	// the common rejections have no side effects at all.
	m, err := s.markets.Get(marketID)
	if err != nil {
		metrics.BetsRejectedTotal.WithLabelValues("unknown_market").Inc()
		return model.Bet{}, err
	}
	if m.State != model.StateOpen {
		metrics.BetsRejectedTotal.WithLabelValues("market_closed").Inc()
		return model.Bet{}, fmt.Errorf("%w: %s is %s", market.ErrMarketNotOpen, marketID, m.State)
	}
	if !hasOption(m, optionID) {
		metrics.BetsRejectedTotal.WithLabelValues("unknown_option").Inc()
		return model.Bet{}, fmt.Errorf("%w: %s in market %s", market.ErrUnknownOption, optionID, marketID)
	}

	if err := s.limiter.Check(stake, s.bets.MarketExposure(userID, marketID)); err != nil {
		metrics.BetsRejectedTotal.WithLabelValues("limit").Inc()
		return model.Bet{}, err
	}

	desc := fmt.Sprintf("stake on %q", m.Title)
	if err := s.ledger.Debit(userID, stake, desc); err != nil {
		metrics.BetsRejectedTotal.WithLabelValues("ledger").Inc()
		return model.Bet{}, err
	}

	// Recording the stake and appending the bet happen under the
	// market's lock: a settlement run can then never observe the stake
	// in the pool without the bet in the book.
	mu := s.marketLock(marketID)
	mu.Lock()

	price, err := s.markets.RecordStake(marketID, optionID, stake)
	if err != nil {
		mu.Unlock()
		// Compensating action: the market moved under us after the
		// debit. Put the money back, then surface the original error.
		if refundErr := s.ledger.Refund(userID, stake, fmt.Sprintf("refund: %v", err)); refundErr != nil {
			slog.Error("refund after rejected stake failed",
				"user", userID, "market", marketID, "stake", stake, "err", refundErr)
		}
		metrics.CompensatedDebitsTotal.Inc()
		return model.Bet{}, err
	}

	bet := model.Bet{
		ID:               uuid.New().String(),
		UserID:           userID,
		MarketID:         marketID,
		OptionID:         optionID,
		Stake:            stake,
		PriceAtPlacement: price,
		PotentialPayout:  pricing.PotentialPayout(stake, price),
		Status:           model.BetActive,
		PlacedAt:         s.clock(),
	}
	s.bets.Add(bet)
	mu.Unlock()

	metrics.BetsPlacedTotal.Inc()
	metrics.StakeVolumeTotal.Add(float64(stake))

	slog.Info("bet placed",
		"bet_id", bet.ID,
		"user", userID,
		"market", marketID,
		"option", optionID,
		"stake", stake,
		"price", price,
		"potential_payout", bet.PotentialPayout,
	)

	s.broadcastPrices(marketID, "stake_recorded")
	return bet, nil
}

// Exposure reports the user's aggregate stake across all options of
// one market and the share of the per-market limit it consumes.
func (s *Service) Exposure(userID, marketID string) (int64, decimal.Decimal, error) {
	if _, err := s.ledger.User(userID); err != nil {
		return 0, decimal.Zero, err
	}
	if _, err := s.markets.Get(marketID); err != nil {
		return 0, decimal.Zero, err
	}
	exposure := s.bets.MarketExposure(userID, marketID)
	return exposure, s.limiter.Utilization(exposure), nil
}

// UserBets returns the user's bets in placement order.
func (s *Service) UserBets(userID string) ([]model.Bet, error) {
	if _, err := s.ledger.User(userID); err != nil {
		return nil, err
	}
	return s.bets.ByUser(userID), nil
}

// OpenMarkets returns the markets still accepting bets and refreshes
// the open-markets gauge on the way.
func (s *Service) OpenMarkets() []model.Market {
	open := s.markets.OpenMarkets()
	metrics.OpenMarkets.Set(float64(len(open)))
	return open
}

// broadcastPrices pushes the market's refreshed price vector to every
// connected client.
func (s *Service) broadcastPrices(marketID, event string) {
	if s.hub == nil {
		return
	}
	m, err := s.markets.Get(marketID)
	if err != nil {
		return
	}
	s.hub.Broadcast(priceUpdate(event, m))
}

func hasOption(m model.Market, optionID string) bool {
	for _, o := range m.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

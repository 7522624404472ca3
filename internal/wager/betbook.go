package wager

import (
	"sync"
	"time"

	"github.com/turfline/wager-engine/internal/model"
)

// BetBook holds every bet ever placed, indexed by market and by user.
// Bets are append-only: settlement flips a bet's status but nothing is
// ever removed, preserving the audit trail.
type BetBook struct {
	mu       sync.RWMutex
	bets     map[string]*model.Bet
	order    []string // placement order
	byMarket map[string][]string
	byUser   map[string][]string
}

// NewBetBook creates an empty bet book.
func NewBetBook() *BetBook {
	return &BetBook{
		bets:     make(map[string]*model.Bet),
		byMarket: make(map[string][]string),
		byUser:   make(map[string][]string),
	}
}

// Add records a new bet.
func (b *BetBook) Add(bet model.Bet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := bet
	b.bets[bet.ID] = &cp
	b.order = append(b.order, bet.ID)
	b.byMarket[bet.MarketID] = append(b.byMarket[bet.MarketID], bet.ID)
	b.byUser[bet.UserID] = append(b.byUser[bet.UserID], bet.ID)
}

// Get returns a copy of the bet and whether it exists.
func (b *BetBook) Get(id string) (model.Bet, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bet, ok := b.bets[id]
	if !ok {
		return model.Bet{}, false
	}
	return copyBet(bet), true
}

// ByUser returns the user's bets in placement order.
func (b *BetBook) ByUser(userID string) []model.Bet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []model.Bet
	for _, id := range b.byUser[userID] {
		out = append(out, copyBet(b.bets[id]))
	}
	return out
}

// ActiveByMarket returns the market's still-unsettled bets in placement
// order. Settlement drives exclusively off this view, which is what
// makes a re-run after a mid-loop crash process only the remainder.
func (b *BetBook) ActiveByMarket(marketID string) []model.Bet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []model.Bet
	for _, id := range b.byMarket[marketID] {
		if b.bets[id].Status == model.BetActive {
			out = append(out, copyBet(b.bets[id]))
		}
	}
	return out
}

// MarketExposure sums the user's stakes across all options of a market,
// settled or not: exposure is what was put at risk, for limit checks.
func (b *BetBook) MarketExposure(userID, marketID string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, id := range b.byUser[userID] {
		if b.bets[id].MarketID == marketID {
			total += b.bets[id].Stake
		}
	}
	return total
}

// Resolve marks an ACTIVE bet SETTLED with the given payout, reporting
// whether this call performed the transition. A bet already settled
// returns false, which is the idempotence guard against double payouts.
func (b *BetBook) Resolve(betID string, payout int64, settledAt time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bet, ok := b.bets[betID]
	if !ok || bet.Status != model.BetActive {
		return false
	}
	bet.Status = model.BetSettled
	bet.SettledAt = &settledAt
	bet.Payout = payout
	return true
}

// Snapshot returns copies of every bet in placement order.
func (b *BetBook) Snapshot() []model.Bet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Bet, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, copyBet(b.bets[id]))
	}
	return out
}

// Restore replaces the book's contents with a loaded snapshot,
// preserving the given order as placement order.
func (b *BetBook) Restore(bets []model.Bet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bets = make(map[string]*model.Bet, len(bets))
	b.order = b.order[:0]
	b.byMarket = make(map[string][]string)
	b.byUser = make(map[string][]string)

	for _, bet := range bets {
		cp := bet
		b.bets[bet.ID] = &cp
		b.order = append(b.order, bet.ID)
		b.byMarket[bet.MarketID] = append(b.byMarket[bet.MarketID], bet.ID)
		b.byUser[bet.UserID] = append(b.byUser[bet.UserID], bet.ID)
	}
}

func copyBet(bet *model.Bet) model.Bet {
	cp := *bet
	if bet.SettledAt != nil {
		at := *bet.SettledAt
		cp.SettledAt = &at
	}
	return cp
}

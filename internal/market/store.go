// Package market owns market and option records, their lifecycle state,
// and pooled-volume parimutuel pricing.
//
// Locking is per market: stakes on the same market serialize so volume
// and prices always move together, while different markets never
// contend. The OPEN-state check inside RecordStake doubles as the
// settlement fence: once a market leaves OPEN no further stake can
// land, without any extra coordination.
package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turfline/wager-engine/internal/model"
	"github.com/turfline/wager-engine/internal/pricing"
)

var (
	// ErrUnknownMarket is returned for an unregistered market id.
	ErrUnknownMarket = errors.New("market: unknown market")

	// ErrUnknownOption is returned when an option id does not belong to
	// the market.
	ErrUnknownOption = errors.New("market: unknown option")

	// ErrMarketNotOpen is returned when a stake arrives for a market
	// that is locked, settled, or past its close time.
	ErrMarketNotOpen = errors.New("market: not open for betting")

	// ErrMarketAlreadySettled is returned by Close for a settled market.
	// A repeat call naming the same winner is a successful no-op and
	// does not produce this error.
	ErrMarketAlreadySettled = errors.New("market: already settled")

	// ErrSettlementConflict is returned when a settled market is closed
	// again with a different winning option.
	ErrSettlementConflict = errors.New("market: settled with a different winner")

	// ErrTooFewOptions is returned when a market spec has fewer than
	// two options.
	ErrTooFewOptions = errors.New("market: at least two options required")

	// ErrClosesInPast is returned when a market spec's close time is
	// not in the future.
	ErrClosesInPast = errors.New("market: close time must be in the future")
)

// OptionSeed describes one outcome when creating a market. InitialPrice
// is the model-implied opening line; seeds whose prices do not sum to
// exactly 100 fall back to a uniform split.
type OptionSeed struct {
	Title        string
	InitialPrice int
}

// Spec is the input to Create.
type Spec struct {
	Title       string
	Description string
	Category    string
	SubjectID   string
	SubjectName string
	SubjectDate time.Time
	ClosesAt    time.Time
	Options     []OptionSeed
}

// entry pairs a market with its own mutex.
type entry struct {
	mu sync.Mutex
	m  model.Market
}

// Store is the in-memory market authority.
type Store struct {
	mu      sync.RWMutex // guards the map, not the entries
	markets map[string]*entry
	clock   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore creates an empty market store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		markets: make(map[string]*entry),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the spec and registers a new OPEN market with
// initial pricing (seeded line if it sums to 100, uniform otherwise).
func (s *Store) Create(spec Spec) (model.Market, error) {
	now := s.clock()
	if len(spec.Options) < 2 {
		return model.Market{}, fmt.Errorf("%w: got %d", ErrTooFewOptions, len(spec.Options))
	}
	if !spec.ClosesAt.After(now) {
		return model.Market{}, fmt.Errorf("%w: closes at %s", ErrClosesInPast, spec.ClosesAt)
	}

	m := model.Market{
		ID:          uuid.New().String(),
		Title:       spec.Title,
		Description: spec.Description,
		Category:    spec.Category,
		SubjectID:   spec.SubjectID,
		SubjectName: spec.SubjectName,
		SubjectDate: spec.SubjectDate,
		State:       model.StateOpen,
		CreatedAt:   now,
		ClosesAt:    spec.ClosesAt,
	}

	prices := seedPrices(spec.Options)
	for i, seed := range spec.Options {
		m.Options = append(m.Options, model.MarketOption{
			ID:           uuid.New().String(),
			MarketID:     m.ID,
			Title:        seed.Title,
			CurrentPrice: prices[i],
		})
	}

	s.mu.Lock()
	s.markets[m.ID] = &entry{m: m}
	s.mu.Unlock()

	return m, nil
}

// seedPrices uses the seeded opening line when it is conserved,
// otherwise splits uniformly.
func seedPrices(seeds []OptionSeed) []int {
	sum := 0
	for _, seed := range seeds {
		if seed.InitialPrice < 0 {
			sum = -1
			break
		}
		sum += seed.InitialPrice
	}
	if sum == pricing.Scale {
		prices := make([]int, len(seeds))
		for i, seed := range seeds {
			prices[i] = seed.InitialPrice
		}
		return prices
	}
	return pricing.Prices(make([]int64, len(seeds)))
}

// lookup returns the entry for id, or ErrUnknownMarket.
func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return e, nil
}

// lockIfDue flips OPEN -> LOCKED once the close time or the subject's
// event time has passed. Never the reverse. Caller holds the entry lock.
func lockIfDue(m *model.Market, now time.Time) {
	if m.State != model.StateOpen {
		return
	}
	if !now.Before(m.ClosesAt) || (!m.SubjectDate.IsZero() && !now.Before(m.SubjectDate)) {
		m.State = model.StateLocked
	}
}

// Get returns a copy of the market, applying the lazy lock transition
// first so callers never observe a stale OPEN state.
func (s *Store) Get(id string) (model.Market, error) {
	e, err := s.lookup(id)
	if err != nil {
		return model.Market{}, err
	}
	now := s.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	lockIfDue(&e.m, now)
	return copyMarket(e.m), nil
}

// OpenMarkets returns every market still open for betting, flipping any
// whose close time has passed to LOCKED on the way.
func (s *Store) OpenMarkets() []model.Market {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.markets))
	for _, e := range s.markets {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	now := s.clock()
	var open []model.Market
	for _, e := range entries {
		e.mu.Lock()
		lockIfDue(&e.m, now)
		if e.m.State == model.StateOpen {
			open = append(open, copyMarket(e.m))
		}
		e.mu.Unlock()
	}

	sort.Slice(open, func(i, j int) bool { return open[i].ClosesAt.Before(open[j].ClosesAt) })
	return open
}

// All returns copies of every market, for persistence and admin reads.
func (s *Store) All() []model.Market {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.markets))
	for _, e := range s.markets {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	all := make([]model.Market, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		all = append(all, copyMarket(e.m))
		e.mu.Unlock()
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

// RecordStake adds stake to an option's pool and recomputes every
// option's price from the new totals, atomically under the market
// lock, so a reader never sees new volume with stale prices. Returns the
// staked option's post-recompute price.
func (s *Store) RecordStake(marketID, optionID string, stake int64) (int, error) {
	if stake <= 0 {
		return 0, fmt.Errorf("market: stake must be positive, got %d", stake)
	}
	e, err := s.lookup(marketID)
	if err != nil {
		return 0, err
	}
	now := s.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	lockIfDue(&e.m, now)
	if e.m.State != model.StateOpen {
		return 0, fmt.Errorf("%w: %s is %s", ErrMarketNotOpen, marketID, e.m.State)
	}

	idx := -1
	for i := range e.m.Options {
		if e.m.Options[i].ID == optionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s in market %s", ErrUnknownOption, optionID, marketID)
	}

	e.m.Options[idx].TotalVolume += stake
	e.m.Options[idx].TotalBets++
	e.m.TotalVolume += stake
	e.m.TotalBets++

	volumes := make([]int64, len(e.m.Options))
	for i := range e.m.Options {
		volumes[i] = e.m.Options[i].TotalVolume
	}
	for i, p := range pricing.Prices(volumes) {
		e.m.Options[i].CurrentPrice = p
	}

	return e.m.Options[idx].CurrentPrice, nil
}

// Close settles the market on the given winning option. Exactly one
// option ends up winning. Repeating the call with the same winner is a
// no-op; a different winner is a SettlementConflict.
func (s *Store) Close(marketID, winningOptionID string) (model.Market, error) {
	e, err := s.lookup(marketID)
	if err != nil {
		return model.Market{}, err
	}
	now := s.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.m.State == model.StateSettled {
		if e.m.WinningOptionID == winningOptionID {
			return copyMarket(e.m), nil
		}
		return model.Market{}, fmt.Errorf("%w: %s already settled on %s",
			ErrSettlementConflict, marketID, e.m.WinningOptionID)
	}

	found := false
	for i := range e.m.Options {
		if e.m.Options[i].ID == winningOptionID {
			found = true
			break
		}
	}
	if !found {
		return model.Market{}, fmt.Errorf("%w: %s in market %s", ErrUnknownOption, winningOptionID, marketID)
	}

	e.m.State = model.StateSettled
	e.m.SettledAt = &now
	e.m.WinningOptionID = winningOptionID
	for i := range e.m.Options {
		e.m.Options[i].IsWinning = e.m.Options[i].ID == winningOptionID
	}

	return copyMarket(e.m), nil
}

// Snapshot returns copies of all markets for the persistence adapter.
func (s *Store) Snapshot() []model.Market {
	return s.All()
}

// Restore replaces the store's state with a loaded snapshot, re-applying
// the lazy lock transition before any read is served.
func (s *Store) Restore(markets []model.Market) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.markets = make(map[string]*entry, len(markets))
	for _, m := range markets {
		cp := copyMarket(m)
		lockIfDue(&cp, now)
		s.markets[cp.ID] = &entry{m: cp}
	}
}

// copyMarket deep-copies a market so callers cannot mutate store state.
func copyMarket(m model.Market) model.Market {
	cp := m
	cp.Options = make([]model.MarketOption, len(m.Options))
	copy(cp.Options, m.Options)
	if m.SettledAt != nil {
		at := *m.SettledAt
		cp.SettledAt = &at
	}
	return cp
}

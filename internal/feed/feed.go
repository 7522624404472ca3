// Package feed pulls upcoming race cards from an upstream provider and
// seeds wagering markets from them. Runner win probabilities arrive as
// fractions and are converted to the integer price scale without float
// drift; when the provider is unreachable a deterministic fallback card
// set keeps the engine populated.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/turfline/wager-engine/internal/market"
	"github.com/turfline/wager-engine/internal/pricing"
)

var (
	ErrNoRunners      = errors.New("feed: race card has no runners")
	ErrBadProbability = errors.New("feed: runner probabilities must be positive")
	ErrUpstreamStatus = errors.New("feed: upstream returned non-200 status")
)

// Runner is one entrant on an upstream race card.
type Runner struct {
	Name           string          `json:"name"`
	WinProbability decimal.Decimal `json:"win_probability"`
}

// RaceCard is an upcoming race as published by the provider.
type RaceCard struct {
	RaceID    string    `json:"race_id"`
	Track     string    `json:"track"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Runners   []Runner  `json:"runners"`
}

// SeedPrices converts runner win probabilities to the integer price
// scale. Probabilities are normalized against their own total, so a
// card whose probabilities sum to 0.97 (overround removed upstream)
// still yields a line summing to exactly the full scale. Remainders go
// to the largest fractional shares, ties to the lower index.
func SeedPrices(runners []Runner) ([]int, error) {
	if len(runners) == 0 {
		return nil, ErrNoRunners
	}

	total := decimal.Zero
	for _, r := range runners {
		if r.WinProbability.IsNegative() {
			return nil, fmt.Errorf("%w: %s has %s", ErrBadProbability, r.Name, r.WinProbability)
		}
		total = total.Add(r.WinProbability)
	}
	if total.IsZero() {
		return nil, ErrBadProbability
	}

	scale := decimal.NewFromInt(pricing.Scale)
	prices := make([]int, len(runners))
	remainders := make([]decimal.Decimal, len(runners))
	assigned := 0
	for i, r := range runners {
		exact := r.WinProbability.Mul(scale).Div(total)
		floor := exact.Floor()
		prices[i] = int(floor.IntPart())
		remainders[i] = exact.Sub(floor)
		assigned += prices[i]
	}

	order := make([]int, len(runners))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})
	for i := 0; i < pricing.Scale-assigned; i++ {
		prices[order[i%len(order)]]++
	}
	return prices, nil
}

// Client fetches race cards from the provider's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a feed client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Upcoming returns the provider's current list of upcoming race cards.
func (c *Client) Upcoming(ctx context.Context) ([]RaceCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/racecards/upcoming", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch race cards: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	var cards []RaceCard
	if err := json.NewDecoder(resp.Body).Decode(&cards); err != nil {
		return nil, fmt.Errorf("feed: decode race cards: %w", err)
	}
	return cards, nil
}

// Seeder turns race cards into open markets, one per card. Cards seen
// before are skipped, so repeated sweeps are safe.
type Seeder struct {
	client  *Client
	markets *market.Store
	lead    time.Duration // betting closes this long before the start

	mu     sync.Mutex
	seeded map[string]bool // race id -> already turned into a market
}

// NewSeeder creates a seeder. Markets close lead before the race start.
func NewSeeder(client *Client, markets *market.Store, lead time.Duration) *Seeder {
	return &Seeder{
		client:  client,
		markets: markets,
		lead:    lead,
		seeded:  make(map[string]bool),
	}
}

// Sweep fetches upcoming cards and creates a market for each unseen
// one, returning how many markets were created. If the provider is
// unreachable the fallback card set is used instead.
func (s *Seeder) Sweep(ctx context.Context) (int, error) {
	cards, err := s.client.Upcoming(ctx)
	if err != nil {
		slog.Warn("feed unreachable, using fallback cards", "err", err)
		cards = FallbackCards(time.Now().UTC())
	}

	created := 0
	for _, card := range cards {
		ok, err := s.seedOne(card)
		if err != nil {
			slog.Error("failed to seed market", "race", card.RaceID, "err", err)
			continue
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		slog.Info("markets seeded from feed", "count", created)
	}
	return created, nil
}

func (s *Seeder) seedOne(card RaceCard) (bool, error) {
	s.mu.Lock()
	if s.seeded[card.RaceID] {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	prices, err := SeedPrices(card.Runners)
	if err != nil {
		// A card with an unusable line still gets a market; the store
		// falls back to a uniform opening line.
		if errors.Is(err, ErrNoRunners) {
			return false, err
		}
		prices = make([]int, len(card.Runners))
	}

	spec := market.Spec{
		Title:       fmt.Sprintf("%s winner", card.Name),
		Description: fmt.Sprintf("Winner of %s at %s", card.Name, card.Track),
		Category:    "racing",
		SubjectID:   card.RaceID,
		SubjectName: card.Name,
		SubjectDate: card.StartTime,
		ClosesAt:    card.StartTime.Add(-s.lead),
	}
	for i, r := range card.Runners {
		spec.Options = append(spec.Options, market.OptionSeed{Title: r.Name, InitialPrice: prices[i]})
	}

	if _, err := s.markets.Create(spec); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.seeded[card.RaceID] = true
	s.mu.Unlock()
	return true, nil
}

// Run sweeps on the given cadence until ctx is cancelled.
func (s *Seeder) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("feed sweep failed", "err", err)
			}
		}
	}
}

// FallbackCards returns a deterministic set of race cards anchored at
// now, used when the provider is down so the engine always has
// something to offer.
func FallbackCards(now time.Time) []RaceCard {
	templates := []struct {
		track   string
		name    string
		runners []string
		probs   []string
	}{
		{
			track:   "Ascot",
			name:    "Golden Mile",
			runners: []string{"Northern Light", "Sea Breeze", "Iron Duke", "Quick Silver"},
			probs:   []string{"0.40", "0.25", "0.20", "0.15"},
		},
		{
			track:   "Newmarket",
			name:    "July Sprint",
			runners: []string{"Midnight Run", "Copper Field", "Bold Venture"},
			probs:   []string{"0.50", "0.30", "0.20"},
		},
		{
			track:   "Epsom",
			name:    "Derby Trial",
			runners: []string{"Storm Chaser", "Desert Rose", "High Tide", "Lucky Charm", "Grey Ghost"},
			probs:   []string{"0.30", "0.25", "0.20", "0.15", "0.10"},
		},
	}

	cards := make([]RaceCard, 0, len(templates))
	for i, tpl := range templates {
		card := RaceCard{
			RaceID:    fmt.Sprintf("fallback-%s-%d", now.Format("20060102"), i+1),
			Track:     tpl.track,
			Name:      tpl.name,
			StartTime: now.Add(time.Duration(i+1) * time.Hour),
		}
		for j, name := range tpl.runners {
			p, _ := decimal.NewFromString(tpl.probs[j])
			card.Runners = append(card.Runners, Runner{Name: name, WinProbability: p})
		}
		cards = append(cards, card)
	}
	return cards
}

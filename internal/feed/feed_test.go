package feed_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/turfline/wager-engine/internal/feed"
	"github.com/turfline/wager-engine/internal/market"
)

func prob(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestSeedPrices(t *testing.T) {
	tests := []struct {
		name    string
		runners []feed.Runner
		want    []int
	}{
		{
			name: "clean quarters",
			runners: []feed.Runner{
				{Name: "a", WinProbability: prob("0.5")},
				{Name: "b", WinProbability: prob("0.25")},
				{Name: "c", WinProbability: prob("0.25")},
			},
			want: []int{50, 25, 25},
		},
		{
			name: "thirds round to full scale",
			runners: []feed.Runner{
				{Name: "a", WinProbability: prob("0.3333")},
				{Name: "b", WinProbability: prob("0.3333")},
				{Name: "c", WinProbability: prob("0.3333")},
			},
			want: []int{34, 33, 33},
		},
		{
			name: "normalizes a sub-unit book",
			runners: []feed.Runner{
				{Name: "a", WinProbability: prob("0.48")},
				{Name: "b", WinProbability: prob("0.48")},
			},
			want: []int{50, 50},
		},
		{
			name: "favourite heavy line",
			runners: []feed.Runner{
				{Name: "a", WinProbability: prob("0.70")},
				{Name: "b", WinProbability: prob("0.20")},
				{Name: "c", WinProbability: prob("0.10")},
			},
			want: []int{70, 20, 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := feed.SeedPrices(tt.runners)
			if err != nil {
				t.Fatalf("SeedPrices: %v", err)
			}
			sum := 0
			for i, p := range got {
				if p != tt.want[i] {
					t.Errorf("price[%d] = %d, want %d (full %v)", i, p, tt.want[i], got)
				}
				sum += p
			}
			if sum != 100 {
				t.Errorf("prices sum to %d, want 100", sum)
			}
		})
	}
}

func TestSeedPrices_Invalid(t *testing.T) {
	if _, err := feed.SeedPrices(nil); err == nil {
		t.Error("expected error for empty card")
	}
	if _, err := feed.SeedPrices([]feed.Runner{{Name: "a", WinProbability: prob("0")}}); err == nil {
		t.Error("expected error for an all-zero line")
	}
	if _, err := feed.SeedPrices([]feed.Runner{{Name: "a", WinProbability: prob("-0.1")}}); err == nil {
		t.Error("expected error for a negative probability")
	}
}

func upstream(t *testing.T, cards []feed.RaceCard) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/racecards/upcoming" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cards)
	}))
}

func TestSeeder_Sweep(t *testing.T) {
	start := time.Now().UTC().Add(2 * time.Hour)
	cards := []feed.RaceCard{
		{
			RaceID:    "race-1",
			Track:     "Ascot",
			Name:      "Golden Mile",
			StartTime: start,
			Runners: []feed.Runner{
				{Name: "Northern Light", WinProbability: prob("0.6")},
				{Name: "Sea Breeze", WinProbability: prob("0.4")},
			},
		},
	}
	srv := upstream(t, cards)
	defer srv.Close()

	ms := market.NewStore()
	seeder := feed.NewSeeder(feed.NewClient(srv.URL, time.Second), ms, 5*time.Minute)

	created, err := seeder.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 market created, got %d", created)
	}

	open := ms.OpenMarkets()
	if len(open) != 1 {
		t.Fatalf("expected 1 open market, got %d", len(open))
	}
	m := open[0]
	if m.SubjectID != "race-1" || len(m.Options) != 2 {
		t.Errorf("unexpected market: %+v", m)
	}
	if m.Options[0].CurrentPrice != 60 || m.Options[1].CurrentPrice != 40 {
		t.Errorf("seeded prices %d/%d, want 60/40", m.Options[0].CurrentPrice, m.Options[1].CurrentPrice)
	}
	if want := start.Add(-5 * time.Minute); !m.ClosesAt.Equal(want) {
		t.Errorf("closesAt %v, want %v", m.ClosesAt, want)
	}

	// A repeat sweep must not duplicate the market.
	created, err = seeder.Sweep(context.Background())
	if err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if created != 0 {
		t.Errorf("repeat sweep created %d markets, want 0", created)
	}
	if got := len(ms.OpenMarkets()); got != 1 {
		t.Errorf("expected 1 open market after repeat sweep, got %d", got)
	}
}

func TestSeeder_FallsBackWhenUpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ms := market.NewStore()
	seeder := feed.NewSeeder(feed.NewClient(srv.URL, time.Second), ms, 5*time.Minute)

	created, err := seeder.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if created == 0 {
		t.Fatal("expected fallback cards to create markets")
	}
	for _, m := range ms.OpenMarkets() {
		sum := 0
		for _, o := range m.Options {
			sum += o.CurrentPrice
		}
		if sum != 100 {
			t.Errorf("market %s prices sum to %d, want 100", m.ID, sum)
		}
	}
}

func TestClient_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := feed.NewClient(srv.URL, time.Second).Upcoming(context.Background())
	if err == nil {
		t.Fatal("expected error for non-200 upstream status")
	}
}

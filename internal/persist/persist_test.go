package persist_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/turfline/wager-engine/internal/ledger"
	"github.com/turfline/wager-engine/internal/market"
	"github.com/turfline/wager-engine/internal/model"
	"github.com/turfline/wager-engine/internal/persist"
	"github.com/turfline/wager-engine/internal/wager"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFileAdapter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "engine.json")
	adapter := persist.NewFileAdapter(path)
	ctx := context.Background()

	// No snapshot yet.
	state, err := adapter.Load(ctx)
	if err != nil || state != nil {
		t.Fatalf("expected (nil, nil) for missing snapshot, got (%v, %v)", state, err)
	}

	clock := func() time.Time { return t0 }
	l := ledger.New(1000, ledger.WithClock(clock))
	ms := market.NewStore(market.WithClock(clock))
	bets := wager.NewBetBook()
	svc := wager.NewService(l, ms, bets, wager.WithClock(clock))

	u, _ := l.CreateUser("alice", "alice@example.com")
	m, err := ms.Create(market.Spec{
		Title:    "Race winner",
		ClosesAt: t0.Add(time.Hour),
		Options:  []market.OptionSeed{{Title: "a"}, {Title: "b"}},
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	bet, err := svc.PlaceBet(u.ID, m.ID, m.Options[0].ID, 100)
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if err := adapter.Save(ctx, persist.Capture(l, ms, bets)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Restore into fresh components.
	l2 := ledger.New(1000, ledger.WithClock(clock))
	ms2 := market.NewStore(market.WithClock(clock))
	bets2 := wager.NewBetBook()

	loaded, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	persist.RestoreAll(loaded, l2, ms2, bets2)

	if balance, _ := l2.BalanceOf(u.ID); balance != 900 {
		t.Errorf("restored balance %d, want 900", balance)
	}
	if txs := l2.TransactionsOf(u.ID); len(txs) != 2 {
		t.Errorf("restored %d transactions, want 2", len(txs))
	}
	got, err := ms2.Get(m.ID)
	if err != nil {
		t.Fatalf("restored market: %v", err)
	}
	if got.TotalVolume != 100 || got.State != model.StateOpen {
		t.Errorf("restored market volume %d state %s", got.TotalVolume, got.State)
	}
	restored, ok := bets2.Get(bet.ID)
	if !ok || restored.Stake != 100 || restored.Status != model.BetActive {
		t.Errorf("restored bet = %+v (ok %v)", restored, ok)
	}
}

func TestFileAdapter_AtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.json")
	adapter := persist.NewFileAdapter(path)

	state := &persist.State{Version: persist.SchemaVersion, SavedAt: t0}
	if err := adapter.Save(context.Background(), state); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestFileAdapter_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.json")
	if err := os.WriteFile(path, []byte(`{"version": 99}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := persist.NewFileAdapter(path).Load(context.Background())
	if err == nil {
		t.Fatal("expected error for unsupported snapshot version")
	}
}

// memAdapter is an in-memory Adapter for exercising the tiered wrapper.
type memAdapter struct {
	state *persist.State
	fail  bool
	saves int
}

func (a *memAdapter) Save(_ context.Context, s *persist.State) error {
	if a.fail {
		return errors.New("adapter down")
	}
	a.saves++
	a.state = s
	return nil
}

func (a *memAdapter) Load(_ context.Context) (*persist.State, error) {
	if a.fail {
		return nil, errors.New("adapter down")
	}
	return a.state, nil
}

func TestTieredAdapter_SaveMirrorsToWarmTier(t *testing.T) {
	primary := &memAdapter{}
	warm := &memAdapter{}
	tiered := persist.NewTieredAdapter(primary, warm)

	state := &persist.State{Version: persist.SchemaVersion, SavedAt: t0}
	if err := tiered.Save(context.Background(), state); err != nil {
		t.Fatalf("save: %v", err)
	}
	if primary.saves != 1 || warm.saves != 1 {
		t.Errorf("saves primary %d warm %d, want 1/1", primary.saves, warm.saves)
	}
}

func TestTieredAdapter_WarmFailureIsNotFatal(t *testing.T) {
	primary := &memAdapter{}
	warm := &memAdapter{fail: true}
	tiered := persist.NewTieredAdapter(primary, warm)

	state := &persist.State{Version: persist.SchemaVersion, SavedAt: t0}
	if err := tiered.Save(context.Background(), state); err != nil {
		t.Fatalf("warm-tier failure must not fail the save: %v", err)
	}
	if primary.saves != 1 {
		t.Errorf("primary saves %d, want 1", primary.saves)
	}
}

func TestTieredAdapter_LoadFallsBackAndBackfills(t *testing.T) {
	state := &persist.State{Version: persist.SchemaVersion, SavedAt: t0}
	primary := &memAdapter{state: state}
	warm := &memAdapter{}
	tiered := persist.NewTieredAdapter(primary, warm)

	loaded, err := tiered.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || !loaded.SavedAt.Equal(t0) {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}
	if warm.saves != 1 {
		t.Errorf("expected warm-tier backfill, saves %d", warm.saves)
	}
}

// Package persist snapshots the whole engine state and restores it on
// startup. The in-memory ledger, market store, and bet book are the
// live system of record; adapters durably keep the latest snapshot in
// a file, PostgreSQL, or Redis.
package persist

import (
	"context"
	"time"

	"github.com/turfline/wager-engine/internal/ledger"
	"github.com/turfline/wager-engine/internal/market"
	"github.com/turfline/wager-engine/internal/model"
	"github.com/turfline/wager-engine/internal/wager"
)

// SchemaVersion marks the snapshot layout. Adapters refuse snapshots
// written by an incompatible engine.
const SchemaVersion = 1

// State is a complete point-in-time copy of the engine.
type State struct {
	Version      int                 `json:"version"`
	SavedAt      time.Time           `json:"saved_at"`
	Users        []model.UserAccount `json:"users"`
	Transactions []model.Transaction `json:"transactions"`
	Markets      []model.Market      `json:"markets"`
	Bets         []model.Bet         `json:"bets"`
}

// Adapter stores and retrieves engine snapshots. Load returns
// (nil, nil) when no snapshot exists yet.
type Adapter interface {
	Save(ctx context.Context, state *State) error
	Load(ctx context.Context) (*State, error)
}

// Capture assembles a snapshot from the live components.
func Capture(l *ledger.Ledger, markets *market.Store, bets *wager.BetBook) *State {
	users, txs := l.Snapshot()
	return &State{
		Version:      SchemaVersion,
		SavedAt:      time.Now().UTC(),
		Users:        users,
		Transactions: txs,
		Markets:      markets.Snapshot(),
		Bets:         bets.Snapshot(),
	}
}

// RestoreAll loads the snapshot back into the live components. Markets
// past their close time come back LOCKED regardless of the state they
// were saved in.
func RestoreAll(state *State, l *ledger.Ledger, markets *market.Store, bets *wager.BetBook) {
	l.Restore(state.Users, state.Transactions)
	markets.Restore(state.Markets)
	bets.Restore(state.Bets)
}

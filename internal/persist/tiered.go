package persist

import (
	"context"
	"log/slog"
)

// TieredAdapter writes snapshots to a primary (durable) adapter and
// mirrors them to a warm tier; loads try the warm tier first and fall
// back to the primary. A warm-tier failure is logged, never fatal.
type TieredAdapter struct {
	primary Adapter
	warm    Adapter
}

// NewTieredAdapter wraps primary with a warm read tier.
func NewTieredAdapter(primary, warm Adapter) *TieredAdapter {
	return &TieredAdapter{primary: primary, warm: warm}
}

func (a *TieredAdapter) Save(ctx context.Context, state *State) error {
	if err := a.primary.Save(ctx, state); err != nil {
		return err
	}
	if err := a.warm.Save(ctx, state); err != nil {
		slog.Warn("warm-tier snapshot write failed", "err", err)
	}
	return nil
}

func (a *TieredAdapter) Load(ctx context.Context) (*State, error) {
	state, err := a.warm.Load(ctx)
	if err == nil && state != nil {
		return state, nil
	}
	if err != nil {
		slog.Warn("warm-tier snapshot read failed", "err", err)
	}

	state, err = a.primary.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state != nil {
		// Re-populate the warm tier for the next restart.
		if werr := a.warm.Save(ctx, state); werr != nil {
			slog.Warn("warm-tier snapshot backfill failed", "err", werr)
		}
	}
	return state, nil
}

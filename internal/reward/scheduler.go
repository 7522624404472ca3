// Package reward periodically credits idle users a flat-rate allowance.
//
// The periodic tick and the on-demand catch-up (triggered at login)
// share one code path in the ledger, so the two can never diverge: both
// credit whole elapsed intervals and advance the user's reward clock by
// exactly what was credited.
package reward

import (
	"context"
	"log/slog"
	"time"

	"github.com/turfline/wager-engine/internal/ledger"
	"github.com/turfline/wager-engine/internal/metrics"
)

// Scheduler drives idle-reward distribution through the ledger.
type Scheduler struct {
	ledger      *ledger.Ledger
	interval    time.Duration // reward accrual interval
	perInterval int64         // amount credited per interval
}

// NewScheduler creates a reward scheduler. interval is how long a user
// must be idle to accrue one allowance of perInterval units.
func NewScheduler(l *ledger.Ledger, interval time.Duration, perInterval int64) *Scheduler {
	return &Scheduler{ledger: l, interval: interval, perInterval: perInterval}
}

// Tick applies pending rewards to every user as of now, returning the
// total amount credited.
func (s *Scheduler) Tick(now time.Time) int64 {
	var credited int64
	for _, id := range s.ledger.UserIDs() {
		missed, err := s.ledger.ApplyRewards(id, now, s.interval, s.perInterval)
		if err != nil {
			slog.Error("reward tick failed", "user", id, "err", err)
			continue
		}
		credited += int64(missed) * s.perInterval
	}
	if credited > 0 {
		metrics.RewardsCreditedTotal.Add(float64(credited))
		slog.Info("rewards credited", "amount", credited)
	}
	return credited
}

// ApplyPending catches one user up on demand, using the same formula as
// the periodic tick. Returns the amount credited.
func (s *Scheduler) ApplyPending(userID string) (int64, error) {
	missed, err := s.ledger.ApplyRewards(userID, time.Now().UTC(), s.interval, s.perInterval)
	if err != nil {
		return 0, err
	}
	amount := int64(missed) * s.perInterval
	if amount > 0 {
		metrics.RewardsCreditedTotal.Add(float64(amount))
	}
	return amount, nil
}

// Run ticks on the given cadence until ctx is cancelled. The cadence
// may be coarser or finer than the reward interval; the whole-interval
// accounting makes the outcome identical either way.
func (s *Scheduler) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now.UTC())
		}
	}
}

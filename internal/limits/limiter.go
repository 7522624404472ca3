// Package limits enforces stake limits: a cap on any single stake and a
// cap on a user's aggregate exposure to one market. Both protect the
// pool from a single account dominating a market's pricing.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrStakeTooLarge is returned when a single stake exceeds the
	// per-bet maximum.
	ErrStakeTooLarge = errors.New("limits: stake exceeds per-bet maximum")

	// ErrMarketExposureExceeded is returned when a stake would push the
	// user's total exposure to one market beyond the maximum.
	ErrMarketExposureExceeded = errors.New("limits: market exposure limit exceeded")
)

// StakeLimiter validates stakes against configured maxima. A zero
// maximum disables that check.
type StakeLimiter struct {
	// MaxPerBet is the largest single stake accepted.
	MaxPerBet int64

	// MaxPerMarket is the largest aggregate stake one user may have
	// across all options of a single market.
	MaxPerMarket int64
}

// NewStakeLimiter creates a limiter with the given per-bet and
// per-market maxima.
func NewStakeLimiter(maxPerBet, maxPerMarket int64) *StakeLimiter {
	return &StakeLimiter{MaxPerBet: maxPerBet, MaxPerMarket: maxPerMarket}
}

// Check validates a stake given the user's existing exposure to the
// target market. Returns nil if the stake is within limits.
func (l *StakeLimiter) Check(stake, existingExposure int64) error {
	if l == nil {
		return nil
	}
	if l.MaxPerBet > 0 && stake > l.MaxPerBet {
		return ErrStakeTooLarge
	}
	if l.MaxPerMarket > 0 && existingExposure+stake > l.MaxPerMarket {
		return ErrMarketExposureExceeded
	}
	return nil
}

// Utilization reports the share of the per-market limit a user has
// consumed, as a percentage rounded to two decimals. Returns zero when
// the per-market limit is disabled.
func (l *StakeLimiter) Utilization(existingExposure int64) decimal.Decimal {
	if l == nil || l.MaxPerMarket <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(existingExposure).
		Div(decimal.NewFromInt(l.MaxPerMarket)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

package wager

import (
	"fmt"
	"log/slog"

	"github.com/turfline/wager-engine/internal/metrics"
	"github.com/turfline/wager-engine/internal/model"
)

// SettlementReport summarizes one settlement run.
type SettlementReport struct {
	MarketID        string `json:"market_id"`
	WinningOptionID string `json:"winning_option_id"`
	BetsResolved    int    `json:"bets_resolved"`
	Winners         int    `json:"winners"`
	TotalPaid       int64  `json:"total_paid"`
}

// Settle closes the market on the winning option and resolves every
// outstanding bet: winners are credited their potential payout, losers
// get an amount-zero STAKE_LOST audit entry (their stake left the
// balance at placement).
//
// Settlement is idempotent and crash-resumable: only bets still ACTIVE
// are touched, and the ACTIVE guard in the bet book means a re-run
// after a conflict-free repeat call or a mid-loop crash never pays a
// bet twice. The market lock is held across the close and the resolve
// loop, so concurrent settlement runs cannot snapshot overlapping
// ACTIVE sets and double-pay, and a bet placement cannot land its stake
// in the pool between the close and the loop.
func (s *Service) Settle(marketID, winningOptionID string) (SettlementReport, error) {
	mu := s.marketLock(marketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := s.markets.Close(marketID, winningOptionID)
	if err != nil {
		return SettlementReport{}, err
	}

	report := SettlementReport{
		MarketID:        marketID,
		WinningOptionID: winningOptionID,
	}
	now := s.clock()

	for _, bet := range s.bets.ActiveByMarket(marketID) {
		if bet.OptionID == winningOptionID {
			desc := fmt.Sprintf("won %q", m.Title)
			if err := s.ledger.Credit(bet.UserID, bet.PotentialPayout, model.TxStakeWon, desc); err != nil {
				slog.Error("payout credit failed",
					"bet_id", bet.ID, "user", bet.UserID, "market", marketID, "err", err)
				continue // bet stays ACTIVE; a re-run picks it up
			}
			if s.bets.Resolve(bet.ID, bet.PotentialPayout, now) {
				report.Winners++
				report.TotalPaid += bet.PotentialPayout
				report.BetsResolved++
				metrics.PayoutsTotal.Add(float64(bet.PotentialPayout))
			}
			continue
		}

		desc := fmt.Sprintf("lost %q", m.Title)
		if err := s.ledger.Credit(bet.UserID, 0, model.TxStakeLost, desc); err != nil {
			slog.Error("loss record failed",
				"bet_id", bet.ID, "user", bet.UserID, "market", marketID, "err", err)
			continue
		}
		if s.bets.Resolve(bet.ID, 0, now) {
			report.BetsResolved++
		}
	}

	metrics.SettlementsTotal.Inc()

	slog.Info("market settled",
		"market", marketID,
		"winner", winningOptionID,
		"bets_resolved", report.BetsResolved,
		"winners", report.Winners,
		"total_paid", report.TotalPaid,
	)

	s.broadcastPrices(marketID, "market_settled")
	return report, nil
}

// Package model defines the core domain types shared across the wagering
// engine. All monetary values are integer currency units, never floats.
package model

import "time"

// MarketState is the lifecycle state of a market.
// Transitions: OPEN -> LOCKED (close time or subject date passes),
// LOCKED -> SETTLED (explicit settlement with a winning option).
type MarketState string

const (
	StateOpen    MarketState = "OPEN"
	StateLocked  MarketState = "LOCKED"
	StateSettled MarketState = "SETTLED"
)

// BetStatus is the lifecycle state of a bet. SETTLED is terminal.
type BetStatus string

const (
	BetActive  BetStatus = "ACTIVE"
	BetSettled BetStatus = "SETTLED"
)

// TxType classifies ledger transactions.
type TxType string

const (
	TxSignupBonus   TxType = "SIGNUP_BONUS"
	TxStakePlaced   TxType = "STAKE_PLACED"
	TxStakeRefunded TxType = "STAKE_REFUNDED"
	TxStakeWon      TxType = "STAKE_WON"
	TxStakeLost     TxType = "STAKE_LOST"
	TxReward        TxType = "REWARD"
)

// UserAccount holds a user's balance and betting statistics.
// Balance is mutated only by the ledger; accounts are deactivated,
// never deleted.
type UserAccount struct {
	ID            string    `json:"id" db:"id"`
	Username      string    `json:"username" db:"username"`
	Email         string    `json:"email" db:"email"`
	Balance       int64     `json:"balance" db:"balance"`
	TotalBets     int       `json:"total_bets" db:"total_bets"`
	TotalWinnings int64     `json:"total_winnings" db:"total_winnings"`
	WonBets       int       `json:"won_bets" db:"won_bets"`
	SettledBets   int       `json:"settled_bets" db:"settled_bets"`
	WinRate       int       `json:"win_rate" db:"win_rate"` // 0–100, wonBets/settledBets
	JoinDate      time.Time `json:"join_date" db:"join_date"`
	LastRewardAt  time.Time `json:"last_reward_at" db:"last_reward_at"`
	IsActive      bool      `json:"is_active" db:"is_active"`
}

// Market is a single bettable proposition over two or more mutually
// exclusive options, tied to a real-world subject (e.g. a race).
type Market struct {
	ID              string         `json:"id" db:"id"`
	Title           string         `json:"title" db:"title"`
	Description     string         `json:"description" db:"description"`
	Category        string         `json:"category" db:"category"`
	SubjectID       string         `json:"subject_id" db:"subject_id"`
	SubjectName     string         `json:"subject_name" db:"subject_name"`
	SubjectDate     time.Time      `json:"subject_date" db:"subject_date"`
	Options         []MarketOption `json:"options"`
	TotalVolume     int64          `json:"total_volume" db:"total_volume"`
	TotalBets       int            `json:"total_bets" db:"total_bets"`
	State           MarketState    `json:"state" db:"state"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	ClosesAt        time.Time      `json:"closes_at" db:"closes_at"`
	SettledAt       *time.Time     `json:"settled_at,omitempty" db:"settled_at"`
	WinningOptionID string         `json:"winning_option_id,omitempty" db:"winning_option_id"`
}

// MarketOption is one outcome of a market. CurrentPrice is the implied
// probability (0–100) derived from the option's share of pooled stake;
// the option prices of a market always sum to 100.
type MarketOption struct {
	ID           string `json:"id" db:"id"`
	MarketID     string `json:"market_id" db:"market_id"`
	Title        string `json:"title" db:"title"`
	CurrentPrice int    `json:"current_price" db:"current_price"`
	TotalVolume  int64  `json:"total_volume" db:"total_volume"`
	TotalBets    int    `json:"total_bets" db:"total_bets"`
	IsWinning    bool   `json:"is_winning" db:"is_winning"` // meaningful only after settlement
}

// Bet is a user's stake on one option, priced at placement time.
// Bets are never deleted; settlement flips Status to SETTLED.
type Bet struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	MarketID         string     `json:"market_id" db:"market_id"`
	OptionID         string     `json:"option_id" db:"option_id"`
	Stake            int64      `json:"stake" db:"stake"`
	PriceAtPlacement int        `json:"price_at_placement" db:"price_at_placement"`
	PotentialPayout  int64      `json:"potential_payout" db:"potential_payout"`
	Status           BetStatus  `json:"status" db:"status"`
	PlacedAt         time.Time  `json:"placed_at" db:"placed_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty" db:"settled_at"`
	Payout           int64      `json:"payout" db:"payout"` // credited amount, winners only
}

// Transaction is an immutable ledger record. Amount is signed:
// negative for debits, positive for credits, zero for audit-only
// entries (a lost stake was already debited at placement).
type Transaction struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Type        TxType    `json:"type" db:"type"`
	Amount      int64     `json:"amount" db:"amount"`
	Description string    `json:"description" db:"description"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

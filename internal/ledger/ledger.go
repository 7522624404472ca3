// Package ledger owns user balances and the append-only transaction
// log. It is the only component allowed to mutate balances; every
// mutation appends a transaction, so for any user
//
//	balance == Σ transaction.amount
//
// holds at all times (accounts open at zero and receive their starting
// balance as a SIGNUP_BONUS credit).
//
// Locking is per account: two users' mutations never contend, while the
// read-check-write sequence for a single balance is atomic.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turfline/wager-engine/internal/model"
)

var (
	// ErrUnknownUser is returned for operations on a user id that was
	// never registered.
	ErrUnknownUser = errors.New("ledger: unknown user")

	// ErrInsufficientBalance is returned when a debit exceeds the
	// user's balance. The balance is left untouched.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidAmount is returned for non-positive debit/credit amounts
	// on operations that require one.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInactiveUser is returned when mutating a deactivated account.
	ErrInactiveUser = errors.New("ledger: user is deactivated")
)

// account pairs a user record with its own mutex so balance mutations
// serialize per user, not globally.
type account struct {
	mu   sync.Mutex
	user model.UserAccount
}

// Ledger is the in-memory balance and transaction authority.
type Ledger struct {
	mu       sync.RWMutex // guards the accounts map, not the accounts
	accounts map[string]*account

	logMu sync.Mutex
	log   []model.Transaction

	signupBonus int64
	clock       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New creates a ledger. signupBonus is credited to every new account as
// its starting balance.
func New(signupBonus int64, opts ...Option) *Ledger {
	l := &Ledger{
		accounts:    make(map[string]*account),
		signupBonus: signupBonus,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateUser registers a new account with the fixed starting balance
// and records the signup bonus transaction.
func (l *Ledger) CreateUser(username, email string) (model.UserAccount, error) {
	now := l.clock()
	acct := &account{user: model.UserAccount{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		Balance:      l.signupBonus,
		JoinDate:     now,
		LastRewardAt: now,
		IsActive:     true,
	}}

	l.mu.Lock()
	l.accounts[acct.user.ID] = acct
	l.mu.Unlock()

	l.append(model.Transaction{
		ID:          uuid.New().String(),
		UserID:      acct.user.ID,
		Type:        model.TxSignupBonus,
		Amount:      l.signupBonus,
		Description: "signup bonus",
		Timestamp:   now,
	})

	return acct.user, nil
}

// lookup returns the account for id, or ErrUnknownUser.
func (l *Ledger) lookup(id string) (*account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	return a, nil
}

// Debit atomically checks sufficiency and removes a stake from the
// user's balance, recording a STAKE_PLACED transaction and bumping the
// bet counter. Fails without side effects on insufficient balance.
func (l *Ledger) Debit(userID string, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a, err := l.lookup(userID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.user.IsActive {
		return fmt.Errorf("%w: %s", ErrInactiveUser, userID)
	}
	if amount > a.user.Balance {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, amount, a.user.Balance)
	}

	a.user.Balance -= amount
	a.user.TotalBets++

	l.append(model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        model.TxStakePlaced,
		Amount:      -amount,
		Description: description,
		Timestamp:   l.clock(),
	})
	return nil
}

// Refund reverses a stake debit whose placement could not complete (the
// compensating action for a market rejecting the stake after the debit).
// The bet counter is rolled back alongside the balance.
func (l *Ledger) Refund(userID string, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a, err := l.lookup(userID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.user.Balance += amount
	if a.user.TotalBets > 0 {
		a.user.TotalBets--
	}

	l.append(model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        model.TxStakeRefunded,
		Amount:      amount,
		Description: description,
		Timestamp:   l.clock(),
	})
	return nil
}

// Credit adds amount to the user's balance and appends a transaction.
// STAKE_WON updates the winnings total and the win rate; STAKE_LOST is
// an amount-zero audit entry that only advances the settled-bet count
// (the stake left the balance at placement).
func (l *Ledger) Credit(userID string, amount int64, txType model.TxType, description string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	a, err := l.lookup(userID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.user.Balance += amount

	switch txType {
	case model.TxStakeWon:
		a.user.TotalWinnings += amount
		a.user.WonBets++
		a.user.SettledBets++
		a.user.WinRate = winRate(a.user.WonBets, a.user.SettledBets)
	case model.TxStakeLost:
		a.user.SettledBets++
		a.user.WinRate = winRate(a.user.WonBets, a.user.SettledBets)
	}

	l.append(model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Description: description,
		Timestamp:   l.clock(),
	})
	return nil
}

// ApplyRewards credits every full reward interval elapsed since the
// user's last reward, advancing LastRewardAt by exactly the credited
// intervals, never snapping to now, so an irregular scheduler cadence
// neither drifts nor double-credits. Returns the number of intervals
// credited (0 when none are due or the account is inactive).
func (l *Ledger) ApplyRewards(userID string, now time.Time, interval time.Duration, perInterval int64) (int, error) {
	if interval <= 0 || perInterval <= 0 {
		return 0, ErrInvalidAmount
	}
	a, err := l.lookup(userID)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.user.IsActive {
		return 0, nil
	}

	elapsed := now.Sub(a.user.LastRewardAt)
	if elapsed < interval {
		return 0, nil
	}
	missed := int(elapsed / interval)

	amount := int64(missed) * perInterval
	a.user.Balance += amount
	a.user.LastRewardAt = a.user.LastRewardAt.Add(time.Duration(missed) * interval)

	l.append(model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        model.TxReward,
		Amount:      amount,
		Description: fmt.Sprintf("idle reward x%d", missed),
		Timestamp:   now,
	})
	return missed, nil
}

// BalanceOf returns the user's current balance.
func (l *Ledger) BalanceOf(userID string) (int64, error) {
	a, err := l.lookup(userID)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.Balance, nil
}

// User returns a copy of the user record.
func (l *Ledger) User(userID string) (model.UserAccount, error) {
	a, err := l.lookup(userID)
	if err != nil {
		return model.UserAccount{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user, nil
}

// UserIDs returns all registered user ids.
func (l *Ledger) UserIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deactivate marks the account inactive. Accounts are never deleted.
func (l *Ledger) Deactivate(userID string) error {
	a, err := l.lookup(userID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.IsActive = false
	return nil
}

// TransactionsOf returns the user's transactions in append order.
func (l *Ledger) TransactionsOf(userID string) []model.Transaction {
	l.logMu.Lock()
	defer l.logMu.Unlock()

	var out []model.Transaction
	for _, tx := range l.log {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out
}

// Snapshot returns copies of all accounts and the full transaction log
// for the persistence adapter.
func (l *Ledger) Snapshot() ([]model.UserAccount, []model.Transaction) {
	l.mu.RLock()
	users := make([]model.UserAccount, 0, len(l.accounts))
	for _, a := range l.accounts {
		a.mu.Lock()
		users = append(users, a.user)
		a.mu.Unlock()
	}
	l.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	l.logMu.Lock()
	log := make([]model.Transaction, len(l.log))
	copy(log, l.log)
	l.logMu.Unlock()

	return users, log
}

// Restore replaces the ledger's state with a loaded snapshot.
func (l *Ledger) Restore(users []model.UserAccount, log []model.Transaction) {
	l.mu.Lock()
	l.accounts = make(map[string]*account, len(users))
	for _, u := range users {
		l.accounts[u.ID] = &account{user: u}
	}
	l.mu.Unlock()

	l.logMu.Lock()
	l.log = make([]model.Transaction, len(log))
	copy(l.log, log)
	l.logMu.Unlock()
}

func (l *Ledger) append(tx model.Transaction) {
	l.logMu.Lock()
	l.log = append(l.log, tx)
	l.logMu.Unlock()
}

func winRate(won, settled int) int {
	if settled == 0 {
		return 0
	}
	return won * 100 / settled
}

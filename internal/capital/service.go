// Package capital tracks account funds. The order path only reads through the
// Service interface; the ledger implementations append every movement so the
// balance can always be rebuilt from history.
package capital

import "time"

// EntryType classifies a ledger movement.
type EntryType string

const (
	EntryDeposit    EntryType = "DEPOSIT"
	EntryWithdrawal EntryType = "WITHDRAWAL"
	EntryTradePnL   EntryType = "TRADE_PNL"
)

// LedgerEntry is one capital movement.
type LedgerEntry struct {
	ID        string
	Type      EntryType
	Amount    float64
	Reason    string
	RefID     string
	Timestamp time.Time
}

// Snapshot is a single consistent read of the account, taken once per order
// preview so every derived number in the preview shares the same basis.
type Snapshot struct {
	Total     float64
	Available float64
	Deployed  float64
	TakenAt   time.Time
}

// Service is the read/write surface the trading components depend on.
type Service interface {
	// Snapshot returns one consistent view of total and available capital.
	Snapshot() (Snapshot, error)

	// Deposit adds funds. Amount must be positive.
	Deposit(amount float64, reason string) error

	// Withdraw removes funds. Fails when amount exceeds available capital.
	Withdraw(amount float64, reason string) error

	// RecordTradePnL applies a realized trade result, negative for losses.
	RecordTradePnL(amount float64, orderID string) error

	// Deploy reserves capital against an open position; Release frees it.
	Deploy(amount float64) error
	Release(amount float64) error
}

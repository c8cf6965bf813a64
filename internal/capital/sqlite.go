package capital

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS capital_ledger (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	amount     REAL NOT NULL,
	reason     TEXT,
	ref_id     TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_created_at ON capital_ledger(created_at);
`

// SQLiteService persists the capital ledger to SQLite. The running balance is
// the sum of ledger amounts; deployed margin is tracked in memory because it
// resets with the process.
type SQLiteService struct {
	mu       sync.Mutex
	db       *sql.DB
	total    float64
	deployed float64
	clock    func() time.Time
}

// NewSQLiteService opens (or creates) the ledger at path. When the ledger is
// empty and initial is positive, an opening deposit is written.
func NewSQLiteService(path string, initial float64) (*SQLiteService, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteService{db: db, clock: time.Now}

	var total sql.NullFloat64
	var count int
	if err := db.QueryRow(`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM capital_ledger`).Scan(&total, &count); err != nil {
		db.Close()
		return nil, err
	}
	s.total = total.Float64

	if count == 0 && initial > 0 {
		if err := s.insert(EntryDeposit, initial, "initial capital", ""); err != nil {
			db.Close()
			return nil, err
		}
		s.total = initial
	}

	return s, nil
}

func (s *SQLiteService) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Total:     s.total,
		Available: s.total - s.deployed,
		Deployed:  s.deployed,
		TakenAt:   s.clock(),
	}, nil
}

func (s *SQLiteService) Deposit(amount float64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %.2f", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insert(EntryDeposit, amount, reason, ""); err != nil {
		return err
	}
	s.total += amount
	return nil
}

func (s *SQLiteService) Withdraw(amount float64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("withdrawal amount must be positive, got %.2f", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.total-s.deployed {
		return fmt.Errorf("withdrawal %.2f exceeds available capital %.2f", amount, s.total-s.deployed)
	}
	if err := s.insert(EntryWithdrawal, -amount, reason, ""); err != nil {
		return err
	}
	s.total -= amount
	return nil
}

func (s *SQLiteService) RecordTradePnL(amount float64, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insert(EntryTradePnL, amount, "realized trade result", orderID); err != nil {
		return err
	}
	s.total += amount
	return nil
}

func (s *SQLiteService) Deploy(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("deploy amount must be positive, got %.2f", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.total-s.deployed {
		return fmt.Errorf("deploy %.2f exceeds available capital %.2f", amount, s.total-s.deployed)
	}
	s.deployed += amount
	return nil
}

func (s *SQLiteService) Release(amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.deployed {
		amount = s.deployed
	}
	s.deployed -= amount
	return nil
}

// History returns the most recent ledger entries, newest first.
func (s *SQLiteService) History(limit int) ([]LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, type, amount, reason, ref_id, created_at
		FROM capital_ledger ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.Amount, &e.Reason, &e.RefID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = EntryType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteService) Close() error {
	return s.db.Close()
}

// insert must be called with the lock held.
func (s *SQLiteService) insert(t EntryType, amount float64, reason, refID string) error {
	_, err := s.db.Exec(`
		INSERT INTO capital_ledger (id, type, amount, reason, ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(t), amount, reason, refID, s.clock())
	return err
}

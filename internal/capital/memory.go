package capital

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryService is an in-memory Service used by tests and dry runs.
type MemoryService struct {
	mu       sync.Mutex
	total    float64
	deployed float64
	ledger   []LedgerEntry
	clock    func() time.Time
}

func NewMemoryService(initial float64) *MemoryService {
	s := &MemoryService{clock: time.Now}
	if initial > 0 {
		s.total = initial
		s.ledger = append(s.ledger, LedgerEntry{
			ID:        uuid.NewString(),
			Type:      EntryDeposit,
			Amount:    initial,
			Reason:    "initial capital",
			Timestamp: s.clock(),
		})
	}
	return s
}

func (s *MemoryService) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Total:     s.total,
		Available: s.total - s.deployed,
		Deployed:  s.deployed,
		TakenAt:   s.clock(),
	}, nil
}

func (s *MemoryService) Deposit(amount float64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %.2f", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += amount
	s.append(EntryDeposit, amount, reason, "")
	return nil
}

func (s *MemoryService) Withdraw(amount float64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("withdrawal amount must be positive, got %.2f", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.total-s.deployed {
		return fmt.Errorf("withdrawal %.2f exceeds available capital %.2f", amount, s.total-s.deployed)
	}
	s.total -= amount
	s.append(EntryWithdrawal, -amount, reason, "")
	return nil
}

func (s *MemoryService) RecordTradePnL(amount float64, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += amount
	s.append(EntryTradePnL, amount, "realized trade result", orderID)
	return nil
}

func (s *MemoryService) Deploy(amount float64) error {
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

func (s *MemoryService) Release(amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.deployed {
		amount = s.deployed
	}
	s.deployed -= amount
	return nil
}

// Ledger returns a copy of all movements in order.
func (s *MemoryService) Ledger() []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LedgerEntry, len(s.ledger))
	copy(out, s.ledger)
	return out
}

// append must be called with the lock held.
func (s *MemoryService) append(t EntryType, amount float64, reason, refID string) {
	s.ledger = append(s.ledger, LedgerEntry{
		ID:        uuid.NewString(),
		Type:      t,
		Amount:    amount,
		Reason:    reason,
		RefID:     refID,
		Timestamp: s.clock(),
	})
}

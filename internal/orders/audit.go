package orders

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// AuditEntry is one append-only record of an order action.
type AuditEntry struct {
	ID        string
	OrderID   string
	Action    string
	Details   map[string]interface{}
	Timestamp time.Time
}

// AuditLog records every order action. Implementations must be append-only.
type AuditLog interface {
	Record(orderID, action string, details map[string]interface{})
	Recent(limit int) []AuditEntry
}

// MemoryAuditLog keeps entries in memory, for tests and dry runs.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	clock   func() time.Time
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{clock: time.Now}
}

func (a *MemoryAuditLog) Record(orderID, action string, details map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, AuditEntry{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Action:    action,
		Details:   details,
		Timestamp: a.clock(),
	})
}

func (a *MemoryAuditLog) Recent(limit int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := len(a.entries) - limit
	if start < 0 {
		start = 0
	}
	out := make([]AuditEntry, len(a.entries)-start)
	copy(out, a.entries[start:])
	return out
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS order_audit (
	id         TEXT PRIMARY KEY,
	order_id   TEXT NOT NULL,
	action     TEXT NOT NULL,
	details    TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_order_id ON order_audit(order_id);
`

// SQLiteAuditLog persists the audit trail. Write failures are logged, never
// propagated: an audit problem must not block an order action.
type SQLiteAuditLog struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLiteAuditLog(path string) (*SQLiteAuditLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteAuditLog{db: db, clock: time.Now}, nil
}

func (a *SQLiteAuditLog) Record(orderID, action string, details map[string]interface{}) {
	payload, err := json.Marshal(details)
	if err != nil {
		log.Printf("audit: failed to encode details for %s: %v", orderID, err)
		payload = []byte("{}")
	}
	_, err = a.db.Exec(`
		INSERT INTO order_audit (id, order_id, action, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), orderID, action, string(payload), a.clock())
	if err != nil {
		log.Printf("audit: failed to record %s for %s: %v", action, orderID, err)
	}
}

func (a *SQLiteAuditLog) Recent(limit int) []AuditEntry {
	rows, err := a.db.Query(`
		SELECT id, order_id, action, details, created_at
		FROM order_audit ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		log.Printf("audit: query failed: %v", err)
		return nil
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var details string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Action, &details, &e.Timestamp); err != nil {
			log.Printf("audit: scan failed: %v", err)
			return entries
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			e.Details = map[string]interface{}{"raw": details}
		}
		entries = append(entries, e)
	}
	return entries
}

func (a *SQLiteAuditLog) Close() error {
	return a.db.Close()
}

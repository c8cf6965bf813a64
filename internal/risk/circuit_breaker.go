package risk

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/quantsphere/fno-trading-bot/internal/clock"
)

// BreakerStatus represents the daily-loss state of the circuit breaker
type BreakerStatus int

const (
	StatusNormal BreakerStatus = iota
	StatusCaution
	StatusWarning
	StatusTriggered
	StatusEmergency
	StatusOverridden
)

// String returns the string representation of the breaker status
func (s BreakerStatus) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusCaution:
		return "CAUTION"
	case StatusWarning:
		return "WARNING"
	case StatusTriggered:
		return "TRIGGERED"
	case StatusEmergency:
		return "EMERGENCY"
	case StatusOverridden:
		return "OVERRIDDEN"
	default:
		return "UNKNOWN"
	}
}

// Alert thresholds as percent of the daily loss limit.
const (
	cautionThreshold   = 50.0
	warningThreshold   = 80.0
	triggeredThreshold = 100.0
)

// CircuitBreakerConfig holds configuration for the daily-loss circuit breaker
type CircuitBreakerConfig struct {
	Capital          float64 // account capital the limit is derived from
	DailyLossPercent float64 // loss limit as percent of capital
	OverrideHash     string  // hex SHA-256 of the override password
	Clock            clock.Clock
}

// OverrideAudit is one audit entry for an override attempt or emergency action.
type OverrideAudit struct {
	Action    string
	Reason    string
	Accepted  bool
	Status    BreakerStatus
	Timestamp time.Time
}

// dailyLossState is the per-date mutable state. Exactly one exists at a time;
// it is replaced wholesale on day rollover.
type dailyLossState struct {
	date           time.Time
	realizedPnL    float64
	unrealizedPnL  float64
	peakPnL        float64
	troughPnL      float64
	breachCount    int
	overrideActive bool
	overrideReason string
	overrideAt     time.Time
	triggeredAt    time.Time
	firedEdges     map[BreakerStatus]bool
}

// CircuitBreaker blocks new orders once the daily loss crosses a
// capital-derived limit. Thresholds at 50/80/100 percent of the limit move
// the status through CAUTION, WARNING and TRIGGERED; each edge fires its
// registered callback exactly once per day.
type CircuitBreaker struct {
	mu        sync.Mutex
	config    CircuitBreakerConfig
	status    BreakerStatus
	day       *dailyLossState
	callbacks map[BreakerStatus][]func(BreakerStatus)
	auditLog  []OverrideAudit
	onAudit   func(OverrideAudit)
}

// NewCircuitBreaker creates a circuit breaker for the given capital and limit.
func NewCircuitBreaker(config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config.Capital <= 0 {
		return nil, fmt.Errorf("capital must be positive, got %.2f", config.Capital)
	}
	if config.DailyLossPercent <= 0 || config.DailyLossPercent > 20 {
		return nil, fmt.Errorf("daily loss percent must be in (0, 20], got %.2f", config.DailyLossPercent)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	cb := &CircuitBreaker{
		config:    config,
		status:    StatusNormal,
		callbacks: make(map[BreakerStatus][]func(BreakerStatus)),
	}
	cb.day = cb.freshDay(config.Clock.Now())
	return cb, nil
}

// RegisterCallback registers fn to fire when status is first entered on a
// given day. Callbacks run outside the breaker's lock.
func (cb *CircuitBreaker) RegisterCallback(status BreakerStatus, fn func(BreakerStatus)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.callbacks[status] = append(cb.callbacks[status], fn)
}

// SetAuditSink routes override audit entries to an external log in addition
// to the in-memory history.
func (cb *CircuitBreaker) SetAuditSink(fn func(OverrideAudit)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onAudit = fn
}

// DailyLossLimit returns the absolute daily loss limit.
func (cb *CircuitBreaker) DailyLossLimit() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.limit()
}

// limit must be called with the lock held.
func (cb *CircuitBreaker) limit() float64 {
	return cb.config.Capital * cb.config.DailyLossPercent / 100.0
}

// UpdatePnL records the current realized and unrealized P&L and recomputes
// the breaker status. Threshold callbacks fire after the lock is released.
func (cb *CircuitBreaker) UpdatePnL(realized, unrealized float64) BreakerStatus {
	cb.mu.Lock()

	cb.rolloverLocked()

	cb.day.realizedPnL = realized
	cb.day.unrealizedPnL = unrealized

	total := realized + unrealized
	if total > cb.day.peakPnL {
		cb.day.peakPnL = total
	}
	if total < cb.day.troughPnL {
		cb.day.troughPnL = total
	}

	newStatus := cb.statusForLossLocked(total)

	// Manual escalation and an active override stick until rollover or reset.
	if cb.status == StatusEmergency {
		newStatus = StatusEmergency
	} else if cb.day.overrideActive && newStatus == StatusTriggered {
		newStatus = StatusOverridden
	}

	var fired []func(BreakerStatus)
	if newStatus != cb.status {
		if newStatus == StatusTriggered {
			cb.day.breachCount++
			cb.day.triggeredAt = cb.config.Clock.Now()
		}
		cb.status = newStatus
		if !cb.day.firedEdges[newStatus] {
			cb.day.firedEdges[newStatus] = true
			fired = append(fired, cb.callbacks[newStatus]...)
		}
	}

	status := cb.status
	cb.mu.Unlock()

	for _, fn := range fired {
		fn(status)
	}
	return status
}

// statusForLossLocked maps a total P&L to a threshold status.
func (cb *CircuitBreaker) statusForLossLocked(total float64) BreakerStatus {
	if total >= 0 {
		return StatusNormal
	}
	lossPct := -total / cb.limit() * 100.0
	switch {
	case lossPct >= triggeredThreshold:
		return StatusTriggered
	case lossPct >= warningThreshold:
		return StatusWarning
	case lossPct >= cautionThreshold:
		return StatusCaution
	default:
		return StatusNormal
	}
}

// IsBlocked reports whether new orders must be refused.
func (cb *CircuitBreaker) IsBlocked() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rolloverLocked()
	if cb.status == StatusEmergency {
		return true
	}
	return cb.status == StatusTriggered && !cb.day.overrideActive
}

// Status returns the current breaker status after a lazy rollover check.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rolloverLocked()
	return cb.status
}

// RequestOverride attempts to unblock a TRIGGERED breaker. The reason is
// mandatory and the attempt is audited whether or not the password matches.
func (cb *CircuitBreaker) RequestOverride(password, reason string) (bool, error) {
	if reason == "" {
		return false, fmt.Errorf("override reason is mandatory")
	}

	cb.mu.Lock()
	cb.rolloverLocked()

	accepted := false
	if cb.status == StatusTriggered && cb.verifyPassword(password) {
		cb.day.overrideActive = true
		cb.day.overrideReason = reason
		cb.day.overrideAt = cb.config.Clock.Now()
		cb.status = StatusOverridden
		accepted = true
	}

	entry := OverrideAudit{
		Action:    "OVERRIDE_REQUEST",
		Reason:    reason,
		Accepted:  accepted,
		Status:    cb.status,
		Timestamp: cb.config.Clock.Now(),
	}
	cb.auditLog = append(cb.auditLog, entry)
	sink := cb.onAudit
	cb.mu.Unlock()

	if sink != nil {
		sink(entry)
	}

	if !accepted {
		return false, fmt.Errorf("override denied")
	}
	return true, nil
}

func (cb *CircuitBreaker) verifyPassword(password string) bool {
	if cb.config.OverrideHash == "" {
		return false
	}
	sum := sha256.Sum256([]byte(password))
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(cb.config.OverrideHash)) == 1
}

// TriggerEmergencyExit escalates to EMERGENCY regardless of P&L. The action
// is audited and the matching callback fires once.
func (cb *CircuitBreaker) TriggerEmergencyExit(reason string) {
	cb.mu.Lock()
	cb.rolloverLocked()

	var fired []func(BreakerStatus)
	if cb.status != StatusEmergency {
		cb.status = StatusEmergency
		cb.day.overrideActive = false
		if !cb.day.firedEdges[StatusEmergency] {
			cb.day.firedEdges[StatusEmergency] = true
			fired = append(fired, cb.callbacks[StatusEmergency]...)
		}
	}

	entry := OverrideAudit{
		Action:    "EMERGENCY_EXIT",
		Reason:    reason,
		Accepted:  true,
		Status:    cb.status,
		Timestamp: cb.config.Clock.Now(),
	}
	cb.auditLog = append(cb.auditLog, entry)
	sink := cb.onAudit
	cb.mu.Unlock()

	if sink != nil {
		sink(entry)
	}
	for _, fn := range fired {
		fn(StatusEmergency)
	}
}

// SetDailyLossPercent changes the loss limit for subsequent updates.
func (cb *CircuitBreaker) SetDailyLossPercent(p float64) error {
	if p <= 0 || p > 20 {
		return fmt.Errorf("daily loss percent must be in (0, 20], got %.2f", p)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.config.DailyLossPercent = p
	return nil
}

// SetCapital updates the capital basis for the loss limit.
func (cb *CircuitBreaker) SetCapital(capital float64) error {
	if capital <= 0 {
		return fmt.Errorf("capital must be positive, got %.2f", capital)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.config.Capital = capital
	return nil
}

// BreakerSnapshot is a dashboard-ready view of the breaker.
type BreakerSnapshot struct {
	Status          BreakerStatus
	RealizedPnL     float64
	UnrealizedPnL   float64
	TotalPnL        float64
	DailyLossLimit  float64
	LossPercent     float64 // loss as percent of the limit
	DistanceToLimit float64 // additional loss absorbed before TRIGGERED
	CautionHit      bool
	WarningHit      bool
	Triggered       bool
	OverrideActive  bool
	OverrideReason  string
	BreachCount     int
	TriggeredAt     time.Time
	Date            time.Time
}

// Snapshot returns the full current state for dashboards and the ops CLI.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rolloverLocked()

	total := cb.day.realizedPnL + cb.day.unrealizedPnL
	limit := cb.limit()
	lossPct := 0.0
	if total < 0 {
		lossPct = -total / limit * 100.0
	}
	distance := limit + total
	if distance < 0 {
		distance = 0
	}

	return BreakerSnapshot{
		Status:          cb.status,
		RealizedPnL:     cb.day.realizedPnL,
		UnrealizedPnL:   cb.day.unrealizedPnL,
		TotalPnL:        total,
		DailyLossLimit:  limit,
		LossPercent:     lossPct,
		DistanceToLimit: distance,
		CautionHit:      lossPct >= cautionThreshold,
		WarningHit:      lossPct >= warningThreshold,
		Triggered:       cb.status == StatusTriggered || cb.status == StatusOverridden,
		OverrideActive:  cb.day.overrideActive,
		OverrideReason:  cb.day.overrideReason,
		BreachCount:     cb.day.breachCount,
		TriggeredAt:     cb.day.triggeredAt,
		Date:            cb.day.date,
	}
}

// Progress returns the loss percent of the limit and a severity label for
// progress-bar style displays.
func (cb *CircuitBreaker) Progress() (percent float64, severity string) {
	snap := cb.Snapshot()
	pct := snap.LossPercent
	if pct > 100 {
		pct = 100
	}
	switch {
	case snap.LossPercent >= triggeredThreshold:
		return pct, "red"
	case snap.LossPercent >= warningThreshold:
		return pct, "orange"
	case snap.LossPercent >= cautionThreshold:
		return pct, "yellow"
	default:
		return pct, "green"
	}
}

// AuditHistory returns a copy of override and emergency audit entries.
func (cb *CircuitBreaker) AuditHistory() []OverrideAudit {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]OverrideAudit, len(cb.auditLog))
	copy(out, cb.auditLog)
	return out
}

// rolloverLocked resets daily state when the trading date has changed.
// Must be called with the lock held.
func (cb *CircuitBreaker) rolloverLocked() {
	now := cb.config.Clock.Now()
	if clock.SameTradingDay(cb.day.date, now) {
		return
	}
	cb.day = cb.freshDay(now)
	cb.status = StatusNormal
}

func (cb *CircuitBreaker) freshDay(now time.Time) *dailyLossState {
	return &dailyLossState{
		date:       now,
		firedEdges: make(map[BreakerStatus]bool),
	}
}

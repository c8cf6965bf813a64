package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantsphere/fno-trading-bot/internal/clock"
)

// DrawdownSeverity classifies the current peak-to-trough decline
type DrawdownSeverity int

const (
	DrawdownNormal DrawdownSeverity = iota
	DrawdownCaution
	DrawdownWarning
	DrawdownCritical
	DrawdownEmergency
)

func (s DrawdownSeverity) String() string {
	switch s {
	case DrawdownNormal:
		return "NORMAL"
	case DrawdownCaution:
		return "CAUTION"
	case DrawdownWarning:
		return "WARNING"
	case DrawdownCritical:
		return "CRITICAL"
	case DrawdownEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// Drawdown percent thresholds for each severity level.
const (
	ddCautionPct   = 5.0
	ddWarningPct   = 10.0
	ddCriticalPct  = 15.0
	ddEmergencyPct = 20.0
)

// Trading pauses applied when a severity is entered.
const (
	criticalPause  = 7 * 24 * time.Hour
	emergencyPause = 30 * 24 * time.Hour
)

// DrawdownRecord is one append-only observation of the equity curve.
type DrawdownRecord struct {
	Timestamp       time.Time
	Capital         float64
	Peak            float64
	DrawdownPercent float64
	Severity        DrawdownSeverity
}

// DrawdownManager tracks peak equity and derives a severity with an attached
// position-size multiplier. CRITICAL pauses trading for a week, EMERGENCY for
// a thirty-day reassessment.
type DrawdownManager struct {
	mu         sync.Mutex
	clk        clock.Clock
	peak       float64
	current    float64
	severity   DrawdownSeverity
	pauseUntil time.Time
	history    []DrawdownRecord
	onSeverity func(from, to DrawdownSeverity, ddPct float64)
}

// NewDrawdownManager starts tracking from initialCapital as the first peak.
func NewDrawdownManager(initialCapital float64, clk clock.Clock) (*DrawdownManager, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %.2f", initialCapital)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &DrawdownManager{
		clk:     clk,
		peak:    initialCapital,
		current: initialCapital,
	}, nil
}

// SetSeverityCallback registers a callback fired on severity transitions.
// The callback runs outside the manager's lock.
func (dm *DrawdownManager) SetSeverityCallback(fn func(from, to DrawdownSeverity, ddPct float64)) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.onSeverity = fn
}

// UpdateCapital records a new equity observation and returns the resulting
// severity. A new equity high resets the peak.
func (dm *DrawdownManager) UpdateCapital(capital float64) (DrawdownSeverity, error) {
	if capital <= 0 {
		return DrawdownNormal, fmt.Errorf("capital must be positive, got %.2f", capital)
	}

	dm.mu.Lock()

	dm.current = capital
	if capital > dm.peak {
		dm.peak = capital
	}

	ddPct := dm.drawdownPercentLocked()
	newSeverity := severityFor(ddPct)

	var callback func(from, to DrawdownSeverity, ddPct float64)
	var oldSeverity DrawdownSeverity
	if newSeverity != dm.severity {
		oldSeverity = dm.severity
		if newSeverity > dm.severity {
			now := dm.clk.Now()
			switch newSeverity {
			case DrawdownCritical:
				dm.pauseUntil = now.Add(criticalPause)
			case DrawdownEmergency:
				dm.pauseUntil = now.Add(emergencyPause)
			}
		}
		dm.severity = newSeverity
		callback = dm.onSeverity
	}

	dm.history = append(dm.history, DrawdownRecord{
		Timestamp:       dm.clk.Now(),
		Capital:         capital,
		Peak:            dm.peak,
		DrawdownPercent: ddPct,
		Severity:        newSeverity,
	})

	dm.mu.Unlock()

	if callback != nil {
		callback(oldSeverity, newSeverity, ddPct)
	}
	return newSeverity, nil
}

// drawdownPercentLocked must be called with the lock held.
func (dm *DrawdownManager) drawdownPercentLocked() float64 {
	if dm.peak <= 0 {
		return 0
	}
	dd := (dm.peak - dm.current) / dm.peak * 100.0
	if dd < 0 {
		return 0
	}
	return dd
}

func severityFor(ddPct float64) DrawdownSeverity {
	switch {
	case ddPct >= ddEmergencyPct:
		return DrawdownEmergency
	case ddPct >= ddCriticalPct:
		return DrawdownCritical
	case ddPct >= ddWarningPct:
		return DrawdownWarning
	case ddPct >= ddCautionPct:
		return DrawdownCaution
	default:
		return DrawdownNormal
	}
}

// SizeMultiplier returns the position-size scaling for the current severity.
func (dm *DrawdownManager) SizeMultiplier() float64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return multiplierFor(dm.severity)
}

func multiplierFor(s DrawdownSeverity) float64 {
	switch s {
	case DrawdownNormal:
		return 1.0
	case DrawdownCaution:
		return 0.5
	case DrawdownWarning:
		return 0.25
	default:
		return 0.0
	}
}

// CanTrade reports whether trading is allowed under the current drawdown.
func (dm *DrawdownManager) CanTrade() (bool, string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	now := dm.clk.Now()
	if !dm.pauseUntil.IsZero() && now.Before(dm.pauseUntil) {
		return false, fmt.Sprintf("trading paused until %s (%s drawdown)",
			dm.pauseUntil.Format("2006-01-02"), dm.severity)
	}
	if dm.drawdownPercentLocked() >= ddCriticalPct {
		return false, fmt.Sprintf("drawdown %.1f%% at or above %.0f%% floor",
			dm.drawdownPercentLocked(), ddCriticalPct)
	}
	return true, ""
}

// Severity returns the current severity.
func (dm *DrawdownManager) Severity() DrawdownSeverity {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.severity
}

// DrawdownReport summarizes the tracked history.
type DrawdownReport struct {
	Current         float64
	Peak            float64
	DrawdownPercent float64
	Severity        DrawdownSeverity
	MaxDrawdown     float64
	AvgDrawdown     float64
	Observations    int
	InDrawdown      bool
	PausedUntil     time.Time
}

// Report computes summary statistics over the recorded history.
func (dm *DrawdownManager) Report() DrawdownReport {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var maxDD, sumDD float64
	for _, rec := range dm.history {
		if rec.DrawdownPercent > maxDD {
			maxDD = rec.DrawdownPercent
		}
		sumDD += rec.DrawdownPercent
	}
	avgDD := 0.0
	if len(dm.history) > 0 {
		avgDD = sumDD / float64(len(dm.history))
	}

	ddPct := dm.drawdownPercentLocked()
	return DrawdownReport{
		Current:         dm.current,
		Peak:            dm.peak,
		DrawdownPercent: ddPct,
		Severity:        dm.severity,
		MaxDrawdown:     maxDD,
		AvgDrawdown:     avgDD,
		Observations:    len(dm.history),
		InDrawdown:      ddPct > 0,
		PausedUntil:     dm.pauseUntil,
	}
}

// RecoveryPlan describes what it takes to climb back to the peak.
type RecoveryPlan struct {
	RequiredReturnPercent float64
	Severity              DrawdownSeverity
	Recommendations       []string
}

// Recovery returns the required return to regain the peak plus per-severity
// guidance.
func (dm *DrawdownManager) Recovery() RecoveryPlan {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	required := 0.0
	if dm.current > 0 && dm.peak > dm.current {
		required = (dm.peak - dm.current) / dm.current * 100.0
	}

	plan := RecoveryPlan{
		RequiredReturnPercent: required,
		Severity:              dm.severity,
	}
	switch dm.severity {
	case DrawdownNormal:
		plan.Recommendations = []string{"continue normal trading"}
	case DrawdownCaution:
		plan.Recommendations = []string{
			"halve position sizes",
			"review recent losing trades",
		}
	case DrawdownWarning:
		plan.Recommendations = []string{
			"quarter position sizes",
			"trade only highest-conviction setups",
			"tighten stop losses",
		}
	case DrawdownCritical:
		plan.Recommendations = []string{
			"stop trading for one week",
			"full review of strategy and execution",
		}
	case DrawdownEmergency:
		plan.Recommendations = []string{
			"stop trading for thirty days",
			"reassess whether the strategy still has an edge",
			"consider reducing account size at restart",
		}
	}
	return plan
}

// History returns a copy of the append-only drawdown records.
func (dm *DrawdownManager) History() []DrawdownRecord {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	out := make([]DrawdownRecord, len(dm.history))
	copy(out, dm.history)
	return out
}

// ResetPeak sets the peak to the current capital. Manual operation for use
// after a deliberate capital withdrawal.
func (dm *DrawdownManager) ResetPeak() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.peak = dm.current
	dm.severity = DrawdownNormal
	dm.pauseUntil = time.Time{}
}

// ResumeTrading clears an active pause without touching the peak. Manual
// override; the severity still reflects the live drawdown.
func (dm *DrawdownManager) ResumeTrading() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.pauseUntil = time.Time{}
}

package risk

import (
	"fmt"
	"sync"
)

// Default heat ceilings as percent of account capital.
const (
	DefaultMaxPositionHeat  = 2.0
	DefaultMaxPortfolioHeat = 6.0
)

// HeatPosition is one open position's contribution to portfolio heat.
type HeatPosition struct {
	ID          string
	Symbol      string
	RiskAmount  float64
	RiskPercent float64
}

// HeatMonitor aggregates at-risk capital across open positions and rejects
// additions that would breach the per-position or portfolio ceilings.
// Positions are indexed by id for O(1) removal under the lock.
type HeatMonitor struct {
	mu               sync.Mutex
	capital          float64
	maxPositionHeat  float64
	maxPortfolioHeat float64
	positions        map[string]HeatPosition
}

func NewHeatMonitor(capital, maxPositionHeat, maxPortfolioHeat float64) (*HeatMonitor, error) {
	if capital <= 0 {
		return nil, fmt.Errorf("capital must be positive, got %.2f", capital)
	}
	if maxPositionHeat <= 0 {
		maxPositionHeat = DefaultMaxPositionHeat
	}
	if maxPortfolioHeat <= 0 {
		maxPortfolioHeat = DefaultMaxPortfolioHeat
	}
	if maxPositionHeat > maxPortfolioHeat {
		return nil, fmt.Errorf("per-position heat %.2f exceeds portfolio heat %.2f",
			maxPositionHeat, maxPortfolioHeat)
	}
	return &HeatMonitor{
		capital:          capital,
		maxPositionHeat:  maxPositionHeat,
		maxPortfolioHeat: maxPortfolioHeat,
		positions:        make(map[string]HeatPosition),
	}, nil
}

// CanAdd reports whether a position risking riskAmount fits under both
// ceilings, with the blocking reason when it does not.
func (hm *HeatMonitor) CanAdd(riskAmount float64) (bool, string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	riskPct := riskAmount / hm.capital * 100.0
	if riskPct > hm.maxPositionHeat {
		return false, fmt.Sprintf("position risk %.2f%% exceeds per-position limit %.2f%%",
			riskPct, hm.maxPositionHeat)
	}

	newHeat := hm.heatLocked() + riskPct
	if newHeat > hm.maxPortfolioHeat {
		return false, fmt.Sprintf("portfolio heat would reach %.2f%%, limit %.2f%%",
			newHeat, hm.maxPortfolioHeat)
	}
	return true, ""
}

// AddPosition registers an open position's risk. Fails when either ceiling
// would be breached or the id is already tracked.
func (hm *HeatMonitor) AddPosition(id, symbol string, riskAmount float64) error {
	if id == "" {
		return fmt.Errorf("position id must not be empty")
	}
	if riskAmount <= 0 {
		return fmt.Errorf("risk amount must be positive, got %.2f", riskAmount)
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	if _, exists := hm.positions[id]; exists {
		return fmt.Errorf("position %s already tracked", id)
	}

	riskPct := riskAmount / hm.capital * 100.0
	if riskPct > hm.maxPositionHeat {
		return fmt.Errorf("position risk %.2f%% exceeds per-position limit %.2f%%",
			riskPct, hm.maxPositionHeat)
	}
	if hm.heatLocked()+riskPct > hm.maxPortfolioHeat {
		return fmt.Errorf("portfolio heat would reach %.2f%%, limit %.2f%%",
			hm.heatLocked()+riskPct, hm.maxPortfolioHeat)
	}

	hm.positions[id] = HeatPosition{
		ID:          id,
		Symbol:      symbol,
		RiskAmount:  riskAmount,
		RiskPercent: riskPct,
	}
	return nil
}

// RemovePosition drops a closed position from the heat calculation.
func (hm *HeatMonitor) RemovePosition(id string) error {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if _, exists := hm.positions[id]; !exists {
		return fmt.Errorf("position %s not tracked", id)
	}
	delete(hm.positions, id)
	return nil
}

// UpdateRisk replaces a tracked position's risk amount, used when a trailing
// stop tightens the at-risk capital.
func (hm *HeatMonitor) UpdateRisk(id string, riskAmount float64) error {
	if riskAmount < 0 {
		return fmt.Errorf("risk amount must not be negative, got %.2f", riskAmount)
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	pos, exists := hm.positions[id]
	if !exists {
		return fmt.Errorf("position %s not tracked", id)
	}
	pos.RiskAmount = riskAmount
	pos.RiskPercent = riskAmount / hm.capital * 100.0
	hm.positions[id] = pos
	return nil
}

// UpdateCapital refreshes the heat basis and recomputes per-position percents.
func (hm *HeatMonitor) UpdateCapital(capital float64) error {
	if capital <= 0 {
		return fmt.Errorf("capital must be positive, got %.2f", capital)
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.capital = capital
	for id, pos := range hm.positions {
		pos.RiskPercent = pos.RiskAmount / capital * 100.0
		hm.positions[id] = pos
	}
	return nil
}

// Heat returns the current portfolio heat as percent of capital.
func (hm *HeatMonitor) Heat() float64 {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.heatLocked()
}

// heatLocked must be called with the lock held.
func (hm *HeatMonitor) heatLocked() float64 {
	total := 0.0
	for _, pos := range hm.positions {
		total += pos.RiskAmount
	}
	return total / hm.capital * 100.0
}

// Headroom returns the remaining heat capacity in percent of capital.
func (hm *HeatMonitor) Headroom() float64 {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	headroom := hm.maxPortfolioHeat - hm.heatLocked()
	if headroom < 0 {
		return 0
	}
	return headroom
}

// HeatSummary is a dashboard view of the portfolio heat.
type HeatSummary struct {
	Heat            float64
	Headroom        float64
	Utilization     float64 // heat as fraction of the portfolio ceiling
	Positions       int
	RiskiestID      string
	RiskiestSymbol  string
	RiskiestPercent float64
}

// Summary returns current heat statistics including the riskiest position.
func (hm *HeatMonitor) Summary() HeatSummary {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	heat := hm.heatLocked()
	s := HeatSummary{
		Heat:        heat,
		Headroom:    hm.maxPortfolioHeat - heat,
		Utilization: heat / hm.maxPortfolioHeat,
		Positions:   len(hm.positions),
	}
	if s.Headroom < 0 {
		s.Headroom = 0
	}
	for _, pos := range hm.positions {
		if pos.RiskPercent > s.RiskiestPercent {
			s.RiskiestPercent = pos.RiskPercent
			s.RiskiestID = pos.ID
			s.RiskiestSymbol = pos.Symbol
		}
	}
	return s
}

// RemoveRiskiest drops the highest-risk position and returns it. Used for
// emergency heat reduction.
func (hm *HeatMonitor) RemoveRiskiest() (HeatPosition, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	var riskiest HeatPosition
	found := false
	for _, pos := range hm.positions {
		if !found || pos.RiskAmount > riskiest.RiskAmount {
			riskiest = pos
			found = true
		}
	}
	if found {
		delete(hm.positions, riskiest.ID)
	}
	return riskiest, found
}

// Positions returns a copy of all tracked positions.
func (hm *HeatMonitor) Positions() []HeatPosition {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	out := make([]HeatPosition, 0, len(hm.positions))
	for _, pos := range hm.positions {
		out = append(out, pos)
	}
	return out
}

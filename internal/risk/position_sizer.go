package risk

import (
	"fmt"
	"math"
	"sync"
)

// SizingMethod selects the position sizing algorithm
type SizingMethod string

const (
	SizingFixedFractional SizingMethod = "FIXED_FRACTIONAL"
	SizingKelly           SizingMethod = "KELLY"
	SizingVolatility      SizingMethod = "VOLATILITY_ADJUSTED"
)

// Kelly fraction is never allowed above this cap regardless of the edge.
const kellyCap = 0.25

// DefaultKellySafetyFactor is the half-Kelly scaling applied when the caller
// does not choose one.
const DefaultKellySafetyFactor = 0.5

// Volatility adjustment is bounded to ±50% of the base size.
const volatilityBound = 0.5

// SizingResult is the outcome of a position size calculation.
type SizingResult struct {
	Method       SizingMethod
	Lots         int
	Quantity     int
	RiskAmount   float64
	RiskPercent  float64
	KellyPercent float64
}

// PositionSizer computes lot counts from account capital and per-trade risk.
type PositionSizer struct {
	mu      sync.Mutex
	capital float64
}

func NewPositionSizer(capital float64) (*PositionSizer, error) {
	if capital <= 0 {
		return nil, fmt.Errorf("capital must be positive, got %.2f", capital)
	}
	return &PositionSizer{capital: capital}, nil
}

// UpdateCapital refreshes the sizing basis after deposits or trade results.
func (ps *PositionSizer) UpdateCapital(capital float64) error {
	if capital <= 0 {
		return fmt.Errorf("capital must be positive, got %.2f", capital)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.capital = capital
	return nil
}

func (ps *PositionSizer) Capital() float64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.capital
}

// FixedFractional risks riskPercent of capital per trade. The lot count is
// floored, so a budget below one lot's risk yields zero lots.
func (ps *PositionSizer) FixedFractional(riskPercent, entryPrice, stopPrice float64, lotSize int) (SizingResult, error) {
	if riskPercent <= 0 || riskPercent > 100 {
		return SizingResult{}, fmt.Errorf("risk percent must be in (0, 100], got %.2f", riskPercent)
	}
	if entryPrice <= 0 {
		return SizingResult{}, fmt.Errorf("entry price must be positive, got %.2f", entryPrice)
	}
	if lotSize <= 0 {
		return SizingResult{}, fmt.Errorf("lot size must be positive, got %d", lotSize)
	}
	perUnitRisk := math.Abs(entryPrice - stopPrice)
	if perUnitRisk == 0 {
		return SizingResult{}, fmt.Errorf("entry and stop price must differ")
	}

	capital := ps.Capital()
	riskBudget := capital * riskPercent / 100.0
	perLotRisk := perUnitRisk * float64(lotSize)

	lots := int(math.Floor(riskBudget / perLotRisk))
	riskAmount := float64(lots) * perLotRisk
	return SizingResult{
		Method:      SizingFixedFractional,
		Lots:        lots,
		Quantity:    lots * lotSize,
		RiskAmount:  riskAmount,
		RiskPercent: riskAmount / capital * 100.0,
	}, nil
}

// KellyFraction computes the raw Kelly fraction f* = (p·b − (1−p)) / b for a
// win probability p and win/loss ratio b, clamped to [0, 0.25] and scaled by
// safetyFactor.
func KellyFraction(winRate, winLossRatio, safetyFactor float64) (float64, error) {
	if winRate < 0 || winRate > 1 {
		return 0, fmt.Errorf("win rate must be in [0, 1], got %.2f", winRate)
	}
	if winLossRatio <= 0 {
		return 0, fmt.Errorf("win/loss ratio must be positive, got %.2f", winLossRatio)
	}
	if safetyFactor <= 0 || safetyFactor > 1 {
		safetyFactor = DefaultKellySafetyFactor
	}

	f := (winRate*winLossRatio - (1 - winRate)) / winLossRatio
	if f < 0 {
		f = 0
	}
	if f > kellyCap {
		f = kellyCap
	}
	return f * safetyFactor, nil
}

// Kelly sizes a position by the scaled Kelly fraction of capital.
func (ps *PositionSizer) Kelly(winRate, winLossRatio, safetyFactor, entryPrice, stopPrice float64, lotSize int) (SizingResult, error) {
	f, err := KellyFraction(winRate, winLossRatio, safetyFactor)
	if err != nil {
		return SizingResult{}, err
	}
	if f == 0 {
		return SizingResult{Method: SizingKelly}, nil
	}

	result, err := ps.FixedFractional(f*100.0, entryPrice, stopPrice, lotSize)
	if err != nil {
		return SizingResult{}, err
	}
	result.Method = SizingKelly
	result.KellyPercent = f * 100.0
	return result, nil
}

// VolatilityAdjusted scales baseLots by avgATR/currentATR, bounded to ±50%
// of the base and never below one lot.
func (ps *PositionSizer) VolatilityAdjusted(baseLots int, currentATR, avgATR float64, lotSize int) (SizingResult, error) {
	if baseLots <= 0 {
		return SizingResult{}, fmt.Errorf("base lots must be positive, got %d", baseLots)
	}
	if currentATR <= 0 || avgATR <= 0 {
		return SizingResult{}, fmt.Errorf("ATR values must be positive")
	}
	if lotSize <= 0 {
		return SizingResult{}, fmt.Errorf("lot size must be positive, got %d", lotSize)
	}

	ratio := avgATR / currentATR
	if ratio > 1+volatilityBound {
		ratio = 1 + volatilityBound
	}
	if ratio < 1-volatilityBound {
		ratio = 1 - volatilityBound
	}

	lots := int(math.Round(float64(baseLots) * ratio))
	if lots < 1 {
		lots = 1
	}

	return SizingResult{
		Method:   SizingVolatility,
		Lots:     lots,
		Quantity: lots * lotSize,
	}, nil
}

// SizingInput carries the union of parameters for the dispatcher.
type SizingInput struct {
	RiskPercent  float64
	EntryPrice   float64
	StopPrice    float64
	LotSize      int
	WinRate      float64
	WinLossRatio float64
	SafetyFactor float64
	BaseLots     int
	CurrentATR   float64
	AvgATR       float64
}

// Calculate dispatches to the chosen sizing method.
func (ps *PositionSizer) Calculate(method SizingMethod, in SizingInput) (SizingResult, error) {
	switch method {
	case SizingFixedFractional:
		return ps.FixedFractional(in.RiskPercent, in.EntryPrice, in.StopPrice, in.LotSize)
	case SizingKelly:
		return ps.Kelly(in.WinRate, in.WinLossRatio, in.SafetyFactor, in.EntryPrice, in.StopPrice, in.LotSize)
	case SizingVolatility:
		return ps.VolatilityAdjusted(in.BaseLots, in.CurrentATR, in.AvgATR, in.LotSize)
	default:
		return SizingResult{}, fmt.Errorf("unknown sizing method %q", method)
	}
}

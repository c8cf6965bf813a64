// Package orders implements the multi-leg conditional order state machines
// and the manager that fronts them: bracket, one-cancels-other and iceberg
// aggregates, protective stop tracking and the preview/confirm/execute
// pipeline.
package orders

import "strings"

// Direction is the trade side of an aggregate.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// InstrumentType classifies a tradeable symbol for margin and stop-loss
// defaults.
type InstrumentType string

const (
	InstrumentIndexOption InstrumentType = "INDEX_OPTION"
	InstrumentStockOption InstrumentType = "STOCK_OPTION"
	InstrumentIndexFuture InstrumentType = "INDEX_FUTURE"
	InstrumentStockFuture InstrumentType = "STOCK_FUTURE"
	InstrumentEquity      InstrumentType = "EQUITY"
	InstrumentDefault     InstrumentType = "DEFAULT"
)

var indexRoots = []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY", "SENSEX"}

// InferInstrumentType classifies a symbol from its naming convention:
// option symbols end in CE/PE, futures in FUT, everything else is equity.
func InferInstrumentType(symbol string) InstrumentType {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return InstrumentDefault
	}

	isIndex := false
	for _, root := range indexRoots {
		if strings.HasPrefix(s, root) {
			isIndex = true
			break
		}
	}

	switch {
	case strings.HasSuffix(s, "CE") || strings.HasSuffix(s, "PE"):
		if isIndex {
			return InstrumentIndexOption
		}
		return InstrumentStockOption
	case strings.HasSuffix(s, "FUT"):
		if isIndex {
			return InstrumentIndexFuture
		}
		return InstrumentStockFuture
	default:
		return InstrumentEquity
	}
}

// IsOption reports whether the instrument type is an option.
func (t InstrumentType) IsOption() bool {
	return t == InstrumentIndexOption || t == InstrumentStockOption
}

// IsFuture reports whether the instrument type is a future.
func (t InstrumentType) IsFuture() bool {
	return t == InstrumentIndexFuture || t == InstrumentStockFuture
}

// Maximum single-order exposure as percent of total capital, per instrument
// class. Options are capped tightest because the premium is the whole stake.
var maxPositionPercent = map[InstrumentType]float64{
	InstrumentIndexOption: 3,
	InstrumentStockOption: 2,
	InstrumentIndexFuture: 8,
	InstrumentStockFuture: 5,
	InstrumentEquity:      10,
	InstrumentDefault:     3,
}

// MaxPositionPercent returns the exposure cap for an instrument class.
func MaxPositionPercent(t InstrumentType) float64 {
	if pct, ok := maxPositionPercent[t]; ok {
		return pct
	}
	return maxPositionPercent[InstrumentDefault]
}

// ExitReason records which leg closed a bracket.
type ExitReason string

const (
	ExitTarget   ExitReason = "TARGET"
	ExitStopLoss ExitReason = "STOP_LOSS"
	ExitManual   ExitReason = "MANUAL"
)

package orders

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/quantsphere/fno-trading-bot/internal/broker"
	"github.com/quantsphere/fno-trading-bot/internal/clock"
)

// StopLossType selects how the protective price is derived
type StopLossType string

const (
	StopFixedPercent StopLossType = "FIXED_PERCENT"
	StopFixedPoints  StopLossType = "FIXED_POINTS"
	StopATRBased     StopLossType = "ATR_BASED"
	StopTrailing     StopLossType = "TRAILING"
	StopUserDefined  StopLossType = "USER_DEFINED"
)

// StopLossStatus is the lifecycle state of one protective order
type StopLossStatus string

const (
	StopPending   StopLossStatus = "PENDING"
	StopActive    StopLossStatus = "ACTIVE"
	StopTriggered StopLossStatus = "TRIGGERED"
	StopModified  StopLossStatus = "MODIFIED"
	StopCancelled StopLossStatus = "CANCELLED"
	StopFailed    StopLossStatus = "FAILED"
)

// slDefaults holds the default and maximum stop distance in percent terms
// for an instrument class. Options tolerate far wider stops than futures.
type slDefaults struct {
	defaultPct float64
	maxPct     float64
}

var stopLossTable = map[InstrumentType]slDefaults{
	InstrumentIndexOption: {25, 50},
	InstrumentStockOption: {30, 50},
	InstrumentIndexFuture: {1.5, 5},
	InstrumentStockFuture: {2, 8},
	InstrumentEquity:      {5, 10},
	InstrumentDefault:     {20, 30},
}

// StopLossDefaults returns the default and maximum stop-loss percent for an
// instrument type.
func StopLossDefaults(t InstrumentType) (defaultPct, maxPct float64) {
	d, ok := stopLossTable[t]
	if !ok {
		d = stopLossTable[InstrumentDefault]
	}
	return d.defaultPct, d.maxPct
}

// StopModification is one entry in a stop order's modification history.
type StopModification struct {
	OldPrice  float64
	NewPrice  float64
	Reason    string
	Timestamp time.Time
}

// StopLossOrder tracks the protective order for one open position.
type StopLossOrder struct {
	PositionID    string
	Symbol        string
	Direction     Direction
	Quantity      int
	EntryPrice    float64
	StopPrice     float64
	Type          StopLossType
	Status        StopLossStatus
	TrailDistance float64
	extremePrice  float64 // best price seen since activation, for trailing
	BrokerOrderID string
	CreatedAt     time.Time
	Modifications []StopModification
}

// StopLossRequest are the construction parameters for CreateStopLoss.
type StopLossRequest struct {
	PositionID string
	Symbol     string
	Direction  Direction
	Quantity   int
	EntryPrice float64
	Type       StopLossType

	// Exactly one of these drives the stop price depending on Type.
	Percent       float64
	Points        float64
	ATR           float64
	ATRMultiplier float64
	ExplicitPrice float64

	// TrailDistance applies to TRAILING stops; zero means half the
	// entry-to-stop distance.
	TrailDistance float64
}

// SquareOffResult is the per-position outcome of an emergency square-off.
type SquareOffResult struct {
	PositionID string
	Symbol     string
	Status     string // "exited" or "failed"
	Err        error
}

// StopLossManager owns every tracked protective order, indexed by position
// id. A nil broker runs the manager in tracking-only mode.
type StopLossManager struct {
	mu     sync.Mutex
	stops  map[string]*StopLossOrder
	table  map[InstrumentType]slDefaults
	broker broker.Broker
	clk    clock.Clock
}

func NewStopLossManager(b broker.Broker, clk clock.Clock) *StopLossManager {
	if clk == nil {
		clk = clock.Real()
	}
	table := make(map[InstrumentType]slDefaults, len(stopLossTable))
	for t, d := range stopLossTable {
		table[t] = d
	}
	return &StopLossManager{
		stops:  make(map[string]*StopLossOrder),
		table:  table,
		broker: b,
		clk:    clk,
	}
}

// ApplyStopLossOverrides overlays per-instrument default and maximum stop
// percents from deployment config. Keys are instrument type names such as
// INDEX_OPTION; zero values and unknown names are ignored.
func (m *StopLossManager) ApplyStopLossOverrides(defaults, maxes map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, pct := range defaults {
		t := InstrumentType(name)
		if d, ok := m.table[t]; ok && pct > 0 {
			d.defaultPct = pct
			m.table[t] = d
		}
	}
	for name, pct := range maxes {
		t := InstrumentType(name)
		if d, ok := m.table[t]; ok && pct > 0 {
			d.maxPct = pct
			m.table[t] = d
		}
	}
}

// Defaults returns the effective default and maximum stop-loss percent for an
// instrument type, with any configured overrides applied.
func (m *StopLossManager) Defaults(t InstrumentType) (defaultPct, maxPct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.table[t]
	if !ok {
		d = m.table[InstrumentDefault]
	}
	return d.defaultPct, d.maxPct
}

// CreateStopLoss derives the stop price, clamps it to the instrument-type
// maximum distance, stores the order and places it at the broker when one is
// connected.
func (m *StopLossManager) CreateStopLoss(ctx context.Context, req StopLossRequest) (*StopLossOrder, error) {
	if req.PositionID == "" {
		return nil, fmt.Errorf("position id must not be empty")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", req.Quantity)
	}
	if req.EntryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %.2f", req.EntryPrice)
	}
	if req.Direction != DirectionLong && req.Direction != DirectionShort {
		return nil, fmt.Errorf("direction must be LONG or SHORT, got %q", req.Direction)
	}

	stopPrice, err := m.deriveStopPrice(req)
	if err != nil {
		return nil, err
	}

	instrument := InferInstrumentType(req.Symbol)
	_, maxPct := m.Defaults(instrument)
	stopPrice = clampStop(req.Direction, req.EntryPrice, stopPrice, maxPct)

	trail := req.TrailDistance
	if req.Type == StopTrailing && trail <= 0 {
		trail = math.Abs(req.EntryPrice-stopPrice) / 2
	}

	order := &StopLossOrder{
		PositionID:    req.PositionID,
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		Quantity:      req.Quantity,
		EntryPrice:    req.EntryPrice,
		StopPrice:     stopPrice,
		Type:          req.Type,
		Status:        StopPending,
		TrailDistance: trail,
		extremePrice:  req.EntryPrice,
		CreatedAt:     m.clk.Now(),
	}

	m.mu.Lock()
	if _, exists := m.stops[req.PositionID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("stop loss already exists for position %s", req.PositionID)
	}
	m.stops[req.PositionID] = order
	m.mu.Unlock()

	if m.broker != nil {
		ack, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:       req.Symbol,
			Side:         exitSide(req.Direction),
			Type:         broker.OrderTypeStopLoss,
			Product:      broker.ProductIntraday,
			Quantity:     req.Quantity,
			TriggerPrice: stopPrice,
			Tag:          "SL:" + req.PositionID,
		})

		m.mu.Lock()
		if err != nil {
			order.Status = StopFailed
			m.mu.Unlock()
			log.Printf("stop loss placement failed for %s: %v", req.PositionID, err)
			return order, fmt.Errorf("failed to place stop loss for %s: %w", req.PositionID, err)
		}
		order.BrokerOrderID = ack.BrokerOrderID
		order.Status = StopActive
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		order.Status = StopActive
		m.mu.Unlock()
	}

	return order, nil
}

func (m *StopLossManager) deriveStopPrice(req StopLossRequest) (float64, error) {
	sign := -1.0
	if req.Direction == DirectionShort {
		sign = 1.0
	}

	switch req.Type {
	case StopFixedPercent:
		pct := req.Percent
		if pct <= 0 {
			pct, _ = m.Defaults(InferInstrumentType(req.Symbol))
		}
		return req.EntryPrice * (1 + sign*pct/100), nil
	case StopFixedPoints:
		if req.Points <= 0 {
			return 0, fmt.Errorf("points must be positive for FIXED_POINTS, got %.2f", req.Points)
		}
		return req.EntryPrice + sign*req.Points, nil
	case StopATRBased:
		if req.ATR <= 0 {
			return 0, fmt.Errorf("ATR must be positive for ATR_BASED, got %.2f", req.ATR)
		}
		mult := req.ATRMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		return req.EntryPrice + sign*req.ATR*mult, nil
	case StopTrailing:
		pct := req.Percent
		if pct <= 0 {
			pct, _ = m.Defaults(InferInstrumentType(req.Symbol))
		}
		return req.EntryPrice * (1 + sign*pct/100), nil
	case StopUserDefined:
		if req.ExplicitPrice <= 0 {
			return 0, fmt.Errorf("explicit price must be positive for USER_DEFINED, got %.2f", req.ExplicitPrice)
		}
		if req.Direction == DirectionLong && req.ExplicitPrice >= req.EntryPrice {
			return 0, fmt.Errorf("stop %.2f must be below entry %.2f for a long position",
				req.ExplicitPrice, req.EntryPrice)
		}
		if req.Direction == DirectionShort && req.ExplicitPrice <= req.EntryPrice {
			return 0, fmt.Errorf("stop %.2f must be above entry %.2f for a short position",
				req.ExplicitPrice, req.EntryPrice)
		}
		return req.ExplicitPrice, nil
	default:
		return 0, fmt.Errorf("unknown stop loss type %q", req.Type)
	}
}

// clampStop caps the stop distance at maxPct of the entry price.
func clampStop(dir Direction, entry, stop, maxPct float64) float64 {
	maxDistance := entry * maxPct / 100
	if dir == DirectionLong {
		floor := entry - maxDistance
		if stop < floor {
			return floor
		}
		return stop
	}
	ceil := entry + maxDistance
	if stop > ceil {
		return ceil
	}
	return stop
}

func exitSide(dir Direction) broker.OrderSide {
	if dir == DirectionLong {
		return broker.SideSell
	}
	return broker.SideBuy
}

// ModifyStopLoss moves a stop to newPrice. Trailing stops may only move in
// the protective direction; other types move freely.
func (m *StopLossManager) ModifyStopLoss(positionID string, newPrice float64, reason string) error {
	if newPrice <= 0 {
		return fmt.Errorf("new stop price must be positive, got %.2f", newPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.stops[positionID]
	if !exists {
		return fmt.Errorf("no stop loss tracked for position %s", positionID)
	}
	if order.Status == StopTriggered || order.Status == StopCancelled {
		return fmt.Errorf("cannot modify stop in status %s", order.Status)
	}

	if order.Type == StopTrailing {
		if order.Direction == DirectionLong && newPrice < order.StopPrice {
			return fmt.Errorf("trailing stop for a long may only move up, %.2f < %.2f",
				newPrice, order.StopPrice)
		}
		if order.Direction == DirectionShort && newPrice > order.StopPrice {
			return fmt.Errorf("trailing stop for a short may only move down, %.2f > %.2f",
				newPrice, order.StopPrice)
		}
	}

	order.Modifications = append(order.Modifications, StopModification{
		OldPrice:  order.StopPrice,
		NewPrice:  newPrice,
		Reason:    reason,
		Timestamp: m.clk.Now(),
	})
	order.StopPrice = newPrice
	order.Status = StopModified
	return nil
}

// UpdateForPriceMove advances trailing stops: it tracks the running
// favorable extreme and moves the stop to extreme minus the trail distance
// (plus, for shorts) only when that tightens risk. Returns true when the
// stop moved.
func (m *StopLossManager) UpdateForPriceMove(positionID string, price float64) (bool, error) {
	if price <= 0 {
		return false, fmt.Errorf("price must be positive, got %.2f", price)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.stops[positionID]
	if !exists {
		return false, fmt.Errorf("no stop loss tracked for position %s", positionID)
	}
	if order.Type != StopTrailing {
		return false, nil
	}
	if order.Status != StopActive && order.Status != StopModified {
		return false, nil
	}

	moved := false
	if order.Direction == DirectionLong {
		if price > order.extremePrice {
			order.extremePrice = price
		}
		candidate := order.extremePrice - order.TrailDistance
		if candidate > order.StopPrice {
			order.Modifications = append(order.Modifications, StopModification{
				OldPrice:  order.StopPrice,
				NewPrice:  candidate,
				Reason:    "trailing update",
				Timestamp: m.clk.Now(),
			})
			order.StopPrice = candidate
			moved = true
		}
	} else {
		if price < order.extremePrice {
			order.extremePrice = price
		}
		candidate := order.extremePrice + order.TrailDistance
		if candidate < order.StopPrice {
			order.Modifications = append(order.Modifications, StopModification{
				OldPrice:  order.StopPrice,
				NewPrice:  candidate,
				Reason:    "trailing update",
				Timestamp: m.clk.Now(),
			})
			order.StopPrice = candidate
			moved = true
		}
	}
	return moved, nil
}

// CheckTrigger is the fallback poll for positions whose exchange-side stop
// may have been missed. Returns true when price has crossed the stop; the
// order is marked TRIGGERED.
func (m *StopLossManager) CheckTrigger(positionID string, price float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.stops[positionID]
	if !exists {
		return false, fmt.Errorf("no stop loss tracked for position %s", positionID)
	}
	if order.Status != StopActive && order.Status != StopModified {
		return false, nil
	}

	triggered := (order.Direction == DirectionLong && price <= order.StopPrice) ||
		(order.Direction == DirectionShort && price >= order.StopPrice)
	if triggered {
		order.Status = StopTriggered
	}
	return triggered, nil
}

// CancelStopLoss removes a tracked stop, cancelling the broker-side order
// when one was placed.
func (m *StopLossManager) CancelStopLoss(ctx context.Context, positionID string) error {
	m.mu.Lock()
	order, exists := m.stops[positionID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("no stop loss tracked for position %s", positionID)
	}
	brokerOrderID := order.BrokerOrderID
	order.Status = StopCancelled
	delete(m.stops, positionID)
	m.mu.Unlock()

	if m.broker != nil && brokerOrderID != "" {
		if err := m.broker.CancelOrder(ctx, brokerOrderID); err != nil {
			log.Printf("broker cancel failed for stop %s: %v", positionID, err)
			return err
		}
	}
	return nil
}

// Remove drops a stop after the position closed through its own exit.
func (m *StopLossManager) Remove(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stops, positionID)
}

// Get returns a copy of the tracked stop for a position.
func (m *StopLossManager) Get(positionID string) (StopLossOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, exists := m.stops[positionID]
	if !exists {
		return StopLossOrder{}, false
	}
	return *order, true
}

// All returns copies of every tracked stop.
func (m *StopLossManager) All() []StopLossOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StopLossOrder, 0, len(m.stops))
	for _, order := range m.stops {
		out = append(out, *order)
	}
	return out
}

// EmergencySquareOffAll issues market exits for every tracked position.
// Failures are logged per item and do not abort the batch.
func (m *StopLossManager) EmergencySquareOffAll(ctx context.Context) []SquareOffResult {
	m.mu.Lock()
	pending := make([]*StopLossOrder, 0, len(m.stops))
	for _, order := range m.stops {
		pending = append(pending, order)
	}
	m.mu.Unlock()

	results := make([]SquareOffResult, 0, len(pending))
	for _, order := range pending {
		result := SquareOffResult{PositionID: order.PositionID, Symbol: order.Symbol, Status: "exited"}

		if m.broker != nil {
			_, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
				Symbol:   order.Symbol,
				Side:     exitSide(order.Direction),
				Type:     broker.OrderTypeMarket,
				Product:  broker.ProductIntraday,
				Quantity: order.Quantity,
				Tag:      "SQUAREOFF:" + order.PositionID,
			})
			if err != nil {
				log.Printf("emergency square-off failed for %s: %v", order.PositionID, err)
				result.Status = "failed"
				result.Err = err
				results = append(results, result)
				continue
			}
		}

		m.mu.Lock()
		delete(m.stops, order.PositionID)
		m.mu.Unlock()
		results = append(results, result)
	}
	return results
}

// StopLossSummary counts stops by status.
type StopLossSummary struct {
	Total        int
	ByStatus     map[StopLossStatus]int
	AllProtected bool
}

// Summary reports how many positions carry an effective protective order.
func (m *StopLossManager) Summary() StopLossSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := StopLossSummary{
		Total:        len(m.stops),
		ByStatus:     make(map[StopLossStatus]int),
		AllProtected: true,
	}
	for _, order := range m.stops {
		s.ByStatus[order.Status]++
		if order.Status != StopActive && order.Status != StopModified {
			s.AllProtected = false
		}
	}
	return s
}

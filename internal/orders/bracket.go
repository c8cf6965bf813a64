package orders

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantsphere/fno-trading-bot/internal/broker"
)

// BracketStatus is the lifecycle state of a bracket order
type BracketStatus string

const (
	BracketPending   BracketStatus = "PENDING"
	BracketPlaced    BracketStatus = "PLACED"
	BracketFilled    BracketStatus = "FILLED"
	BracketCompleted BracketStatus = "COMPLETED"
	BracketCancelled BracketStatus = "CANCELLED"
)

// BracketOrder pairs an entry with a target and a stop loss. After the entry
// fills, the target and stop form a logical OCO pair: whichever fills first
// cancels the other.
type BracketOrder struct {
	mu sync.Mutex

	ID         string
	Symbol     string
	Direction  Direction
	Quantity   int
	EntryPrice float64
	Target     float64
	StopLoss   float64

	status     BracketStatus
	exitReason ExitReason
	fillPrice  float64
	exitPrice  float64

	entryOrderID  string
	targetOrderID string
	stopOrderID   string

	broker    broker.Broker
	createdAt time.Time
}

// NewBracketOrder validates the price geometry and returns an unplaced
// bracket. A long requires stop < entry < target; a short the reverse.
func NewBracketOrder(b broker.Broker, symbol string, dir Direction, qty int, entry, target, stop float64) (*BracketOrder, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", qty)
	}
	if entry <= 0 || target <= 0 || stop <= 0 {
		return nil, fmt.Errorf("prices must be positive")
	}

	switch dir {
	case DirectionLong:
		if stop >= entry {
			return nil, fmt.Errorf("long bracket requires stop %.2f below entry %.2f", stop, entry)
		}
		if target <= entry {
			return nil, fmt.Errorf("long bracket requires target %.2f above entry %.2f", target, entry)
		}
	case DirectionShort:
		if stop <= entry {
			return nil, fmt.Errorf("short bracket requires stop %.2f above entry %.2f", stop, entry)
		}
		if target >= entry {
			return nil, fmt.Errorf("short bracket requires target %.2f below entry %.2f", target, entry)
		}
	default:
		return nil, fmt.Errorf("direction must be LONG or SHORT, got %q", dir)
	}

	return &BracketOrder{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  dir,
		Quantity:   qty,
		EntryPrice: entry,
		Target:     target,
		StopLoss:   stop,
		status:     BracketPending,
		broker:     b,
		createdAt:  time.Now(),
	}, nil
}

// BracketFromSignal builds a bracket with a 2xATR stop and a target placed
// at riskReward times the stop distance.
func BracketFromSignal(b broker.Broker, symbol string, dir Direction, qty int, entry, atr, riskReward float64) (*BracketOrder, error) {
	if atr <= 0 {
		return nil, fmt.Errorf("ATR must be positive, got %.2f", atr)
	}
	if riskReward <= 0 {
		riskReward = 2.0
	}
	stopDistance := 2 * atr
	if dir == DirectionLong {
		return NewBracketOrder(b, symbol, dir, qty, entry, entry+stopDistance*riskReward, entry-stopDistance)
	}
	return NewBracketOrder(b, symbol, dir, qty, entry, entry-stopDistance*riskReward, entry+stopDistance)
}

// Place submits the entry leg.
func (o *BracketOrder) Place(ctx context.Context) error {
	o.mu.Lock()
	if o.status != BracketPending {
		o.mu.Unlock()
		return fmt.Errorf("bracket %s cannot be placed from status %s", o.ID, o.status)
	}
	req := broker.OrderRequest{
		Symbol:     o.Symbol,
		Side:       entrySide(o.Direction),
		Type:       broker.OrderTypeLimit,
		Product:    broker.ProductIntraday,
		Quantity:   o.Quantity,
		LimitPrice: o.EntryPrice,
		Tag:        "BRK-ENTRY:" + o.ID,
	}
	o.mu.Unlock()

	ack, err := o.broker.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to place bracket entry: %w", err)
	}

	o.mu.Lock()
	if o.status != BracketPending {
		status := o.status
		o.mu.Unlock()
		// CancelAll ran while the entry was in flight and never saw its
		// order id, so the leg must be cancelled here.
		if cancelErr := o.broker.CancelOrder(ctx, ack.BrokerOrderID); cancelErr != nil {
			log.Printf("bracket %s: cancel of in-flight entry failed: %v", o.ID, cancelErr)
		}
		return fmt.Errorf("bracket %s became %s during entry placement", o.ID, status)
	}
	o.entryOrderID = ack.BrokerOrderID
	o.status = BracketPlaced
	o.mu.Unlock()
	return nil
}

// OnEntryFill advances to FILLED and places the target/stop pair. Duplicate
// or late events are logged and ignored.
func (o *BracketOrder) OnEntryFill(ctx context.Context, fillPrice float64) error {
	o.mu.Lock()
	if o.status != BracketPlaced {
		status := o.status
		o.mu.Unlock()
		log.Printf("bracket %s: entry fill in status %s ignored", o.ID, status)
		return nil
	}
	o.fillPrice = fillPrice
	o.status = BracketFilled
	o.mu.Unlock()

	targetAck, err := o.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     o.Symbol,
		Side:       exitSide(o.Direction),
		Type:       broker.OrderTypeLimit,
		Product:    broker.ProductIntraday,
		Quantity:   o.Quantity,
		LimitPrice: o.Target,
		Tag:        "BRK-TARGET:" + o.ID,
	})
	if err != nil {
		log.Printf("bracket %s: target placement failed: %v", o.ID, err)
	}

	stopAck, err2 := o.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:       o.Symbol,
		Side:         exitSide(o.Direction),
		Type:         broker.OrderTypeStopLoss,
		Product:      broker.ProductIntraday,
		Quantity:     o.Quantity,
		TriggerPrice: o.StopLoss,
		Tag:          "BRK-STOP:" + o.ID,
	})
	if err2 != nil {
		log.Printf("bracket %s: stop placement failed: %v", o.ID, err2)
	}

	o.mu.Lock()
	if o.status != BracketFilled {
		status := o.status
		o.mu.Unlock()
		// The bracket was cancelled while the exit legs were in flight;
		// their order ids were never recorded, so cancel them here.
		for _, a := range []*broker.OrderAck{targetAck, stopAck} {
			if a == nil {
				continue
			}
			if cancelErr := o.broker.CancelOrder(ctx, a.BrokerOrderID); cancelErr != nil {
				log.Printf("bracket %s: cancel of in-flight exit leg failed: %v", o.ID, cancelErr)
			}
		}
		return fmt.Errorf("bracket %s became %s while placing exit legs", o.ID, status)
	}
	if targetAck != nil {
		o.targetOrderID = targetAck.BrokerOrderID
	}
	if stopAck != nil {
		o.stopOrderID = stopAck.BrokerOrderID
	}
	o.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to place bracket target: %w", err)
	}
	if err2 != nil {
		return fmt.Errorf("failed to place bracket stop: %w", err2)
	}
	return nil
}

// OnTargetFill completes the bracket via the target and cancels the stop.
func (o *BracketOrder) OnTargetFill(ctx context.Context, fillPrice float64) error {
	return o.complete(ctx, ExitTarget, fillPrice)
}

// OnStopFill completes the bracket via the stop and cancels the target.
func (o *BracketOrder) OnStopFill(ctx context.Context, fillPrice float64) error {
	return o.complete(ctx, ExitStopLoss, fillPrice)
}

func (o *BracketOrder) complete(ctx context.Context, reason ExitReason, fillPrice float64) error {
	o.mu.Lock()
	if o.status != BracketFilled {
		status := o.status
		o.mu.Unlock()
		log.Printf("bracket %s: %s fill in status %s ignored", o.ID, reason, status)
		return nil
	}
	o.status = BracketCompleted
	o.exitReason = reason
	o.exitPrice = fillPrice

	sibling := o.stopOrderID
	if reason == ExitStopLoss {
		sibling = o.targetOrderID
	}
	o.mu.Unlock()

	if sibling != "" {
		if err := o.broker.CancelOrder(ctx, sibling); err != nil {
			log.Printf("bracket %s: sibling cancel failed: %v", o.ID, err)
		}
	}
	return nil
}

// ModifyTarget moves the target leg while the position is open.
func (o *BracketOrder) ModifyTarget(ctx context.Context, newTarget float64) error {
	o.mu.Lock()
	if o.status == BracketCompleted || o.status == BracketCancelled {
		o.mu.Unlock()
		return fmt.Errorf("cannot modify target in status %s", o.status)
	}
	if o.Direction == DirectionLong && newTarget <= o.EntryPrice {
		o.mu.Unlock()
		return fmt.Errorf("long target %.2f must stay above entry %.2f", newTarget, o.EntryPrice)
	}
	if o.Direction == DirectionShort && newTarget >= o.EntryPrice {
		o.mu.Unlock()
		return fmt.Errorf("short target %.2f must stay below entry %.2f", newTarget, o.EntryPrice)
	}

	oldOrderID := o.targetOrderID
	replace := o.status == BracketFilled && oldOrderID != ""
	o.Target = newTarget
	o.mu.Unlock()

	if !replace {
		return nil
	}

	if err := o.broker.CancelOrder(ctx, oldOrderID); err != nil {
		return fmt.Errorf("failed to cancel old target: %w", err)
	}
	ack, err := o.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     o.Symbol,
		Side:       exitSide(o.Direction),
		Type:       broker.OrderTypeLimit,
		Product:    broker.ProductIntraday,
		Quantity:   o.Quantity,
		LimitPrice: newTarget,
		Tag:        "BRK-TARGET:" + o.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to replace target: %w", err)
	}

	o.mu.Lock()
	o.targetOrderID = ack.BrokerOrderID
	o.mu.Unlock()
	return nil
}

// ModifyStopLoss moves the stop leg, protective direction only.
func (o *BracketOrder) ModifyStopLoss(ctx context.Context, newStop float64) error {
	o.mu.Lock()
	if o.status == BracketCompleted || o.status == BracketCancelled {
		o.mu.Unlock()
		return fmt.Errorf("cannot modify stop in status %s", o.status)
	}
	if o.Direction == DirectionLong && newStop < o.StopLoss {
		o.mu.Unlock()
		return fmt.Errorf("long stop may only move up, %.2f < %.2f", newStop, o.StopLoss)
	}
	if o.Direction == DirectionShort && newStop > o.StopLoss {
		o.mu.Unlock()
		return fmt.Errorf("short stop may only move down, %.2f > %.2f", newStop, o.StopLoss)
	}

	oldOrderID := o.stopOrderID
	replace := o.status == BracketFilled && oldOrderID != ""
	o.StopLoss = newStop
	o.mu.Unlock()

	if !replace {
		return nil
	}

	if err := o.broker.CancelOrder(ctx, oldOrderID); err != nil {
		return fmt.Errorf("failed to cancel old stop: %w", err)
	}
	ack, err := o.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:       o.Symbol,
		Side:         exitSide(o.Direction),
		Type:         broker.OrderTypeStopLoss,
		Product:      broker.ProductIntraday,
		Quantity:     o.Quantity,
		TriggerPrice: newStop,
		Tag:          "BRK-STOP:" + o.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to replace stop: %w", err)
	}

	o.mu.Lock()
	o.stopOrderID = ack.BrokerOrderID
	o.mu.Unlock()
	return nil
}

// CancelAll cancels every open leg. Safe to call from any state, repeatedly.
func (o *BracketOrder) CancelAll(ctx context.Context) error {
	o.mu.Lock()
	if o.status == BracketCompleted || o.status == BracketCancelled {
		o.mu.Unlock()
		return nil
	}
	legs := []string{}
	for _, id := range []string{o.entryOrderID, o.targetOrderID, o.stopOrderID} {
		if id != "" {
			legs = append(legs, id)
		}
	}
	o.status = BracketCancelled
	o.mu.Unlock()

	for _, id := range legs {
		if err := o.broker.CancelOrder(ctx, id); err != nil {
			log.Printf("bracket %s: cancel of leg %s failed: %v", o.ID, id, err)
		}
	}
	return nil
}

// RiskReward returns the reward-to-risk ratio of the current geometry.
func (o *BracketOrder) RiskReward() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	var risk, reward float64
	if o.Direction == DirectionLong {
		risk = o.EntryPrice - o.StopLoss
		reward = o.Target - o.EntryPrice
	} else {
		risk = o.StopLoss - o.EntryPrice
		reward = o.EntryPrice - o.Target
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// Status returns the current lifecycle state.
func (o *BracketOrder) Status() BracketStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// BracketSnapshot is a read-only view for dashboards.
type BracketSnapshot struct {
	ID         string
	Symbol     string
	Direction  Direction
	Quantity   int
	EntryPrice float64
	Target     float64
	StopLoss   float64
	Status     BracketStatus
	ExitReason ExitReason
	FillPrice  float64
	ExitPrice  float64
	RiskReward float64
}

func (o *BracketOrder) Snapshot() BracketSnapshot {
	rr := o.RiskReward()
	o.mu.Lock()
	defer o.mu.Unlock()
	return BracketSnapshot{
		ID:         o.ID,
		Symbol:     o.Symbol,
		Direction:  o.Direction,
		Quantity:   o.Quantity,
		EntryPrice: o.EntryPrice,
		Target:     o.Target,
		StopLoss:   o.StopLoss,
		Status:     o.status,
		ExitReason: o.exitReason,
		FillPrice:  o.fillPrice,
		ExitPrice:  o.exitPrice,
		RiskReward: rr,
	}
}

func entrySide(dir Direction) broker.OrderSide {
	if dir == DirectionLong {
		return broker.SideBuy
	}
	return broker.SideSell
}

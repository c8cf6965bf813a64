package orders

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantsphere/fno-trading-bot/internal/broker"
)

// IcebergStatus is the lifecycle state of a sliced order
type IcebergStatus string

const (
	IcebergPending   IcebergStatus = "PENDING"
	IcebergWorking   IcebergStatus = "WORKING"
	IcebergCompleted IcebergStatus = "COMPLETED"
	IcebergCancelled IcebergStatus = "CANCELLED"
)

// IcebergSlice is one visible child order.
type IcebergSlice struct {
	Index         int
	Quantity      int
	FillPrice     float64
	Filled        bool
	BrokerOrderID string
}

// IcebergOrder works a large order as repeated small visible slices to limit
// market impact. Slices are placed one at a time; each fill advances to the
// next until the total quantity is done.
type IcebergOrder struct {
	mu sync.Mutex

	ID            string
	Symbol        string
	Side          broker.OrderSide
	TotalQuantity int
	VisibleSize   int
	LimitPrice    float64

	status         IcebergStatus
	slices         []IcebergSlice
	nextSlice      int
	filledQuantity int
	fillNotional   float64

	broker    broker.Broker
	createdAt time.Time
}

// NewIcebergOrder splits total into ceil(total/visible) slices. The last
// slice carries the remainder so slice quantities always sum to the total.
func NewIcebergOrder(b broker.Broker, symbol string, side broker.OrderSide, total, visible int, limitPrice float64) (*IcebergOrder, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}
	if total <= 0 {
		return nil, fmt.Errorf("total quantity must be positive, got %d", total)
	}
	if visible <= 0 {
		return nil, fmt.Errorf("visible size must be positive, got %d", visible)
	}
	if visible >= total {
		return nil, fmt.Errorf("visible size %d must be below total %d", visible, total)
	}
	if limitPrice <= 0 {
		return nil, fmt.Errorf("limit price must be positive, got %.2f", limitPrice)
	}

	numSlices := (total + visible - 1) / visible
	slices := make([]IcebergSlice, numSlices)
	remaining := total
	for i := range slices {
		qty := visible
		if remaining < visible {
			qty = remaining
		}
		slices[i] = IcebergSlice{Index: i, Quantity: qty}
		remaining -= qty
	}

	return &IcebergOrder{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		TotalQuantity: total,
		VisibleSize:   visible,
		LimitPrice:    limitPrice,
		status:        IcebergPending,
		slices:        slices,
		broker:        b,
		createdAt:     time.Now(),
	}, nil
}

// IcebergFromImpact sizes the visible slice as impactPercent of the total,
// at least one unit.
func IcebergFromImpact(b broker.Broker, symbol string, side broker.OrderSide, total int, impactPercent, limitPrice float64) (*IcebergOrder, error) {
	if impactPercent <= 0 || impactPercent >= 100 {
		return nil, fmt.Errorf("impact percent must be in (0, 100), got %.2f", impactPercent)
	}
	visible := int(math.Floor(float64(total) * impactPercent / 100))
	if visible < 1 {
		visible = 1
	}
	return NewIcebergOrder(b, symbol, side, total, visible, limitPrice)
}

// PlaceNextSlice submits the next unfilled slice. Idempotent: when the
// current slice is already working or everything is done it is a no-op.
func (o *IcebergOrder) PlaceNextSlice(ctx context.Context) error {
	o.mu.Lock()
	if o.status == IcebergCompleted || o.status == IcebergCancelled {
		o.mu.Unlock()
		return nil
	}
	if o.nextSlice >= len(o.slices) {
		o.mu.Unlock()
		return nil
	}
	slice := &o.slices[o.nextSlice]
	if slice.BrokerOrderID != "" {
		// Current slice already at the broker.
		o.mu.Unlock()
		return nil
	}
	req := broker.OrderRequest{
		Symbol:     o.Symbol,
		Side:       o.Side,
		Type:       broker.OrderTypeLimit,
		Product:    broker.ProductIntraday,
		Quantity:   slice.Quantity,
		LimitPrice: o.LimitPrice,
		Tag:        fmt.Sprintf("ICE:%s:%d", o.ID, slice.Index),
	}
	index := o.nextSlice
	o.mu.Unlock()

	ack, err := o.broker.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to place iceberg slice %d: %w", index, err)
	}

	o.mu.Lock()
	o.slices[index].BrokerOrderID = ack.BrokerOrderID
	if o.status == IcebergPending {
		o.status = IcebergWorking
	}
	o.mu.Unlock()
	return nil
}

// OnSliceFilled records a fill for the working slice, updates the
// volume-weighted average fill price and places the next slice. Duplicate
// fill events are logged and ignored.
func (o *IcebergOrder) OnSliceFilled(ctx context.Context, fillPrice float64) error {
	o.mu.Lock()
	if o.status == IcebergCompleted || o.status == IcebergCancelled {
		status := o.status
		o.mu.Unlock()
		log.Printf("iceberg %s: slice fill in status %s ignored", o.ID, status)
		return nil
	}
	if o.nextSlice >= len(o.slices) {
		o.mu.Unlock()
		log.Printf("iceberg %s: fill with no working slice ignored", o.ID)
		return nil
	}

	slice := &o.slices[o.nextSlice]
	slice.Filled = true
	slice.FillPrice = fillPrice
	o.filledQuantity += slice.Quantity
	o.fillNotional += fillPrice * float64(slice.Quantity)
	o.nextSlice++

	done := o.nextSlice >= len(o.slices)
	if done {
		o.status = IcebergCompleted
	}
	o.mu.Unlock()

	if done {
		return nil
	}
	return o.PlaceNextSlice(ctx)
}

// CancelAll halts future slicing, cancelling any working slice at the
// broker. Already-filled slices keep their fills. Idempotent.
func (o *IcebergOrder) CancelAll(ctx context.Context) error {
	o.mu.Lock()
	if o.status == IcebergCompleted || o.status == IcebergCancelled {
		o.mu.Unlock()
		return nil
	}
	var working string
	if o.nextSlice < len(o.slices) {
		working = o.slices[o.nextSlice].BrokerOrderID
	}
	o.status = IcebergCancelled
	o.mu.Unlock()

	if working != "" {
		if err := o.broker.CancelOrder(ctx, working); err != nil {
			log.Printf("iceberg %s: cancel of working slice failed: %v", o.ID, err)
		}
	}
	return nil
}

// ModifyPrice cancels the working slice and re-places it at the new limit.
func (o *IcebergOrder) ModifyPrice(ctx context.Context, newLimit float64) error {
	if newLimit <= 0 {
		return fmt.Errorf("limit price must be positive, got %.2f", newLimit)
	}

	o.mu.Lock()
	if o.status == IcebergCompleted || o.status == IcebergCancelled {
		o.mu.Unlock()
		return fmt.Errorf("cannot modify price in status %s", o.status)
	}
	var working string
	if o.nextSlice < len(o.slices) {
		working = o.slices[o.nextSlice].BrokerOrderID
		o.slices[o.nextSlice].BrokerOrderID = ""
	}
	o.LimitPrice = newLimit
	o.mu.Unlock()

	if working != "" {
		if err := o.broker.CancelOrder(ctx, working); err != nil {
			return fmt.Errorf("failed to cancel working slice: %w", err)
		}
		return o.PlaceNextSlice(ctx)
	}
	return nil
}

// FilledQuantity returns the quantity filled so far.
func (o *IcebergOrder) FilledQuantity() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filledQuantity
}

// AverageFillPrice returns the volume-weighted average of all fills.
func (o *IcebergOrder) AverageFillPrice() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.filledQuantity == 0 {
		return 0
	}
	return o.fillNotional / float64(o.filledQuantity)
}

// NumSlices returns the total slice count.
func (o *IcebergOrder) NumSlices() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.slices)
}

// Status returns the current lifecycle state.
func (o *IcebergOrder) Status() IcebergStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Slices returns a copy of all slice descriptors.
func (o *IcebergOrder) Slices() []IcebergSlice {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]IcebergSlice, len(o.slices))
	copy(out, o.slices)
	return out
}

// FillQuality summarizes execution quality against the limit price.
type FillQuality struct {
	BestFill     float64
	WorstFill    float64
	AverageFill  float64
	SlippagePerc float64 // average fill vs limit, signed by side
	FilledSlices int
}

// Quality computes fill statistics over completed slices.
func (o *IcebergOrder) Quality() FillQuality {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := FillQuality{}
	for _, s := range o.slices {
		if !s.Filled {
			continue
		}
		q.FilledSlices++
		if q.BestFill == 0 || betterFill(o.Side, s.FillPrice, q.BestFill) {
			q.BestFill = s.FillPrice
		}
		if q.WorstFill == 0 || betterFill(o.Side, q.WorstFill, s.FillPrice) {
			q.WorstFill = s.FillPrice
		}
	}
	if o.filledQuantity > 0 {
		q.AverageFill = o.fillNotional / float64(o.filledQuantity)
		slip := (q.AverageFill - o.LimitPrice) / o.LimitPrice * 100
		if o.Side == broker.SideSell {
			slip = -slip
		}
		q.SlippagePerc = slip
	}
	return q
}

// betterFill reports whether a beats b from the order's perspective.
func betterFill(side broker.OrderSide, a, b float64) bool {
	if side == broker.SideBuy {
		return a < b
	}
	return a > b
}

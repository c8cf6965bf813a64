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

// OCOStatus is the lifecycle state of a one-cancels-other pair
type OCOStatus string

const (
	OCOPending         OCOStatus = "PENDING"
	OCOPlaced          OCOStatus = "PLACED"
	OCOPrimaryFilled   OCOStatus = "PRIMARY_FILLED"
	OCOSecondaryFilled OCOStatus = "SECONDARY_FILLED"
	OCOCancelled       OCOStatus = "CANCELLED"
)

// OCOOrder places two trigger orders straddling the current price: a long
// breakout above the primary trigger and a short breakdown below the
// secondary. Filling either cancels the other and places the matching stop.
type OCOOrder struct {
	mu sync.Mutex

	ID               string
	Symbol           string
	Quantity         int
	PrimaryTrigger   float64 // breakout entry, above
	SecondaryTrigger float64 // breakdown entry, below
	PrimaryStop      float64
	SecondaryStop    float64

	status           OCOStatus
	fillPrice        float64
	primaryOrderID   string
	secondaryOrderID string
	stopOrderID      string

	broker    broker.Broker
	createdAt time.Time
}

// NewOCOOrder validates the trigger geometry. The primary trigger must sit
// strictly above the secondary; stops default to half the trigger range when
// not supplied.
func NewOCOOrder(b broker.Broker, symbol string, qty int, primaryTrigger, secondaryTrigger, primaryStop, secondaryStop float64) (*OCOOrder, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", qty)
	}
	if primaryTrigger <= 0 || secondaryTrigger <= 0 {
		return nil, fmt.Errorf("triggers must be positive")
	}
	if primaryTrigger <= secondaryTrigger {
		return nil, fmt.Errorf("primary trigger %.2f must be above secondary trigger %.2f",
			primaryTrigger, secondaryTrigger)
	}

	rng := primaryTrigger - secondaryTrigger
	if primaryStop <= 0 {
		primaryStop = primaryTrigger - rng/2
	}
	if secondaryStop <= 0 {
		secondaryStop = secondaryTrigger + rng/2
	}
	if primaryStop >= primaryTrigger {
		return nil, fmt.Errorf("primary stop %.2f must be below its trigger %.2f",
			primaryStop, primaryTrigger)
	}
	if secondaryStop <= secondaryTrigger {
		return nil, fmt.Errorf("secondary stop %.2f must be above its trigger %.2f",
			secondaryStop, secondaryTrigger)
	}

	return &OCOOrder{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		Quantity:         qty,
		PrimaryTrigger:   primaryTrigger,
		SecondaryTrigger: secondaryTrigger,
		PrimaryStop:      primaryStop,
		SecondaryStop:    secondaryStop,
		status:           OCOPending,
		broker:           b,
		createdAt:        time.Now(),
	}, nil
}

// OCOFromRange builds an OCO with triggers buffered 2% beyond a
// support/resistance range.
func OCOFromRange(b broker.Broker, symbol string, qty int, support, resistance float64) (*OCOOrder, error) {
	if support <= 0 || resistance <= support {
		return nil, fmt.Errorf("resistance %.2f must be above support %.2f", resistance, support)
	}
	return NewOCOOrder(b, symbol, qty, resistance*1.02, support*0.98, 0, 0)
}

// OCOAroundPrice builds an OCO with triggers a symmetric percent away from
// the current price.
func OCOAroundPrice(b broker.Broker, symbol string, qty int, price, bufferPercent float64) (*OCOOrder, error) {
	if price <= 0 {
		return nil, fmt.Errorf("price must be positive, got %.2f", price)
	}
	if bufferPercent <= 0 {
		bufferPercent = 2.0
	}
	return NewOCOOrder(b, symbol, qty, price*(1+bufferPercent/100), price*(1-bufferPercent/100), 0, 0)
}

// Place submits both trigger legs.
func (o *OCOOrder) Place(ctx context.Context) error {
	o.mu.Lock()
	if o.status != OCOPending {
		o.mu.Unlock()
		return fmt.Errorf("OCO %s cannot be placed from status %s", o.ID, o.status)
	}
	o.mu.Unlock()

	primaryAck, err := o.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:       o.Symbol,
		Side:         broker.SideBuy,
		Type:         broker.OrderTypeStopLoss,
		Product:      broker.ProductIntraday,
		Quantity:     o.Quantity,
		TriggerPrice: o.PrimaryTrigger,
		Tag:          "OCO-PRIMARY:" + o.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to place OCO primary leg: %w", err)
	}

	secondaryAck, err := o.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:       o.Symbol,
		Side:         broker.SideSell,
		Type:         broker.OrderTypeStopLoss,
		Product:      broker.ProductIntraday,
		Quantity:     o.Quantity,
		TriggerPrice: o.SecondaryTrigger,
		Tag:          "OCO-SECONDARY:" + o.ID,
	})
	if err != nil {
		// Leave no one-sided exposure behind.
		if cancelErr := o.broker.CancelOrder(ctx, primaryAck.BrokerOrderID); cancelErr != nil {
			log.Printf("OCO %s: rollback cancel failed: %v", o.ID, cancelErr)
		}
		return fmt.Errorf("failed to place OCO secondary leg: %w", err)
	}

	o.mu.Lock()
	if o.status != OCOPending {
		status := o.status
		o.mu.Unlock()
		// CancelAll ran while the legs were in flight and never saw their
		// order ids, so both must be cancelled here.
		for _, id := range []string{primaryAck.BrokerOrderID, secondaryAck.BrokerOrderID} {
			if cancelErr := o.broker.CancelOrder(ctx, id); cancelErr != nil {
				log.Printf("OCO %s: cancel of in-flight leg %s failed: %v", o.ID, id, cancelErr)
			}
		}
		return fmt.Errorf("OCO %s became %s during placement", o.ID, status)
	}
	o.primaryOrderID = primaryAck.BrokerOrderID
	o.secondaryOrderID = secondaryAck.BrokerOrderID
	o.status = OCOPlaced
	o.mu.Unlock()
	return nil
}

// OnPrimaryFill handles the breakout side filling: cancel the sibling, then
// place the long's stop loss.
func (o *OCOOrder) OnPrimaryFill(ctx context.Context, fillPrice float64) error {
	return o.onFill(ctx, true, fillPrice)
}

// OnSecondaryFill handles the breakdown side filling.
func (o *OCOOrder) OnSecondaryFill(ctx context.Context, fillPrice float64) error {
	return o.onFill(ctx, false, fillPrice)
}

func (o *OCOOrder) onFill(ctx context.Context, primary bool, fillPrice float64) error {
	o.mu.Lock()
	if o.status != OCOPlaced {
		status := o.status
		o.mu.Unlock()
		log.Printf("OCO %s: fill event in status %s ignored", o.ID, status)
		return nil
	}

	var sibling string
	var stopPrice float64
	var stopSide broker.OrderSide
	if primary {
		o.status = OCOPrimaryFilled
		sibling = o.secondaryOrderID
		stopPrice = o.PrimaryStop
		stopSide = broker.SideSell
	} else {
		o.status = OCOSecondaryFilled
		sibling = o.primaryOrderID
		stopPrice = o.SecondaryStop
		stopSide = broker.SideBuy
	}
	o.fillPrice = fillPrice
	o.mu.Unlock()

	if err := o.broker.CancelOrder(ctx, sibling); err != nil {
		log.Printf("OCO %s: sibling cancel failed: %v", o.ID, err)
	}

	ack, err := o.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:       o.Symbol,
		Side:         stopSide,
		Type:         broker.OrderTypeStopLoss,
		Product:      broker.ProductIntraday,
		Quantity:     o.Quantity,
		TriggerPrice: stopPrice,
		Tag:          "OCO-STOP:" + o.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to place OCO stop loss: %w", err)
	}

	o.mu.Lock()
	if o.status == OCOCancelled {
		o.mu.Unlock()
		if cancelErr := o.broker.CancelOrder(ctx, ack.BrokerOrderID); cancelErr != nil {
			log.Printf("OCO %s: cancel of in-flight stop failed: %v", o.ID, cancelErr)
		}
		return fmt.Errorf("OCO %s was cancelled while placing its stop loss", o.ID)
	}
	o.stopOrderID = ack.BrokerOrderID
	o.mu.Unlock()
	return nil
}

// CancelAll cancels every open leg. Safe to call from any state, repeatedly.
func (o *OCOOrder) CancelAll(ctx context.Context) error {
	o.mu.Lock()
	if o.status == OCOCancelled {
		o.mu.Unlock()
		return nil
	}
	legs := []string{}
	for _, id := range []string{o.primaryOrderID, o.secondaryOrderID, o.stopOrderID} {
		if id != "" {
			legs = append(legs, id)
		}
	}
	o.status = OCOCancelled
	o.mu.Unlock()

	for _, id := range legs {
		if err := o.broker.CancelOrder(ctx, id); err != nil {
			log.Printf("OCO %s: cancel of leg %s failed: %v", o.ID, id, err)
		}
	}
	return nil
}

// RiskReward returns the reward-to-risk ratio for each breakout scenario,
// measured from trigger to the opposite trigger versus trigger to stop.
func (o *OCOOrder) RiskReward() (primary, secondary float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rng := o.PrimaryTrigger - o.SecondaryTrigger
	if risk := o.PrimaryTrigger - o.PrimaryStop; risk > 0 {
		primary = rng / risk
	}
	if risk := o.SecondaryStop - o.SecondaryTrigger; risk > 0 {
		secondary = rng / risk
	}
	return primary, secondary
}

// Status returns the current lifecycle state.
func (o *OCOOrder) Status() OCOStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// OCOSnapshot is a read-only view for dashboards.
type OCOSnapshot struct {
	ID               string
	Symbol           string
	Quantity         int
	PrimaryTrigger   float64
	SecondaryTrigger float64
	PrimaryStop      float64
	SecondaryStop    float64
	Status           OCOStatus
	FillPrice        float64
}

func (o *OCOOrder) Snapshot() OCOSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OCOSnapshot{
		ID:               o.ID,
		Symbol:           o.Symbol,
		Quantity:         o.Quantity,
		PrimaryTrigger:   o.PrimaryTrigger,
		SecondaryTrigger: o.SecondaryTrigger,
		PrimaryStop:      o.PrimaryStop,
		SecondaryStop:    o.SecondaryStop,
		Status:           o.status,
		FillPrice:        o.fillPrice,
	}
}

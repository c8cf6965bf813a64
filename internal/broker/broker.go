// Package broker defines the gateway to the brokerage API. The control plane
// only ever talks to this interface; the concrete client lives outside it.
package broker

import (
	"context"
	"time"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "SL"
)

// ProductType selects the margin product at the broker.
type ProductType string

const (
	ProductIntraday ProductType = "MIS"
	ProductDelivery ProductType = "NRML"
)

// OrderRequest is a single leg submitted to the broker.
type OrderRequest struct {
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	LimitPrice   float64
	TriggerPrice float64
	Tag          string
}

// OrderAck is the broker's acceptance of a request.
type OrderAck struct {
	BrokerOrderID string
	PlacedAt      time.Time
}

type Broker interface {
	// PlaceOrder submits a single order leg. The returned ack carries the
	// broker-side order id used for cancellation and fill matching.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// CancelOrder cancels a previously placed order by broker order id.
	CancelOrder(ctx context.Context, brokerOrderID string) error
}

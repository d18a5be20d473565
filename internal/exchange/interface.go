package exchange

import (
	"context"
	"time"
)

// OrderKind distinguishes the roles an order plays for a position.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "Market"
	OrderKindLimit      OrderKind = "Limit"
	OrderKindStopLoss   OrderKind = "StopLoss"
	OrderKindTakeProfit OrderKind = "TakeProfit"
)

// OrderSide is the exchange-facing buy/sell direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderState is the lifecycle state of an exchange order.
type OrderState string

const (
	OrderStatePending         OrderState = "Pending"
	OrderStateAcknowledged    OrderState = "Acknowledged"
	OrderStatePartiallyFilled OrderState = "PartiallyFilled"
	OrderStateFilled          OrderState = "Filled"
	OrderStateCancelled       OrderState = "Cancelled"
	OrderStateRejected        OrderState = "Rejected"
)

// OrderRequest describes one order to place.
type OrderRequest struct {
	Symbol       string
	Kind         OrderKind
	Side         OrderSide
	Qty          float64
	Price        float64 // limit price; 0 for market
	TriggerPrice float64 // trigger for StopLoss / TakeProfit kinds
	ReduceOnly   bool
	OrderLinkID  string // client-side ID, carries the intent UUID for audit
}

// OrderAck is the exchange's acknowledgement of a placed order.
type OrderAck struct {
	OrderID     string
	OrderLinkID string
	State       OrderState
	CreatedTime time.Time
}

// OrderStatus is a point-in-time view of an order.
type OrderStatus struct {
	OrderID     string
	State       OrderState
	ExecutedQty float64
	AvgPrice    float64
	UpdatedTime time.Time
}

// FillEvent reports executed quantity on a tracked order. The core never
// assumes synchronous fills; this stream is the only fill authority.
type FillEvent struct {
	OrderID   string
	Symbol    string
	Qty       float64
	Price     float64
	Timestamp time.Time
}

// Connector is the boundary to one exchange. Calls may block on network
// I/O; everything above the execution coordinator must stay off this
// interface.
type Connector interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error)

	// Fills delivers execution events for orders placed through this
	// connector, in exchange order.
	Fills() <-chan FillEvent
}

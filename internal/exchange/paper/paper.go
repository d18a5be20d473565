package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/exchange"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// Connector is an in-process exchange simulator. Market orders fill
// immediately at the last observed price; conditional stop-loss and
// take-profit orders trigger when a price update crosses them. Behavior is
// deterministic given the same price sequence, which is what the executor
// tests and the demo mode rely on.
type Connector struct {
	mu sync.Mutex

	lastPrice map[string]float64
	leverage  map[string]int
	orders    map[string]*simOrder
	nextID    int

	fills chan exchange.FillEvent

	// failures injected by tests
	failPlace map[string]error // keyed by order kind, "" matches all
}

type simOrder struct {
	id      string
	req     exchange.OrderRequest
	state   exchange.OrderState
	filled  float64
	avg     float64
	updated time.Time
}

// New creates an empty simulator.
func New() *Connector {
	return &Connector{
		lastPrice: make(map[string]float64),
		leverage:  make(map[string]int),
		orders:    make(map[string]*simOrder),
		fills:     make(chan exchange.FillEvent, 256),
		failPlace: make(map[string]error),
	}
}

// Name implements exchange.Connector.
func (c *Connector) Name() string { return "paper" }

// Connect implements exchange.Connector.
func (c *Connector) Connect(ctx context.Context) error { return nil }

// Disconnect implements exchange.Connector.
func (c *Connector) Disconnect() error { return nil }

// Fills implements exchange.Connector.
func (c *Connector) Fills() <-chan exchange.FillEvent { return c.fills }

// SetLeverage implements exchange.Connector.
func (c *Connector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage[symbol] = leverage
	return nil
}

// FailNextPlace makes the next PlaceOrder for the given kind fail with err.
// kind "" applies to any order. Used by retry/backoff tests.
func (c *Connector) FailNextPlace(kind exchange.OrderKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPlace[string(kind)] = err
}

// OnPrice feeds a price update into the simulator, triggering any
// conditional orders it crosses.
func (c *Connector) OnPrice(u types.PriceUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastPrice[u.Symbol] = u.Last

	for _, o := range c.orders {
		if o.req.Symbol != u.Symbol || o.state != exchange.OrderStateAcknowledged {
			continue
		}
		switch o.req.Kind {
		case exchange.OrderKindStopLoss, exchange.OrderKindTakeProfit:
			if triggered(o.req, u.Last) {
				c.fill(o, o.req.TriggerPrice, u.Timestamp)
			}
		case exchange.OrderKindLimit:
			if limitCrossed(o.req, u.Last) {
				c.fill(o, o.req.Price, u.Timestamp)
			}
		}
	}
}

// PlaceOrder implements exchange.Connector. Market orders require a known
// last price for the symbol.
func (c *Connector) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure(req.Kind); err != nil {
		return nil, err
	}

	if req.Qty <= 0 {
		return nil, exchange.ErrOrderSizeTooSmall
	}

	c.nextID++
	o := &simOrder{
		id:      fmt.Sprintf("paper-%d", c.nextID),
		req:     req,
		state:   exchange.OrderStateAcknowledged,
		updated: time.Now(),
	}
	c.orders[o.id] = o

	if req.Kind == exchange.OrderKindMarket {
		last, ok := c.lastPrice[req.Symbol]
		if !ok {
			return nil, exchange.ErrInvalidSymbol
		}
		c.fill(o, last, o.updated)
	}

	return &exchange.OrderAck{
		OrderID:     o.id,
		OrderLinkID: req.OrderLinkID,
		State:       o.state,
		CreatedTime: o.updated,
	}, nil
}

// CancelOrder implements exchange.Connector.
func (c *Connector) CancelOrder(ctx context.Context, symbol, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	if !ok {
		return exchange.ErrOrderNotFound
	}
	if o.state == exchange.OrderStateFilled {
		return exchange.ErrOrderNotFound
	}
	o.state = exchange.OrderStateCancelled
	o.updated = time.Now()
	return nil
}

// GetOrderStatus implements exchange.Connector.
func (c *Connector) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	return &exchange.OrderStatus{
		OrderID:     o.id,
		State:       o.state,
		ExecutedQty: o.filled,
		AvgPrice:    o.avg,
		UpdatedTime: o.updated,
	}, nil
}

// fill completes an order at the given price. Caller holds the lock.
func (c *Connector) fill(o *simOrder, price float64, ts time.Time) {
	o.state = exchange.OrderStateFilled
	o.filled = o.req.Qty
	o.avg = price
	o.updated = ts

	c.fills <- exchange.FillEvent{
		OrderID:   o.id,
		Symbol:    o.req.Symbol,
		Qty:       o.req.Qty,
		Price:     price,
		Timestamp: ts,
	}
}

func (c *Connector) takeFailure(kind exchange.OrderKind) error {
	if err, ok := c.failPlace[string(kind)]; ok {
		delete(c.failPlace, string(kind))
		return err
	}
	if err, ok := c.failPlace[""]; ok {
		delete(c.failPlace, "")
		return err
	}
	return nil
}

// triggered evaluates a conditional close order against the last price.
// The order side is the closing side: a Sell closes a long.
func triggered(req exchange.OrderRequest, last float64) bool {
	closingLong := req.Side == exchange.OrderSideSell
	switch req.Kind {
	case exchange.OrderKindStopLoss:
		if closingLong {
			return last <= req.TriggerPrice
		}
		return last >= req.TriggerPrice
	case exchange.OrderKindTakeProfit:
		if closingLong {
			return last >= req.TriggerPrice
		}
		return last <= req.TriggerPrice
	}
	return false
}

func limitCrossed(req exchange.OrderRequest, last float64) bool {
	if req.Side == exchange.OrderSideBuy {
		return last <= req.Price
	}
	return last >= req.Price
}

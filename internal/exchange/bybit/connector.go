package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/minhtuanle/crypto-strike-bot/internal/exchange"
)

const category = "linear"

// pollInterval is how often tracked orders are reconciled against the
// exchange to synthesize fill events. Bybit's private websocket would push
// these; polling keeps the connector on the REST surface only.
const pollInterval = 2 * time.Second

// Connector implements exchange.Connector over the Bybit v5 UTA API.
type Connector struct {
	httpClient *bybit_api.Client
	cfg        Config

	fills chan exchange.FillEvent

	mu      sync.Mutex
	tracked map[string]*trackedOrder // orderID -> tracking state
	cancel  context.CancelFunc
}

type trackedOrder struct {
	symbol    string
	filledQty float64
}

// New creates a Bybit connector. Orders placed through it are tracked and
// their executions surface on Fills().
func New(cfg Config) *Connector {
	return &Connector{
		httpClient: newHTTPClient(cfg),
		cfg:        cfg,
		fills:      make(chan exchange.FillEvent, 256),
		tracked:    make(map[string]*trackedOrder),
	}
}

// Name implements exchange.Connector.
func (c *Connector) Name() string {
	return "bybit-" + c.cfg.Environment()
}

// Connect starts the fill reconciliation loop.
func (c *Connector) Connect(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.pollFills(pollCtx)
	return nil
}

// Disconnect stops the reconciliation loop.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

// Fills implements exchange.Connector.
func (c *Connector) Fills() <-chan exchange.FillEvent {
	return c.fills
}

// SetLeverage sets symmetric buy/sell leverage for a symbol.
func (c *Connector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lv := strconv.Itoa(leverage)
	params := map[string]interface{}{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lv,
		"sellLeverage": lv,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return classify(err)
	}
	if _, err := checkResponse(result); err != nil {
		// Bybit returns 110043 when leverage is already at the requested
		// value; that is not a failure for our purposes.
		if be, ok := err.(*exchange.Error); ok && be.Code == "110043" {
			return nil
		}
		return err
	}
	return nil
}

// PlaceOrder places one order and registers it for fill tracking.
func (c *Connector) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	apiParams := map[string]interface{}{
		"category": category,
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"qty":      formatQty(req.Qty),
	}

	switch req.Kind {
	case exchange.OrderKindLimit:
		apiParams["orderType"] = "Limit"
		apiParams["price"] = formatPrice(req.Price)
		apiParams["timeInForce"] = "GTC"
	case exchange.OrderKindStopLoss, exchange.OrderKindTakeProfit:
		// Conditional market orders triggered at TriggerPrice, closing the
		// position (reduce only).
		apiParams["orderType"] = "Market"
		apiParams["triggerPrice"] = formatPrice(req.TriggerPrice)
		apiParams["reduceOnly"] = true
		apiParams["closeOnTrigger"] = true
		if req.Kind == exchange.OrderKindStopLoss {
			apiParams["triggerDirection"] = triggerDirection(req.Side, true)
		} else {
			apiParams["triggerDirection"] = triggerDirection(req.Side, false)
		}
	default:
		apiParams["orderType"] = "Market"
	}

	if req.ReduceOnly {
		apiParams["reduceOnly"] = true
	}
	if req.OrderLinkID != "" {
		apiParams["orderLinkId"] = req.OrderLinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, classify(err)
	}

	resp, err := checkResponse(result)
	if err != nil {
		return nil, err
	}

	var ack struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := unmarshalResult(resp, &ack); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tracked[ack.OrderID] = &trackedOrder{symbol: req.Symbol}
	c.mu.Unlock()

	return &exchange.OrderAck{
		OrderID:     ack.OrderID,
		OrderLinkID: ack.OrderLinkID,
		State:       exchange.OrderStateAcknowledged,
		CreatedTime: time.Now(),
	}, nil
}

// CancelOrder cancels an order and stops tracking it.
func (c *Connector) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return classify(err)
	}
	if _, err := checkResponse(result); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.tracked, orderID)
	c.mu.Unlock()
	return nil
}

// GetOrderStatus looks an order up in the open-order list, falling back to
// history for terminal orders.
func (c *Connector) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	if st, err := c.findOrder(ctx, symbol, orderID, false); err == nil {
		return st, nil
	}
	return c.findOrder(ctx, symbol, orderID, true)
}

func (c *Connector) findOrder(ctx context.Context, symbol, orderID string, history bool) (*exchange.OrderStatus, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	svc := c.httpClient.NewUtaBybitServiceWithParams(params)
	var result interface{}
	var err error
	if history {
		result, err = svc.GetOrderHistory(ctx)
	} else {
		result, err = svc.GetOpenOrders(ctx)
	}
	if err != nil {
		return nil, classify(err)
	}

	resp, err := checkResponse(result)
	if err != nil {
		return nil, err
	}

	var list struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := unmarshalResult(resp, &list); err != nil {
		return nil, err
	}

	for _, o := range list.List {
		if o.OrderID != orderID {
			continue
		}
		return &exchange.OrderStatus{
			OrderID:     o.OrderID,
			State:       mapOrderState(o.OrderStatus),
			ExecutedQty: parseFloat(o.CumExecQty),
			AvgPrice:    parseFloat(o.AvgPrice),
			UpdatedTime: parseTimestamp(o.UpdatedTime),
		}, nil
	}

	return nil, exchange.ErrOrderNotFound
}

// pollFills reconciles tracked orders and emits incremental fill events.
func (c *Connector) pollFills(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		snapshot := make(map[string]trackedOrder, len(c.tracked))
		for id, t := range c.tracked {
			snapshot[id] = *t
		}
		c.mu.Unlock()

		for orderID, t := range snapshot {
			status, err := c.GetOrderStatus(ctx, t.symbol, orderID)
			if err != nil {
				continue
			}

			delta := status.ExecutedQty - t.filledQty
			if delta > 0 {
				c.fills <- exchange.FillEvent{
					OrderID:   orderID,
					Symbol:    t.symbol,
					Qty:       delta,
					Price:     status.AvgPrice,
					Timestamp: status.UpdatedTime,
				}
			}

			c.mu.Lock()
			if tr, ok := c.tracked[orderID]; ok {
				tr.filledQty = status.ExecutedQty
				switch status.State {
				case exchange.OrderStateFilled, exchange.OrderStateCancelled, exchange.OrderStateRejected:
					delete(c.tracked, orderID)
				}
			}
			c.mu.Unlock()
		}
	}
}

// triggerDirection maps position side and protective kind to Bybit's
// trigger direction: 1 = rising price, 2 = falling price. The order side
// here is the closing side (opposite of the position).
func triggerDirection(closeSide exchange.OrderSide, stopLoss bool) int {
	// Closing a long is a Sell. A long's stop loss triggers on falling
	// price, its take profit on rising price. Shorts mirror.
	if closeSide == exchange.OrderSideSell {
		if stopLoss {
			return 2
		}
		return 1
	}
	if stopLoss {
		return 1
	}
	return 2
}

func mapOrderState(s string) exchange.OrderState {
	switch s {
	case "New", "Untriggered":
		return exchange.OrderStateAcknowledged
	case "PartiallyFilled":
		return exchange.OrderStatePartiallyFilled
	case "Filled", "Triggered":
		return exchange.OrderStateFilled
	case "Cancelled", "Deactivated":
		return exchange.OrderStateCancelled
	case "Rejected":
		return exchange.OrderStateRejected
	default:
		return exchange.OrderStatePending
	}
}

func checkResponse(response interface{}) (*bybit_api.ServerResponse, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, &exchange.Error{Code: "BAD_RESPONSE", Message: "invalid response type from bybit client"}
	}
	if serverResp.RetCode != 0 {
		return nil, &exchange.Error{
			Code:      strconv.Itoa(serverResp.RetCode),
			Message:   serverResp.RetMsg,
			Retryable: isRetryableCode(serverResp.RetCode),
		}
	}
	return serverResp, nil
}

func unmarshalResult(resp *bybit_api.ServerResponse, v interface{}) error {
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// Bybit v5 error codes that indicate transient conditions.
func isRetryableCode(code int) bool {
	switch code {
	case 10006, // rate limit exceeded
		10016, // server error
		500, 502, 503, 504:
		return true
	}
	return false
}

// classify wraps transport-level errors from the SDK as retryable.
func classify(err error) error {
	return &exchange.Error{
		Code:      "NETWORK",
		Message:   "bybit request failed",
		Details:   err.Error(),
		Retryable: true,
	}
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseTimestamp(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	engerrors "github.com/minhtuanle/crypto-strike-bot/internal/errors"
	"github.com/minhtuanle/crypto-strike-bot/internal/events"
	"github.com/minhtuanle/crypto-strike-bot/internal/exchange"
	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
	"github.com/minhtuanle/crypto-strike-bot/internal/monitoring"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// Publisher is where the coordinator surfaces events; the hub implements it.
type Publisher interface {
	Publish(e events.Event)
}

// StopLossNotice reports a confirmed stop-loss execution to whoever wired
// the callback (the bot routes it to the risk guard and the strategies).
type StopLossNotice struct {
	Symbol    string
	Side      types.Side
	ExitPrice float64
	Qty       float64
	Timestamp time.Time
}

// Config holds the coordinator's tunables.
type Config struct {
	FillTimeout     time.Duration `json:"fill_timeout"`
	Retry           RetryConfig   `json:"retry"`
	ProtectiveRetry RetryConfig   `json:"protective_retry"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		FillTimeout:     10 * time.Second,
		Retry:           DefaultRetryConfig(),
		ProtectiveRetry: ProtectiveRetryConfig(),
	}
}

// Coordinator is the only component that talks to the exchange. It consumes
// intents, one in flight per instrument in submission order, and owns every
// ledger mutation that follows from an exchange confirmation. Fills arrive
// exclusively through the connector's fill stream; nothing here assumes a
// placed order is a filled order.
type Coordinator struct {
	cfg         Config
	conn        exchange.Connector
	book        *ledger.Ledger
	log         *logger.Logger
	pub         Publisher
	instruments map[string]types.Instrument

	onStopLoss   func(n StopLossNotice)
	onQuarantine func(symbol, reason string)

	mu     sync.Mutex
	lanes  map[string]*lane
	agg    map[string]*fillAgg
	halted bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// lane serializes execution for one instrument.
type lane struct {
	mu    sync.Mutex
	queue []intent.Intent
	wake  chan struct{}
}

func (ln *lane) push(it intent.Intent, front bool) {
	ln.mu.Lock()
	if front {
		ln.queue = append([]intent.Intent{it}, ln.queue...)
	} else {
		ln.queue = append(ln.queue, it)
	}
	ln.mu.Unlock()
	select {
	case ln.wake <- struct{}{}:
	default:
	}
}

func (ln *lane) pop() (intent.Intent, bool) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if len(ln.queue) == 0 {
		return intent.Intent{}, false
	}
	it := ln.queue[0]
	ln.queue = ln.queue[1:]
	return it, true
}

// dropEntries removes queued entry intents, returning how many were cut.
func (ln *lane) dropEntries() int {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	kept := ln.queue[:0]
	dropped := 0
	for _, it := range ln.queue {
		if it.IsEntry() {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	ln.queue = kept
	return dropped
}

// fillAgg accumulates executions for one order. wake is closed and replaced
// on every update so waiters can block without polling.
type fillAgg struct {
	qty   float64
	value float64 // qty-weighted notional, for the average price
	wake  chan struct{}
}

func (a *fillAgg) avgPrice() float64 {
	if a.qty == 0 {
		return 0
	}
	return a.value / a.qty
}

// New creates a coordinator over the given connector and ledger.
func New(cfg Config, conn exchange.Connector, book *ledger.Ledger, log *logger.Logger, instruments map[string]types.Instrument) *Coordinator {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	return &Coordinator{
		cfg:         cfg,
		conn:        conn,
		book:        book,
		log:         log,
		instruments: instruments,
		lanes:       make(map[string]*lane),
		agg:         make(map[string]*fillAgg),
	}
}

// SetPublisher wires the event sink.
func (c *Coordinator) SetPublisher(p Publisher) { c.pub = p }

// SetStopLossCallback wires the stop-loss notification sink. Called once
// per confirmed stop-loss execution, after the ledger reflects the close.
func (c *Coordinator) SetStopLossCallback(fn func(n StopLossNotice)) { c.onStopLoss = fn }

// SetQuarantineCallback wires the sink for fatal per-instrument failures.
func (c *Coordinator) SetQuarantineCallback(fn func(symbol, reason string)) { c.onQuarantine = fn }

// Start launches the fill router. Must be called before Submit.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.routeFills()
}

// Stop drains the coordinator. Queued intents are abandoned; in-flight
// executions run to completion or context cancellation.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Submit enqueues intents for execution. HaltAll preempts: it never waits
// behind queued work.
func (c *Coordinator) Submit(intents []intent.Intent) {
	for _, it := range intents {
		if it.Kind == intent.KindHaltAll {
			c.haltAll(it)
			continue
		}
		c.mu.Lock()
		if c.halted && it.IsEntry() {
			c.mu.Unlock()
			c.log.Info("executor: dropped %s %s (halted)", it.Kind, it.Symbol)
			continue
		}
		ln := c.laneFor(it.Symbol)
		c.mu.Unlock()
		ln.push(it, false)
	}
}

// Resume lifts the halt flag after the risk guard has been reset.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.halted = false
	c.mu.Unlock()
	c.log.Status("executor: resumed after halt")
}

// laneFor returns the instrument's lane, starting its worker on first use.
// Caller holds c.mu.
func (c *Coordinator) laneFor(symbol string) *lane {
	ln, ok := c.lanes[symbol]
	if !ok {
		ln = &lane{wake: make(chan struct{}, 1)}
		c.lanes[symbol] = ln
		c.wg.Add(1)
		go c.laneWorker(symbol, ln)
	}
	return ln
}

func (c *Coordinator) laneWorker(symbol string, ln *lane) {
	defer c.wg.Done()
	for {
		it, ok := ln.pop()
		if !ok {
			select {
			case <-c.ctx.Done():
				return
			case <-ln.wake:
			}
			continue
		}
		c.execute(it)
	}
}

// haltAll is the risk guard's kill switch: queued entries are cut first so
// none can slip out while positions unwind, then every open position gets
// a close pushed to the front of its lane.
func (c *Coordinator) haltAll(it intent.Intent) {
	c.mu.Lock()
	c.halted = true
	dropped := 0
	for _, ln := range c.lanes {
		dropped += ln.dropEntries()
	}
	c.mu.Unlock()

	c.log.Status("executor: HALT_ALL (%s), %d queued entries cancelled", it.Reason, dropped)
	c.publish(events.HaltEvent{Halted: true, Reason: it.Reason, Timestamp: it.Timestamp})

	for _, pos := range c.book.OpenPositions() {
		closeIt := intent.Close(pos.Symbol, 0, intent.OriginRiskGuard, it.Reason, it.Timestamp)
		c.mu.Lock()
		ln := c.laneFor(pos.Symbol)
		c.mu.Unlock()
		ln.push(closeIt, true)
	}
}

func (c *Coordinator) execute(it intent.Intent) {
	var err error
	switch it.Kind {
	case intent.KindOpenPosition:
		err = c.executeOpen(it)
	case intent.KindClosePosition:
		err = c.executeClose(it)
	case intent.KindAdjustProtective:
		err = c.executeAdjust(it)
	case intent.KindReversePosition:
		err = c.executeReverse(it)
	default:
		c.log.Error("executor: unknown intent kind %s for %s", it.Kind, it.Symbol)
		return
	}

	if err == nil {
		return
	}
	if engerrors.IsCategory(err, engerrors.CategoryInvariant) {
		c.log.Error("executor: invariant failure on %s: %v", it.Symbol, err)
		c.publish(events.AlertEvent{Severity: "critical", Symbol: it.Symbol,
			Message: fmt.Sprintf("lane quarantined: %v", err), Timestamp: it.Timestamp})
		if c.onQuarantine != nil {
			c.onQuarantine(it.Symbol, err.Error())
		}
		return
	}
	c.log.Error("executor: %s %s failed: %v", it.Kind, it.Symbol, err)
}

// executeOpen places the entry, waits for the fill, records the position,
// then places its protective orders.
func (c *Coordinator) executeOpen(it intent.Intent) error {
	if c.isHalted() {
		c.log.Info("executor: dropped %s %s (halted)", it.Kind, it.Symbol)
		return nil
	}
	if _, open := c.book.Snapshot(it.Symbol); open {
		c.log.Warning("executor: open intent for %s ignored, position already open", it.Symbol)
		return nil
	}

	ack, err := c.placeWithRetry(exchange.OrderRequest{
		Symbol:      it.Symbol,
		Kind:        exchange.OrderKindMarket,
		Side:        orderSide(it.Side),
		Qty:         it.Qty,
		OrderLinkID: it.ID,
	}, c.cfg.Retry)
	if err != nil {
		return engerrors.Wrap(err, placementCategory(err), "executor", "open "+it.Symbol)
	}

	qty, price, err := c.awaitFill(ack.OrderID, it.Symbol, it.Qty)
	if err != nil {
		return err
	}
	if qty < it.Qty {
		c.log.Warning("executor: entry %s filled %.8f of %.8f, keeping the partial", it.Symbol, qty, it.Qty)
	}

	inst := c.instruments[it.Symbol]
	pos := ledger.Position{
		Symbol:       it.Symbol,
		Side:         it.Side,
		EntryPrice:   price,
		Quantity:     qty,
		Leverage:     inst.Leverage,
		OpenedAt:     it.Timestamp,
		EntryOrderID: ack.OrderID,
	}
	if err := c.book.RecordOpen(pos, it.Timestamp); err != nil {
		return err
	}
	c.log.Trade("OPEN %s %s qty=%.8f entry=%.4f (%s)", it.Side, it.Symbol, qty, price, it.StrategyID)
	c.publishPosition(it.Symbol, it.Timestamp)

	if it.StopLoss != 0 || it.TakeProfit != 0 {
		c.placeProtectives(it.Symbol, it.Side, qty, it.StopLoss, it.TakeProfit, it.Timestamp)
	}
	return nil
}

// executeClose unwinds the position, fully or partially. Protective orders
// are cancelled before the closing order goes out so a stop cannot race
// the close.
func (c *Coordinator) executeClose(it intent.Intent) error {
	snap, open := c.book.Snapshot(it.Symbol)
	if !open {
		c.log.Info("executor: close intent for %s ignored, no open position", it.Symbol)
		return nil
	}

	full := it.Qty == 0 || it.Qty >= snap.Quantity
	qty := it.Qty
	if full {
		qty = snap.Quantity
	}

	c.cancelProtectives(&snap)

	if full {
		if err := c.book.MarkClosing(it.Symbol, it.Timestamp); err != nil {
			return err
		}
		c.publishPosition(it.Symbol, it.Timestamp)
	}

	ack, err := c.placeWithRetry(exchange.OrderRequest{
		Symbol:      it.Symbol,
		Kind:        exchange.OrderKindMarket,
		Side:        closingSide(snap.Side),
		Qty:         qty,
		ReduceOnly:  true,
		OrderLinkID: it.ID,
	}, c.cfg.Retry)
	if err != nil {
		return engerrors.Wrap(err, placementCategory(err), "executor", "close "+it.Symbol)
	}
	if err := c.book.RegisterOrder(it.Symbol, ack.OrderID); err != nil {
		return err
	}

	filled, price, err := c.awaitFill(ack.OrderID, it.Symbol, qty)
	if err != nil {
		// One more attempt before escalating; an unclosed position that
		// should be flat is the worst state to sit in quietly.
		c.log.Warning("executor: close %s did not confirm (%v), retrying once", it.Symbol, err)
		if cancelErr := c.conn.CancelOrder(c.ctx, it.Symbol, ack.OrderID); cancelErr != nil && cancelErr != exchange.ErrOrderNotFound {
			c.log.Warning("executor: cancel of stale close order %s: %v", ack.OrderID, cancelErr)
		}
		ack, err = c.placeWithRetry(exchange.OrderRequest{
			Symbol:      it.Symbol,
			Kind:        exchange.OrderKindMarket,
			Side:        closingSide(snap.Side),
			Qty:         qty,
			ReduceOnly:  true,
			OrderLinkID: it.ID + "-r",
		}, c.cfg.Retry)
		if err == nil {
			if regErr := c.book.RegisterOrder(it.Symbol, ack.OrderID); regErr != nil {
				return regErr
			}
			filled, price, err = c.awaitFill(ack.OrderID, it.Symbol, qty)
		}
		if err != nil {
			c.publish(events.AlertEvent{Severity: "critical", Symbol: it.Symbol,
				Message: "closing order did not fill after retry", Timestamp: it.Timestamp})
			return engerrors.Wrap(err, engerrors.CategoryTimeout, "executor", "close "+it.Symbol)
		}
	}

	if full {
		if err := c.book.Close(it.Symbol, price, it.Timestamp); err != nil {
			return err
		}
		c.refreshUnprotectedGauge()
		c.log.Trade("CLOSE %s qty=%.8f exit=%.4f (%s: %s)", it.Symbol, filled, price, it.StrategyID, it.Reason)
		c.publish(events.PositionEvent{Symbol: it.Symbol, Side: snap.Side,
			Status: string(ledger.StatusClosed), EntryPrice: snap.EntryPrice, Timestamp: it.Timestamp})
		return nil
	}

	c.log.Trade("PARTIAL CLOSE %s qty=%.8f exit=%.4f (%s: %s)", it.Symbol, filled, price, it.StrategyID, it.Reason)
	c.publishPosition(it.Symbol, it.Timestamp)

	// The cancelled protectives covered the old quantity; re-arm them for
	// what remains.
	if rest, stillOpen := c.book.Snapshot(it.Symbol); stillOpen && (snap.StopLoss != 0 || snap.TakeProfit != 0) {
		c.placeProtectives(it.Symbol, rest.Side, rest.Quantity, snap.StopLoss, snap.TakeProfit, it.Timestamp)
	}
	return nil
}

// executeAdjust replaces protective orders with new levels. Cancel happens
// before replace; placeProtectives owns the recovery if the replace fails.
func (c *Coordinator) executeAdjust(it intent.Intent) error {
	snap, open := c.book.Snapshot(it.Symbol)
	if !open {
		c.log.Info("executor: adjust intent for %s ignored, no open position", it.Symbol)
		return nil
	}

	sl := it.StopLoss
	tp := it.TakeProfit
	if sl == 0 {
		sl = snap.StopLoss
	}
	if tp == 0 {
		tp = snap.TakeProfit
	}

	c.cancelProtectives(&snap)
	c.placeProtectives(it.Symbol, snap.Side, snap.Quantity, sl, tp, it.Timestamp)
	return nil
}

// executeReverse closes the current position and opens the opposite one.
func (c *Coordinator) executeReverse(it intent.Intent) error {
	snap, open := c.book.Snapshot(it.Symbol)
	if !open {
		c.log.Info("executor: reverse intent for %s ignored, no open position", it.Symbol)
		return nil
	}
	if snap.Side == it.Side {
		c.log.Warning("executor: reverse intent for %s matches current side, ignored", it.Symbol)
		return nil
	}

	closeIt := intent.Close(it.Symbol, 0, it.StrategyID, "reversing: "+it.Reason, it.Timestamp)
	if err := c.executeClose(closeIt); err != nil {
		return err
	}

	openIt := it
	openIt.Kind = intent.KindOpenPosition
	if openIt.Qty == 0 {
		openIt.Qty = snap.Quantity
	}
	return c.executeOpen(openIt)
}

// placeProtectives places the stop-loss and take-profit for a position.
// Exhausted retries flag the position unprotected and hand recovery to a
// background loop; the position is never silently left bare.
func (c *Coordinator) placeProtectives(symbol string, side types.Side, qty, sl, tp float64, ts time.Time) {
	var slID, tpID string
	var failed bool

	if sl != 0 {
		ack, err := c.placeWithRetry(exchange.OrderRequest{
			Symbol:       symbol,
			Kind:         exchange.OrderKindStopLoss,
			Side:         closingSide(side),
			Qty:          qty,
			TriggerPrice: sl,
			ReduceOnly:   true,
		}, c.cfg.ProtectiveRetry)
		if err != nil {
			c.log.Error("executor: stop-loss placement for %s failed: %v", symbol, err)
			failed = true
		} else {
			slID = ack.OrderID
		}
	}
	if tp != 0 {
		ack, err := c.placeWithRetry(exchange.OrderRequest{
			Symbol:       symbol,
			Kind:         exchange.OrderKindTakeProfit,
			Side:         closingSide(side),
			Qty:          qty,
			TriggerPrice: tp,
			ReduceOnly:   true,
		}, c.cfg.ProtectiveRetry)
		if err != nil {
			c.log.Error("executor: take-profit placement for %s failed: %v", symbol, err)
			failed = true
		} else {
			tpID = ack.OrderID
		}
	}

	if slID != "" || tpID != "" {
		slp, tpp := &sl, &tp
		if slID == "" {
			slp = nil
		}
		if tpID == "" {
			tpp = nil
		}
		if err := c.book.UpdateProtective(symbol, slp, tpp, slID, tpID, ts); err != nil {
			c.log.Error("executor: recording protective orders for %s: %v", symbol, err)
		}
	}

	if failed {
		if err := c.book.SetUnprotected(symbol, ts); err != nil {
			c.log.Error("executor: flagging %s unprotected: %v", symbol, err)
			return
		}
		c.refreshUnprotectedGauge()
		c.publish(events.AlertEvent{Severity: "critical", Symbol: symbol,
			Message: "position is unprotected, retrying protective orders", Timestamp: ts})
		c.wg.Add(1)
		go c.reprotectLoop(symbol, side, qty, sl, tp, ts)
	}
	c.publishPosition(symbol, ts)
}

// reprotectLoop keeps trying to protect a bare position until it succeeds,
// the position goes away, or the coordinator stops. ts is the event time
// of the failed placement and stamps the recovery, keeping the ledger
// audit on event time.
func (c *Coordinator) reprotectLoop(symbol string, side types.Side, qty, sl, tp float64, ts time.Time) {
	defer c.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		snap, open := c.book.Snapshot(symbol)
		if !open || !snap.Unprotected {
			return
		}

		req := exchange.OrderRequest{
			Symbol:       symbol,
			Kind:         exchange.OrderKindStopLoss,
			Side:         closingSide(side),
			Qty:          qty,
			TriggerPrice: sl,
			ReduceOnly:   true,
		}
		if sl == 0 {
			req.Kind = exchange.OrderKindTakeProfit
			req.TriggerPrice = tp
		}
		ack, err := c.conn.PlaceOrder(c.ctx, req)
		if err != nil {
			continue
		}

		slID, tpID := ack.OrderID, ""
		slp, tpp := &sl, (*float64)(nil)
		if sl == 0 {
			slID, tpID = "", ack.OrderID
			slp, tpp = nil, &tp
		}
		if err := c.book.UpdateProtective(symbol, slp, tpp, slID, tpID, ts); err != nil {
			c.log.Error("executor: recording recovered protective order for %s: %v", symbol, err)
			return
		}
		c.refreshUnprotectedGauge()
		c.log.Status("executor: %s protective order recovered", symbol)
		c.publish(events.AlertEvent{Severity: "info", Symbol: symbol,
			Message: "protective order recovered", Timestamp: ts})
		return
	}
}

// cancelProtectives cancels whatever protective orders the snapshot holds.
// Not-found is fine: the order may already have filled or been cancelled.
func (c *Coordinator) cancelProtectives(snap *ledger.Position) {
	for _, id := range []string{snap.StopOrderID, snap.TakeProfitOrderID} {
		if id == "" {
			continue
		}
		if err := c.conn.CancelOrder(c.ctx, snap.Symbol, id); err != nil && err != exchange.ErrOrderNotFound {
			c.log.Warning("executor: cancelling protective %s on %s: %v", id, snap.Symbol, err)
		}
	}
}

// placementCategory classifies a failed placement. A transport fault that
// survived every retry is still retryable, not a rejection; only hard
// exchange refusals map to Rejected.
func placementCategory(err error) engerrors.Category {
	if retryable(err) {
		return engerrors.CategoryRetryable
	}
	return engerrors.CategoryRejected
}

func (c *Coordinator) placeWithRetry(req exchange.OrderRequest, cfg RetryConfig) (*exchange.OrderAck, error) {
	var ack *exchange.OrderAck
	err := retryDo(c.ctx, cfg, func() error {
		a, err := c.conn.PlaceOrder(c.ctx, req)
		if err != nil {
			return err
		}
		ack = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	monitoring.RecordOrder(req.Symbol, string(req.Kind))
	c.publish(events.OrderEvent{Symbol: req.Symbol, OrderID: ack.OrderID,
		Kind: string(req.Kind), State: string(ack.State), Qty: req.Qty,
		Price: req.TriggerPrice, Timestamp: ack.CreatedTime})
	return ack, nil
}

// refreshUnprotectedGauge recounts the open positions that still lack
// every protective order and pushes the figure to the metrics registry.
func (c *Coordinator) refreshUnprotectedGauge() {
	n := 0
	for _, p := range c.book.OpenPositions() {
		if p.Unprotected {
			n++
		}
	}
	monitoring.SetUnprotected(n)
}

// awaitFill blocks until the order has executed the wanted quantity, the
// fill timeout passes, or the coordinator stops. On timeout it reconciles
// against the order status once before giving up, since the fill stream
// can lag the exchange.
func (c *Coordinator) awaitFill(orderID, symbol string, want float64) (qty, avgPrice float64, err error) {
	deadline := time.NewTimer(c.cfg.FillTimeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		a := c.aggFor(orderID)
		if a.qty >= want-1e-12 {
			qty, avgPrice = a.qty, a.avgPrice()
			delete(c.agg, orderID)
			c.mu.Unlock()
			return qty, avgPrice, nil
		}
		wake := a.wake
		c.mu.Unlock()

		select {
		case <-c.ctx.Done():
			c.dropAgg(orderID)
			return 0, 0, c.ctx.Err()
		case <-wake:
		case <-deadline.C:
			c.dropAgg(orderID)
			status, serr := c.conn.GetOrderStatus(c.ctx, symbol, orderID)
			if serr == nil && status.State == exchange.OrderStateFilled {
				return status.ExecutedQty, status.AvgPrice, nil
			}
			if serr == nil && status.ExecutedQty > 0 {
				return status.ExecutedQty, status.AvgPrice,
					engerrors.New(engerrors.CategoryTimeout, "executor", "awaitFill",
						fmt.Sprintf("order %s only partially filled", orderID))
			}
			return 0, 0, engerrors.New(engerrors.CategoryTimeout, "executor", "awaitFill",
				fmt.Sprintf("order %s not filled within %s", orderID, c.cfg.FillTimeout))
		}
	}
}

// dropAgg discards an order's fill accumulator once no waiter will read
// it again.
func (c *Coordinator) dropAgg(orderID string) {
	c.mu.Lock()
	delete(c.agg, orderID)
	c.mu.Unlock()
}

// aggFor returns the order's fill accumulator. Caller holds c.mu.
func (c *Coordinator) aggFor(orderID string) *fillAgg {
	a, ok := c.agg[orderID]
	if !ok {
		a = &fillAgg{wake: make(chan struct{})}
		c.agg[orderID] = a
	}
	return a
}

// routeFills is the single consumer of the connector's fill stream. It
// feeds waiters and applies protective-order executions to the ledger.
func (c *Coordinator) routeFills() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.conn.Fills():
			c.handleFill(f)
		}
	}
}

func (c *Coordinator) handleFill(f exchange.FillEvent) {
	// Ledger first, then waiters: a woken lane worker must observe the
	// post-fill state.
	if symbol, owned := c.book.OwnsOrder(f.OrderID); owned {
		if snap, open := c.book.Snapshot(symbol); open {
			switch f.OrderID {
			case snap.StopOrderID:
				c.applyProtectiveFill(snap, f, true)
				return
			case snap.TakeProfitOrderID:
				c.applyProtectiveFill(snap, f, false)
				return
			default:
				// Entry and closing orders are owned by a waiting lane
				// worker; only the quantity change is recorded here.
				if err := c.book.RecordFill(f.OrderID, f.Qty, f.Price, f.Timestamp); err != nil {
					c.log.Error("executor: recording fill %s on %s: %v", f.OrderID, symbol, err)
				}
			}
		}
	}

	c.mu.Lock()
	a := c.aggFor(f.OrderID)
	a.qty += f.Qty
	a.value += f.Qty * f.Price
	close(a.wake)
	a.wake = make(chan struct{})
	c.mu.Unlock()
}

// applyProtectiveFill closes the ledger position after a stop-loss or
// take-profit execution and, for stops, notifies the strike sink.
func (c *Coordinator) applyProtectiveFill(snap ledger.Position, f exchange.FillEvent, isStop bool) {
	if err := c.book.RecordFill(f.OrderID, f.Qty, f.Price, f.Timestamp); err != nil {
		c.log.Error("executor: recording protective fill on %s: %v", snap.Symbol, err)
		return
	}

	rest, open := c.book.Snapshot(snap.Symbol)
	if open && rest.Quantity > 1e-12 {
		// Partial protective execution; the position lives on.
		c.publishPosition(snap.Symbol, f.Timestamp)
		return
	}

	if err := c.book.Close(snap.Symbol, f.Price, f.Timestamp); err != nil {
		c.log.Error("executor: closing %s after protective fill: %v", snap.Symbol, err)
		return
	}

	// The sibling protective order is now pointless.
	other := snap.TakeProfitOrderID
	if !isStop {
		other = snap.StopOrderID
	}
	if other != "" {
		if err := c.conn.CancelOrder(c.ctx, snap.Symbol, other); err != nil && err != exchange.ErrOrderNotFound {
			c.log.Warning("executor: cancelling sibling protective %s: %v", other, err)
		}
	}

	kind := "TAKE_PROFIT"
	if isStop {
		kind = "STOP_LOSS"
	}
	c.log.Trade("%s FILLED %s qty=%.8f exit=%.4f", kind, snap.Symbol, f.Qty, f.Price)
	c.publish(events.PositionEvent{Symbol: snap.Symbol, Side: snap.Side,
		Status: string(ledger.StatusClosed), EntryPrice: snap.EntryPrice, Timestamp: f.Timestamp})

	if isStop && c.onStopLoss != nil {
		c.onStopLoss(StopLossNotice{
			Symbol:    snap.Symbol,
			Side:      snap.Side,
			ExitPrice: f.Price,
			Qty:       f.Qty,
			Timestamp: f.Timestamp,
		})
	}
}

func (c *Coordinator) isHalted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

func (c *Coordinator) publish(e events.Event) {
	if c.pub != nil {
		c.pub.Publish(e)
	}
}

func (c *Coordinator) publishPosition(symbol string, ts time.Time) {
	snap, open := c.book.Snapshot(symbol)
	if !open {
		return
	}
	c.publish(events.PositionEvent{
		Symbol:      snap.Symbol,
		Side:        snap.Side,
		Status:      string(snap.Status),
		Quantity:    snap.Quantity,
		EntryPrice:  snap.EntryPrice,
		StopLoss:    snap.StopLoss,
		TakeProfit:  snap.TakeProfit,
		Unprotected: snap.Unprotected,
		Timestamp:   ts,
	})
}

func orderSide(s types.Side) exchange.OrderSide {
	if s == types.SideLong {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

func closingSide(s types.Side) exchange.OrderSide {
	if s == types.SideLong {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

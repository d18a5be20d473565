package executor

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/minhtuanle/crypto-strike-bot/internal/errors"
	"github.com/minhtuanle/crypto-strike-bot/internal/exchange"
	"github.com/minhtuanle/crypto-strike-bot/internal/exchange/paper"
	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
	"github.com/minhtuanle/crypto-strike-bot/internal/monitoring"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// scrapeMetric returns the exposition line for the named metric, if any.
func scrapeMetric(t *testing.T, name string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	monitoring.NewMetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, name) {
			return line
		}
	}
	return ""
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testInstruments() map[string]types.Instrument {
	return map[string]types.Instrument{
		"BTCUSDT": {Symbol: "BTCUSDT", TickSize: 0.1, MinOrderQty: 0.001, QtyStep: 0.001, Leverage: 5},
		"ETHUSDT": {Symbol: "ETHUSDT", TickSize: 0.01, MinOrderQty: 0.01, QtyStep: 0.01, Leverage: 5},
	}
}

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *paper.Connector, *ledger.Ledger) {
	t.Helper()
	sim := paper.New()
	book := ledger.New()
	c := New(cfg, sim, book, logger.NewWriter("test", io.Discard), testInstruments())
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c, sim, book
}

func price(symbol string, last float64, ts time.Time) types.PriceUpdate {
	return types.PriceUpdate{Symbol: symbol, Timestamp: ts, Last: last, Bid: last, Ask: last}
}

func openIntent(symbol string, side types.Side, qty, sl, tp float64, ts time.Time) intent.Intent {
	it := intent.Open(symbol, side, qty, "test", ts)
	it.StopLoss = sl
	it.TakeProfit = tp
	return it
}

func waitOpen(t *testing.T, book *ledger.Ledger, symbol string) ledger.Position {
	t.Helper()
	var snap ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot(symbol)
		if ok {
			snap = pos
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond, "position for %s never opened", symbol)
	return snap
}

func TestOpenPlacesEntryAndProtectives(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	sim.OnPrice(price("BTCUSDT", 100, base))

	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 0.5, 95, 110, base)})

	var snap ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		snap = pos
		return ok && pos.StopOrderID != "" && pos.TakeProfitOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, ledger.StatusOpen, snap.Status)
	assert.Equal(t, types.SideLong, snap.Side)
	assert.Equal(t, 0.5, snap.Quantity)
	assert.Equal(t, 100.0, snap.EntryPrice)
	assert.Equal(t, 95.0, snap.StopLoss)
	assert.Equal(t, 110.0, snap.TakeProfit)
	assert.False(t, snap.Unprotected)

	sl, err := sim.GetOrderStatus(context.Background(), "BTCUSDT", snap.StopOrderID)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStateAcknowledged, sl.State)
}

func TestStopLossFillClosesPositionAndNotifies(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	notices := make(chan StopLossNotice, 4)
	c.SetStopLossCallback(func(n StopLossNotice) { notices <- n })

	sim.OnPrice(price("BTCUSDT", 100, base))
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 0, base)})
	snap := waitOpen(t, book, "BTCUSDT")
	require.Eventually(t, func() bool {
		pos, _ := book.Snapshot("BTCUSDT")
		return pos.StopOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	// Price crosses the stop: the simulator fills it and the fill stream
	// drives the close.
	sim.OnPrice(price("BTCUSDT", 94, base.Add(time.Minute)))

	select {
	case n := <-notices:
		assert.Equal(t, "BTCUSDT", n.Symbol)
		assert.Equal(t, types.SideLong, n.Side)
		assert.Equal(t, 95.0, n.ExitPrice)
		assert.Equal(t, base.Add(time.Minute), n.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no stop-loss notice")
	}

	_, stillOpen := book.Snapshot("BTCUSDT")
	assert.False(t, stillOpen)
	hist := book.History()
	require.Len(t, hist, 1)
	assert.Equal(t, ledger.StatusClosed, hist[0].Status)
	assert.Equal(t, 95.0, hist[0].ExitPrice)
	assert.Equal(t, snap.EntryPrice, hist[0].EntryPrice)
}

func TestTakeProfitFillDoesNotNotifyStrike(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	notices := make(chan StopLossNotice, 4)
	c.SetStopLossCallback(func(n StopLossNotice) { notices <- n })

	sim.OnPrice(price("BTCUSDT", 100, base))
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 110, base)})
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		return ok && pos.TakeProfitOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	sim.OnPrice(price("BTCUSDT", 111, base.Add(time.Minute)))

	require.Eventually(t, func() bool {
		return len(book.History()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 110.0, book.History()[0].ExitPrice)
	assert.Empty(t, notices, "take profit is not a strike")
}

func TestCloseCancelsProtectivesBeforeClosing(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	sim.OnPrice(price("BTCUSDT", 100, base))
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 0, base)})
	var snap ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		snap = pos
		return ok && pos.StopOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	c.Submit([]intent.Intent{intent.Close("BTCUSDT", 0, "test", "manual", base.Add(time.Minute))})

	require.Eventually(t, func() bool {
		return len(book.History()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The stop cannot fire after the close: it was cancelled first.
	sl, err := sim.GetOrderStatus(context.Background(), "BTCUSDT", snap.StopOrderID)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStateCancelled, sl.State)
}

func TestPartialCloseKeepsPositionOpenAndRearms(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	sim.OnPrice(price("BTCUSDT", 100, base))
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 110, base)})
	var before ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		before = pos
		return ok && pos.StopOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	c.Submit([]intent.Intent{intent.Close("BTCUSDT", 0.4, "test", "partial profit", base.Add(time.Minute))})

	var after ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		after = pos
		return ok && pos.Quantity < 0.7 && pos.StopOrderID != "" && pos.StopOrderID != before.StopOrderID
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, ledger.StatusOpen, after.Status)
	assert.InDelta(t, 0.6, after.Quantity, 1e-9)
	assert.Equal(t, 95.0, after.StopLoss, "protective levels survive the partial close")
	assert.Empty(t, book.History())
}

func TestAdjustReplacesStopOrder(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	sim.OnPrice(price("BTCUSDT", 100, base))
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 0, base)})
	var before ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		before = pos
		return ok && pos.StopOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	c.Submit([]intent.Intent{intent.Adjust("BTCUSDT", 98, 0, "test", base.Add(time.Minute))})

	var after ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		after = pos
		return ok && pos.StopLoss == 98
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, before.StopOrderID, after.StopOrderID)

	old, err := sim.GetOrderStatus(context.Background(), "BTCUSDT", before.StopOrderID)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStateCancelled, old.State)
}

func TestReverseClosesThenOpensOpposite(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	sim.OnPrice(price("BTCUSDT", 100, base))
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 0, 0, base)})
	waitOpen(t, book, "BTCUSDT")

	rev := intent.New(intent.KindReversePosition, "BTCUSDT", "test", base.Add(time.Minute))
	rev.Side = types.SideShort
	rev.Qty = 1
	c.Submit([]intent.Intent{rev})

	var snap ledger.Position
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		snap = pos
		return ok && pos.Side == types.SideShort
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1.0, snap.Quantity)
	hist := book.History()
	require.Len(t, hist, 1)
	assert.Equal(t, types.SideLong, hist[0].Side)
}

func TestProtectiveFailureFlagsUnprotectedThenRecovers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProtectiveRetry = RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	c, sim, book := newTestCoordinator(t, cfg)

	sim.OnPrice(price("BTCUSDT", 100, base))
	sim.FailNextPlace(exchange.OrderKindStopLoss, exchange.ErrInsufficientMargin)
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 0, base)})

	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		return ok && pos.Unprotected
	}, 2*time.Second, 5*time.Millisecond, "position never flagged unprotected")
	require.Eventually(t, func() bool {
		return scrapeMetric(t, "strike_bot_unprotected_positions") == "strike_bot_unprotected_positions 1"
	}, time.Second, 5*time.Millisecond, "unprotected gauge never raised")

	// The recovery loop keeps trying until the stop lands.
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		return ok && !pos.Unprotected && pos.StopOrderID != ""
	}, 6*time.Second, 50*time.Millisecond, "protective order never recovered")
	require.Eventually(t, func() bool {
		return scrapeMetric(t, "strike_bot_unprotected_positions") == "strike_bot_unprotected_positions 0"
	}, time.Second, 5*time.Millisecond, "unprotected gauge never cleared")

	// The recovery is stamped with the event time of the failed placement,
	// not the wall clock of the retry.
	var recovered *ledger.AuditEntry
	for _, e := range book.AuditLog() {
		if e.Op == ledger.OpProtective && e.After != nil && !e.After.Unprotected && e.Before != nil && e.Before.Unprotected {
			entry := e
			recovered = &entry
		}
	}
	require.NotNil(t, recovered, "no recovery entry in the audit trail")
	assert.Equal(t, base, recovered.Timestamp)
}

func TestHaltAllClosesPositionsAndDropsEntries(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	sim.OnPrice(price("BTCUSDT", 100, base))
	sim.OnPrice(price("ETHUSDT", 3000, base))

	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 0, base)})
	waitOpen(t, book, "BTCUSDT")

	c.Submit([]intent.Intent{intent.HaltAll("strike limit reached", base.Add(time.Minute))})

	require.Eventually(t, func() bool {
		_, open := book.Snapshot("BTCUSDT")
		return !open && len(book.History()) == 1
	}, 2*time.Second, 5*time.Millisecond, "halt never closed the position")

	// Entries submitted while halted are dropped before they reach a lane.
	c.Submit([]intent.Intent{openIntent("ETHUSDT", types.SideLong, 1, 0, 0, base.Add(2*time.Minute))})
	time.Sleep(50 * time.Millisecond)
	_, open := book.Snapshot("ETHUSDT")
	assert.False(t, open)

	// After the guard is reset the coordinator trades again.
	c.Resume()
	c.Submit([]intent.Intent{openIntent("ETHUSDT", types.SideLong, 1, 0, 0, base.Add(3*time.Minute))})
	waitOpen(t, book, "ETHUSDT")
}

// Third strike halts everything: the stop-loss notice feeds a guard-style
// callback that answers with HaltAll, and a pending entry on another
// instrument never executes.
func TestStopLossNoticeCanTriggerHalt(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	c.SetStopLossCallback(func(n StopLossNotice) {
		c.Submit([]intent.Intent{intent.HaltAll("strike limit reached", n.Timestamp)})
	})

	sim.OnPrice(price("BTCUSDT", 100, base))
	sim.OnPrice(price("ETHUSDT", 3000, base))
	c.Submit([]intent.Intent{openIntent("BTCUSDT", types.SideLong, 1, 95, 0, base)})
	require.Eventually(t, func() bool {
		pos, ok := book.Snapshot("BTCUSDT")
		return ok && pos.StopOrderID != ""
	}, 2*time.Second, 5*time.Millisecond)

	sim.OnPrice(price("BTCUSDT", 94, base.Add(time.Minute)))

	require.Eventually(t, func() bool {
		return len(book.History()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	c.Submit([]intent.Intent{openIntent("ETHUSDT", types.SideLong, 1, 0, 0, base.Add(2*time.Minute))})
	time.Sleep(50 * time.Millisecond)
	_, open := book.Snapshot("ETHUSDT")
	assert.False(t, open, "entry after halt must not execute")
}

func TestPlacedOrdersAreCounted(t *testing.T) {
	c, sim, book := newTestCoordinator(t, DefaultConfig())
	sim.OnPrice(price("ETHUSDT", 3000, base))

	before := scrapeMetric(t, `strike_bot_orders_total{kind="Market",symbol="ETHUSDT"}`)
	c.Submit([]intent.Intent{openIntent("ETHUSDT", types.SideLong, 1, 0, 0, base)})
	waitOpen(t, book, "ETHUSDT")

	after := scrapeMetric(t, `strike_bot_orders_total{kind="Market",symbol="ETHUSDT"}`)
	assert.NotEqual(t, before, after, "order counter did not move")
	assert.NotEmpty(t, after)
}

// A fill that never arrives must not leave its accumulator behind; ghost
// order IDs would otherwise pile up in the coordinator for the session's
// lifetime.
func TestAwaitFillTimeoutDiscardsAccumulator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillTimeout = 20 * time.Millisecond
	c, _, _ := newTestCoordinator(t, cfg)

	_, _, err := c.awaitFill("ghost-1", "BTCUSDT", 1)
	require.Error(t, err)
	assert.True(t, engerrors.IsCategory(err, engerrors.CategoryTimeout))

	c.mu.Lock()
	_, kept := c.agg["ghost-1"]
	c.mu.Unlock()
	assert.False(t, kept, "fill accumulator survived the timeout")
}

func TestPlacementCategoryPreservesRetryable(t *testing.T) {
	assert.Equal(t, engerrors.CategoryRetryable, placementCategory(exchange.ErrTimeout))
	assert.Equal(t, engerrors.CategoryRetryable, placementCategory(exchange.ErrRateLimitExceeded))
	assert.Equal(t, engerrors.CategoryRejected, placementCategory(exchange.ErrInsufficientMargin))
	assert.Equal(t, engerrors.CategoryRejected, placementCategory(exchange.ErrOrderSizeTooSmall))
}

package strategy

import (
	"io"
	"sync"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.NewWriter("test", io.Discard)
}

func tick(symbol string, last float64, ts time.Time) types.PriceUpdate {
	return types.PriceUpdate{Symbol: symbol, Timestamp: ts, Last: last, Bid: last, Ask: last}
}

// stubStrategy emits a fixed intent set on every update and records resets.
type stubStrategy struct {
	name   string
	emit   func(u types.PriceUpdate) []intent.Intent
	resets []string
	allow  bool
	gated  bool
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) OnPriceUpdate(u types.PriceUpdate, _ *ledger.Position) []intent.Intent {
	if s.emit == nil {
		return nil
	}
	return s.emit(u)
}

func (s *stubStrategy) Reset(symbol string) { s.resets = append(s.resets, symbol) }

func (s *stubStrategy) AllowEntry(string, time.Time) bool {
	if !s.gated {
		return true
	}
	return s.allow
}

type panicStrategy struct{}

func (panicStrategy) Name() string { return "panic" }
func (panicStrategy) OnPriceUpdate(types.PriceUpdate, *ledger.Position) []intent.Intent {
	panic("boom")
}
func (panicStrategy) Reset(string) {}

func TestEngineResetsOnFeedGap(t *testing.T) {
	stub := &stubStrategy{name: "stub", emit: func(u types.PriceUpdate) []intent.Intent {
		return []intent.Intent{intent.Open(u.Symbol, types.SideLong, 1, "stub", u.Timestamp)}
	}}
	e := NewEngine(ledger.New(), testLogger(), stub)

	out := e.Evaluate(tick("BTCUSDT", 50000, testBase))
	require.Len(t, out, 1)

	// Beyond the max gap: windows are dropped and the tick is swallowed.
	out = e.Evaluate(tick("BTCUSDT", 50100, testBase.Add(10*time.Minute)))
	assert.Empty(t, out)
	assert.Equal(t, []string{"BTCUSDT"}, stub.resets)

	// The next in-order tick evaluates normally again.
	out = e.Evaluate(tick("BTCUSDT", 50200, testBase.Add(10*time.Minute+time.Second)))
	assert.Len(t, out, 1)
}

func TestEngineResetsOnOutOfOrderTick(t *testing.T) {
	stub := &stubStrategy{name: "stub"}
	e := NewEngine(ledger.New(), testLogger(), stub)

	e.Evaluate(tick("ETHUSDT", 3000, testBase))
	e.Evaluate(tick("ETHUSDT", 3001, testBase.Add(-time.Second)))

	assert.Equal(t, []string{"ETHUSDT"}, stub.resets)
}

func TestEngineGapIsPerInstrument(t *testing.T) {
	stub := &stubStrategy{name: "stub"}
	e := NewEngine(ledger.New(), testLogger(), stub)

	e.Evaluate(tick("BTCUSDT", 50000, testBase))
	e.Evaluate(tick("ETHUSDT", 3000, testBase.Add(time.Hour)))

	assert.Empty(t, stub.resets, "first tick on another instrument is not a discontinuity")
}

func TestEngineQuarantineBlocksLane(t *testing.T) {
	stub := &stubStrategy{name: "stub", emit: func(u types.PriceUpdate) []intent.Intent {
		return []intent.Intent{intent.Close(u.Symbol, 0, "stub", "test", u.Timestamp)}
	}}
	e := NewEngine(ledger.New(), testLogger(), stub)

	e.Quarantine("BTCUSDT", "ledger invariant violated")
	assert.Empty(t, e.Evaluate(tick("BTCUSDT", 50000, testBase)))

	reason, ok := e.Quarantined("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "ledger invariant violated", reason)

	// Other lanes keep running.
	assert.Len(t, e.Evaluate(tick("ETHUSDT", 3000, testBase)), 1)

	e.Lift("BTCUSDT")
	assert.Len(t, e.Evaluate(tick("BTCUSDT", 50000, testBase.Add(time.Second))), 1)
}

func TestEnginePanickingStrategyIsIsolated(t *testing.T) {
	healthy := &stubStrategy{name: "healthy", emit: func(u types.PriceUpdate) []intent.Intent {
		return []intent.Intent{intent.Close(u.Symbol, 0, "healthy", "test", u.Timestamp)}
	}}
	e := NewEngine(ledger.New(), testLogger(), panicStrategy{}, healthy)

	out := e.Evaluate(tick("BTCUSDT", 50000, testBase))
	require.Len(t, out, 1)
	assert.Equal(t, "healthy", out[0].StrategyID)
}

func TestEngineGateSuppressesEntriesOnly(t *testing.T) {
	emitter := &stubStrategy{name: "emitter", emit: func(u types.PriceUpdate) []intent.Intent {
		return []intent.Intent{
			intent.Open(u.Symbol, types.SideLong, 1, "emitter", u.Timestamp),
			intent.Close(u.Symbol, 0, "emitter", "test", u.Timestamp),
		}
	}}
	gate := &stubStrategy{name: "gate", gated: true, allow: false}
	e := NewEngine(ledger.New(), testLogger(), emitter, gate)

	out := e.Evaluate(tick("BTCUSDT", 50000, testBase))
	require.Len(t, out, 1)
	assert.Equal(t, intent.KindClosePosition, out[0].Kind)
}

func TestEngineNotifyStopLossRoutesToObservers(t *testing.T) {
	sr := NewStopAndReverse(DefaultStopAndReverseConfig())
	plain := &stubStrategy{name: "plain"}
	e := NewEngine(ledger.New(), testLogger(), plain, sr)

	out := e.NotifyStopLoss(StopLossFill{
		Symbol:    "BTCUSDT",
		Side:      types.SideLong,
		ExitPrice: 48000,
		Qty:       0.5,
		Timestamp: testBase,
	})
	require.Len(t, out, 1)
	assert.Equal(t, intent.KindOpenPosition, out[0].Kind)
	assert.Equal(t, types.SideShort, out[0].Side)
}

// Evaluate and NotifyStopLoss arrive on different goroutines in the live
// bot (feed loop vs fill router); the engine must serialize them so shared
// strategy state is never touched concurrently.
func TestEngineSerializesEvaluateAndStopLossNotices(t *testing.T) {
	sar := NewStopAndReverse(DefaultStopAndReverseConfig())
	ts := NewThreeStrike(DefaultThreeStrikeConfig())
	e := NewEngine(ledger.New(), testLogger(), sar, ts)

	const rounds = 300
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			e.Evaluate(tick("BTCUSDT", 50000+float64(i), testBase.Add(time.Duration(i)*time.Second)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			e.NotifyStopLoss(StopLossFill{
				Symbol:    "BTCUSDT",
				Side:      types.SideLong,
				ExitPrice: 49000,
				Qty:       0.5,
				Timestamp: testBase.Add(time.Duration(i) * time.Second),
			})
		}
	}()
	wg.Wait()
}

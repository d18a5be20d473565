package strategy

import (
	"math/rand"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

func testInstruments() map[string]types.Instrument {
	return map[string]types.Instrument{
		"BTCUSDT": {Symbol: "BTCUSDT", TickSize: 0.01, MinOrderQty: 0.001, QtyStep: 0.001},
	}
}

func TestTrailingStopRatchetsUpward(t *testing.T) {
	ts := NewTrailingStop(TrailingStopConfig{TrailPercent: 1.0}, testInstruments())
	pos := openLong("BTCUSDT", 100, 1)
	pos.StopLoss = 98

	out := ts.OnPriceUpdate(tick("BTCUSDT", 101, testBase), pos)
	require.Len(t, out, 1)
	assert.Equal(t, intent.KindAdjustProtective, out[0].Kind)
	assert.InDelta(t, 99.99, out[0].StopLoss, 1e-9)

	// A pullback never loosens the stop.
	pos.StopLoss = out[0].StopLoss
	out = ts.OnPriceUpdate(tick("BTCUSDT", 100.5, testBase.Add(time.Second)), pos)
	assert.Empty(t, out)

	// A new high ratchets again.
	out = ts.OnPriceUpdate(tick("BTCUSDT", 102, testBase.Add(2*time.Second)), pos)
	require.Len(t, out, 1)
	assert.InDelta(t, 100.98, out[0].StopLoss, 1e-9)
}

func TestTrailingStopShortRatchetsDownward(t *testing.T) {
	ts := NewTrailingStop(TrailingStopConfig{TrailPercent: 1.0}, testInstruments())
	pos := &ledger.Position{
		Symbol:     "BTCUSDT",
		Side:       types.SideShort,
		EntryPrice: 100,
		Quantity:   1,
		StopLoss:   102,
		Status:     ledger.StatusOpen,
	}

	out := ts.OnPriceUpdate(tick("BTCUSDT", 99, testBase), pos)
	require.Len(t, out, 1)
	assert.InDelta(t, 99.99, out[0].StopLoss, 1e-9)
}

func TestTrailingStopPartialProfitMilestone(t *testing.T) {
	ts := NewTrailingStop(DefaultTrailingStopConfig(), testInstruments())
	pos := openLong("BTCUSDT", 100, 1)
	pos.StopLoss = 98

	out := ts.OnPriceUpdate(tick("BTCUSDT", 105, testBase), pos)
	require.Len(t, out, 2)

	assert.Equal(t, intent.KindClosePosition, out[0].Kind)
	assert.InDelta(t, 0.2, out[0].Qty, 1e-9, "20%% of the position at the 5%% level")

	// The single protective adjustment is the tighter of break-even and
	// the trailed stop (105 * 0.99 = 103.95 here).
	assert.Equal(t, intent.KindAdjustProtective, out[1].Kind)
	assert.InDelta(t, 103.95, out[1].StopLoss, 1e-9)

	// Same level never fires twice.
	pos.StopLoss = out[1].StopLoss
	out = ts.OnPriceUpdate(tick("BTCUSDT", 105, testBase.Add(time.Second)), pos)
	assert.Empty(t, out)
}

func TestTrailingStopDustRemainderClosesWhole(t *testing.T) {
	ts := NewTrailingStop(DefaultTrailingStopConfig(), testInstruments())
	pos := openLong("BTCUSDT", 100, 0.001) // already at the exchange minimum

	out := ts.OnPriceUpdate(tick("BTCUSDT", 106, testBase), pos)
	require.Len(t, out, 1)
	assert.Equal(t, intent.KindClosePosition, out[0].Kind)
	assert.Zero(t, out[0].Qty, "full close instead of leaving dust")
}

func TestTrailingStopFlatClearsState(t *testing.T) {
	ts := NewTrailingStop(TrailingStopConfig{TrailPercent: 1.0}, testInstruments())
	pos := openLong("BTCUSDT", 100, 1)

	ts.OnPriceUpdate(tick("BTCUSDT", 110, testBase), pos)
	ts.OnPriceUpdate(tick("BTCUSDT", 110, testBase.Add(time.Second)), nil)

	// A fresh position starts from its own entry, not the old water mark.
	fresh := openLong("BTCUSDT", 100, 1)
	fresh.StopLoss = 99
	out := ts.OnPriceUpdate(tick("BTCUSDT", 100, testBase.Add(2*time.Second)), fresh)
	assert.Empty(t, out)
}

// The stop never moves away from the position, whatever the price does.
func TestTrailingStopMonotonicUnderRandomWalk(t *testing.T) {
	ts := NewTrailingStop(TrailingStopConfig{TrailPercent: 1.0}, testInstruments())
	pos := openLong("BTCUSDT", 100, 1)
	pos.StopLoss = 99

	rng := rand.New(rand.NewSource(7))
	price := 100.0
	prevStop := pos.StopLoss
	for i := 0; i < 500; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.004
		out := ts.OnPriceUpdate(tick("BTCUSDT", price, testBase.Add(time.Duration(i)*time.Second)), pos)
		for _, it := range out {
			if it.Kind != intent.KindAdjustProtective {
				continue
			}
			require.Greater(t, it.StopLoss, prevStop, "tick %d: stop loosened", i)
			prevStop = it.StopLoss
			pos.StopLoss = it.StopLoss
		}
	}
}

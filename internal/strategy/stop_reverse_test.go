package strategy

import (
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

func TestStopAndReverseOpensOpposite(t *testing.T) {
	sr := NewStopAndReverse(DefaultStopAndReverseConfig())

	out := sr.OnStopLossFill(StopLossFill{
		Symbol:    "BTCUSDT",
		Side:      types.SideLong,
		ExitPrice: 95,
		Qty:       0.5,
		Timestamp: testBase,
	})

	// Exactly one opposite entry per stop-loss fill.
	require.Len(t, out, 1)
	assert.Equal(t, intent.KindOpenPosition, out[0].Kind)
	assert.Equal(t, types.SideShort, out[0].Side)
	assert.Equal(t, 0.5, out[0].Qty)
	assert.InDelta(t, 95*0.98, out[0].TakeProfit, 1e-9)
}

func TestStopAndReverseShortStopTakesProfitAbove(t *testing.T) {
	sr := NewStopAndReverse(StopAndReverseConfig{
		TakeProfitPercent: 3,
		MaxReversals:      3,
		ReversalWindow:    30 * time.Minute,
		CoolDown:          time.Hour,
	})

	out := sr.OnStopLossFill(StopLossFill{
		Symbol:    "ETHUSDT",
		Side:      types.SideShort,
		ExitPrice: 3100,
		Qty:       2,
		Timestamp: testBase,
	})

	require.Len(t, out, 1)
	assert.Equal(t, types.SideLong, out[0].Side)
	assert.InDelta(t, 3100*1.03, out[0].TakeProfit, 1e-9)
}

func TestStopAndReverseRestsAfterMaxReversals(t *testing.T) {
	sr := NewStopAndReverse(StopAndReverseConfig{
		TakeProfitPercent: 2,
		MaxReversals:      3,
		ReversalWindow:    30 * time.Minute,
		CoolDown:          time.Hour,
	})

	side := types.SideLong
	var fills []time.Time
	for i := 0; i < 3; i++ {
		fills = append(fills, testBase.Add(time.Duration(i)*5*time.Minute))
	}

	assert.Len(t, sr.OnStopLossFill(StopLossFill{Symbol: "BTCUSDT", Side: side, ExitPrice: 100, Qty: 1, Timestamp: fills[0]}), 1)
	assert.Len(t, sr.OnStopLossFill(StopLossFill{Symbol: "BTCUSDT", Side: side.Opposite(), ExitPrice: 99, Qty: 1, Timestamp: fills[1]}), 1)

	// The third back-to-back stop-out means the market is chopping.
	out := sr.OnStopLossFill(StopLossFill{Symbol: "BTCUSDT", Side: side, ExitPrice: 98, Qty: 1, Timestamp: fills[2]})
	assert.Empty(t, out)

	rested := fills[2]
	assert.False(t, sr.AllowEntry("BTCUSDT", rested.Add(time.Minute)))
	assert.True(t, sr.AllowEntry("ETHUSDT", rested.Add(time.Minute)), "cool-down is per instrument")
	assert.True(t, sr.AllowEntry("BTCUSDT", rested.Add(time.Hour)))

	// Past the cool-down the strategy reverses again.
	out = sr.OnStopLossFill(StopLossFill{Symbol: "BTCUSDT", Side: side, ExitPrice: 97, Qty: 1, Timestamp: rested.Add(2 * time.Hour)})
	assert.Len(t, out, 1)
}

func TestStopAndReverseRunExpiresOutsideWindow(t *testing.T) {
	sr := NewStopAndReverse(StopAndReverseConfig{
		TakeProfitPercent: 2,
		MaxReversals:      2,
		ReversalWindow:    30 * time.Minute,
		CoolDown:          time.Hour,
	})

	// Widely spaced stop-outs never accumulate into a run.
	for i := 0; i < 4; i++ {
		out := sr.OnStopLossFill(StopLossFill{
			Symbol:    "BTCUSDT",
			Side:      types.SideLong,
			ExitPrice: 100,
			Qty:       1,
			Timestamp: testBase.Add(time.Duration(i) * time.Hour),
		})
		assert.Len(t, out, 1, "fill %d", i)
	}
}

package strategy

import (
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

func openLong(symbol string, entry, qty float64) *ledger.Position {
	return &ledger.Position{
		Symbol:     symbol,
		Side:       types.SideLong,
		EntryPrice: entry,
		Quantity:   qty,
		Status:     ledger.StatusOpen,
		OpenedAt:   testBase,
	}
}

func TestMarketReversalConfirmedReversal(t *testing.T) {
	m := NewMarketReversal(MarketReversalConfig{
		ReversalPercent: 2.0,
		ConfirmTicks:    3,
		Lookback:        15 * time.Minute,
	})
	pos := openLong("BTCUSDT", 100, 1)

	prices := []float64{100, 99.5, 98.7, 97.5}
	var out []intent.Intent
	for i, p := range prices {
		out = m.OnPriceUpdate(tick("BTCUSDT", p, testBase.Add(time.Duration(i)*time.Second)), pos)
	}

	// Three opposing ticks of growing magnitude and a 2.5% drop from the
	// window high.
	require.Len(t, out, 1)
	assert.Equal(t, intent.KindReversePosition, out[0].Kind)
	assert.Equal(t, types.SideShort, out[0].Side)
	assert.Equal(t, 1.0, out[0].Qty)
}

func TestMarketReversalStalledMomentumDoesNotConfirm(t *testing.T) {
	m := NewMarketReversal(MarketReversalConfig{
		ReversalPercent: 2.0,
		ConfirmTicks:    3,
		Lookback:        15 * time.Minute,
	})
	pos := openLong("BTCUSDT", 100, 1)

	// Each drop is the same size, so the confirmation count keeps
	// restarting even though the total move exceeds the magnitude.
	prices := []float64{100, 99, 98, 97, 96}
	for i, p := range prices {
		out := m.OnPriceUpdate(tick("BTCUSDT", p, testBase.Add(time.Duration(i)*time.Second)), pos)
		assert.Empty(t, out, "tick %d", i)
	}
}

func TestMarketReversalBounceResetsCount(t *testing.T) {
	m := NewMarketReversal(MarketReversalConfig{
		ReversalPercent: 1.0,
		ConfirmTicks:    2,
		Lookback:        15 * time.Minute,
	})
	pos := openLong("BTCUSDT", 100, 1)

	// The bounce at 99.3 wipes the opposing run; the final drop alone is
	// only one opposing tick.
	prices := []float64{100, 99.5, 99.3, 99.4, 98.5}
	var out []intent.Intent
	for i, p := range prices {
		out = m.OnPriceUpdate(tick("BTCUSDT", p, testBase.Add(time.Duration(i)*time.Second)), pos)
	}
	assert.Empty(t, out)
}

func TestMarketReversalFlatPositionNoSignal(t *testing.T) {
	m := NewMarketReversal(DefaultMarketReversalConfig())
	out := m.OnPriceUpdate(tick("BTCUSDT", 100, testBase), nil)
	assert.Empty(t, out)
}

func TestMarketReversalShortPosition(t *testing.T) {
	m := NewMarketReversal(MarketReversalConfig{
		ReversalPercent: 2.0,
		ConfirmTicks:    3,
		Lookback:        15 * time.Minute,
	})
	pos := &ledger.Position{
		Symbol:     "ETHUSDT",
		Side:       types.SideShort,
		EntryPrice: 100,
		Quantity:   2,
		Status:     ledger.StatusOpen,
	}

	prices := []float64{100, 100.5, 101.3, 102.5}
	var out []intent.Intent
	for i, p := range prices {
		out = m.OnPriceUpdate(tick("ETHUSDT", p, testBase.Add(time.Duration(i)*time.Second)), pos)
	}

	require.Len(t, out, 1)
	assert.Equal(t, types.SideLong, out[0].Side)
	assert.Equal(t, 2.0, out[0].Qty)
}

package strategy

import (
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

func slFill(symbol string, ts time.Time) StopLossFill {
	return StopLossFill{
		Symbol:    symbol,
		Side:      types.SideLong,
		ExitPrice: 100,
		Qty:       1,
		Timestamp: ts,
	}
}

func TestThreeStrikeClosesOnThirdStrike(t *testing.T) {
	ts3 := NewThreeStrike(DefaultThreeStrikeConfig())

	assert.Empty(t, ts3.OnStopLossFill(slFill("BTCUSDT", testBase)))
	assert.Empty(t, ts3.OnStopLossFill(slFill("BTCUSDT", testBase.Add(time.Hour))))

	out := ts3.OnStopLossFill(slFill("BTCUSDT", testBase.Add(2*time.Hour)))
	require.Len(t, out, 1)
	assert.Equal(t, intent.KindClosePosition, out[0].Kind)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
	assert.Zero(t, out[0].Qty, "full close")
}

func TestThreeStrikeCoolDownGatesEntries(t *testing.T) {
	ts3 := NewThreeStrike(ThreeStrikeConfig{StrikeLimit: 3, Window: 4 * time.Hour, CoolDown: time.Hour})

	for i := 0; i < 3; i++ {
		ts3.OnStopLossFill(slFill("BTCUSDT", testBase.Add(time.Duration(i)*time.Minute)))
	}
	halted := testBase.Add(2 * time.Minute)

	assert.False(t, ts3.AllowEntry("BTCUSDT", halted.Add(time.Minute)))
	assert.True(t, ts3.AllowEntry("ETHUSDT", halted.Add(time.Minute)), "cool-down is per instrument")
	assert.True(t, ts3.AllowEntry("BTCUSDT", halted.Add(time.Hour+time.Second)))
}

func TestThreeStrikeStaleStrikeExpires(t *testing.T) {
	ts3 := NewThreeStrike(DefaultThreeStrikeConfig())

	ts3.OnStopLossFill(slFill("BTCUSDT", testBase))
	ts3.OnStopLossFill(slFill("BTCUSDT", testBase.Add(5*time.Hour)))

	// The first strike is outside the 4h window by now, so this is only
	// the second strike that counts.
	out := ts3.OnStopLossFill(slFill("BTCUSDT", testBase.Add(5*time.Hour+time.Minute)))
	assert.Empty(t, out)
}

func TestThreeStrikeCountsPerInstrument(t *testing.T) {
	ts3 := NewThreeStrike(DefaultThreeStrikeConfig())

	ts3.OnStopLossFill(slFill("BTCUSDT", testBase))
	ts3.OnStopLossFill(slFill("ETHUSDT", testBase.Add(time.Minute)))
	out := ts3.OnStopLossFill(slFill("BTCUSDT", testBase.Add(2*time.Minute)))

	assert.Empty(t, out, "strikes on other instruments do not count here")
}

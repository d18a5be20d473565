package riskguard

import (
	"io"
	"sync"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestGuard(cfg Config) *Guard {
	return New(cfg, logger.NewWriter("test", io.Discard))
}

func strike(symbol string, ts time.Time) Strike {
	return Strike{Symbol: symbol, ExitPrice: 100, Timestamp: ts}
}

func TestGuardHaltsOnThirdStrikeAcrossInstruments(t *testing.T) {
	g := newTestGuard(DefaultConfig())

	var halts []intent.Intent
	g.SetHaltCallback(func(it intent.Intent) { halts = append(halts, it) })

	// Strikes on three different instruments all count toward the same
	// account-wide limit.
	assert.False(t, g.RecordStrike(strike("BTCUSDT", base)))
	assert.False(t, g.RecordStrike(strike("ETHUSDT", base.Add(time.Hour))))
	assert.True(t, g.RecordStrike(strike("SOLUSDT", base.Add(2*time.Hour))))

	assert.Equal(t, StateHalted, g.State())
	require.Len(t, halts, 1, "exactly one HaltAll per halt")
	assert.Equal(t, intent.KindHaltAll, halts[0].Kind)
	assert.Equal(t, intent.OriginRiskGuard, halts[0].StrategyID)
	assert.Equal(t, base.Add(2*time.Hour), halts[0].Timestamp, "halt carries the event time")
}

func TestGuardStaleStrikeDoesNotCount(t *testing.T) {
	g := newTestGuard(DefaultConfig())

	g.RecordStrike(strike("BTCUSDT", base))
	g.RecordStrike(strike("BTCUSDT", base.Add(3*time.Hour)))

	// The first strike is now outside the 4h window.
	tripped := g.RecordStrike(strike("BTCUSDT", base.Add(5*time.Hour)))
	assert.False(t, tripped)
	assert.Equal(t, StateNormal, g.State())
	assert.Len(t, g.Strikes(), 2)
}

func TestGuardFilterDropsEntriesWhileHalted(t *testing.T) {
	g := newTestGuard(DefaultConfig())
	for i := 0; i < 3; i++ {
		g.RecordStrike(strike("BTCUSDT", base.Add(time.Duration(i)*time.Minute)))
	}
	require.Equal(t, StateHalted, g.State())

	ts := base.Add(5 * time.Minute)
	in := []intent.Intent{
		intent.Open("ETHUSDT", types.SideLong, 1, "s1", ts),
		intent.Close("BTCUSDT", 0, "s2", "test", ts),
		intent.Adjust("SOLUSDT", 95, 0, "s3", ts),
	}
	out := g.Filter(in)

	// Risk-reducing intents still pass; only the entry is dropped.
	require.Len(t, out, 2)
	assert.Equal(t, intent.KindClosePosition, out[0].Kind)
	assert.Equal(t, intent.KindAdjustProtective, out[1].Kind)
}

func TestGuardFilterPassesEverythingWhileNormal(t *testing.T) {
	g := newTestGuard(DefaultConfig())
	in := []intent.Intent{
		intent.Open("ETHUSDT", types.SideLong, 1, "s1", base),
		intent.Close("BTCUSDT", 0, "s2", "test", base),
	}
	assert.Len(t, g.Filter(in), 2)
}

func TestGuardStrikesWhileHaltedDoNotRetrip(t *testing.T) {
	g := newTestGuard(DefaultConfig())

	halts := 0
	g.SetHaltCallback(func(intent.Intent) { halts++ })

	for i := 0; i < 6; i++ {
		g.RecordStrike(strike("BTCUSDT", base.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, 1, halts)
}

func TestGuardManualResetIsAudited(t *testing.T) {
	g := newTestGuard(DefaultConfig())
	for i := 0; i < 3; i++ {
		g.RecordStrike(strike("BTCUSDT", base.Add(time.Duration(i)*time.Minute)))
	}

	g.Reset("operator review complete", base.Add(time.Hour))
	assert.Equal(t, StateNormal, g.State())

	trs := g.Transitions()
	require.Len(t, trs, 2)
	assert.Equal(t, StateHalted, trs[0].To)
	assert.Equal(t, StateNormal, trs[1].To)
	assert.Equal(t, "operator review complete", trs[1].Reason)

	// The window starts fresh after reset.
	assert.False(t, g.RecordStrike(strike("BTCUSDT", base.Add(2*time.Hour))))
}

func TestGuardCoolDownExpiresByEventTime(t *testing.T) {
	g := newTestGuard(Config{StrikeLimit: 3, Window: 4 * time.Hour, CoolDown: time.Hour})
	for i := 0; i < 3; i++ {
		g.RecordStrike(strike("BTCUSDT", base.Add(time.Duration(i)*time.Minute)))
	}
	haltedAt := base.Add(2 * time.Minute)

	// Still halted inside the cool-down.
	in := []intent.Intent{intent.Open("BTCUSDT", types.SideLong, 1, "s1", haltedAt.Add(30*time.Minute))}
	assert.Empty(t, g.Filter(in))

	// An event past the cool-down flips the guard back to Normal.
	in = []intent.Intent{intent.Open("BTCUSDT", types.SideLong, 1, "s1", haltedAt.Add(61*time.Minute))}
	assert.Len(t, g.Filter(in), 1)
	assert.Equal(t, StateNormal, g.State())
}

func TestGuardDisabledNeverHalts(t *testing.T) {
	off := false
	g := newTestGuard(Config{StrikeLimit: 3, Window: 4 * time.Hour, Enabled: &off})

	for i := 0; i < 5; i++ {
		assert.False(t, g.RecordStrike(strike("BTCUSDT", base.Add(time.Duration(i)*time.Minute))))
	}
	assert.Equal(t, StateNormal, g.State())
}

func TestGuardConcurrentStrikesHaltExactlyOnce(t *testing.T) {
	g := newTestGuard(Config{StrikeLimit: 3, Window: 4 * time.Hour})

	var mu sync.Mutex
	halts := 0
	g.SetHaltCallback(func(intent.Intent) {
		mu.Lock()
		halts++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT"}
	for i, sym := range symbols {
		wg.Add(1)
		go func(sym string, i int) {
			defer wg.Done()
			g.RecordStrike(strike(sym, base.Add(time.Duration(i)*time.Second)))
		}(sym, i)
	}
	wg.Wait()

	assert.Equal(t, 1, halts)
	assert.Equal(t, StateHalted, g.State())
}

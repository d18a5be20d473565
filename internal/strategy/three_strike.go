package strategy

import (
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// ThreeStrikeConfig holds the tunables for the per-instrument three-strike
// strategy. This is distinct from the account-wide risk guard: it counts
// only its own instrument's stop-loss fills and reacts per instrument.
type ThreeStrikeConfig struct {
	StrikeLimit int           `json:"strike_limit"`
	Window      time.Duration `json:"window"`
	CoolDown    time.Duration `json:"cool_down"`
}

// DefaultThreeStrikeConfig mirrors the original tuning: 3 strikes in 4h.
func DefaultThreeStrikeConfig() ThreeStrikeConfig {
	return ThreeStrikeConfig{
		StrikeLimit: 3,
		Window:      4 * time.Hour,
		CoolDown:    time.Hour,
	}
}

// ThreeStrike closes an instrument's position after the configured number
// of stop-loss fills inside a rolling window and blocks new entries for
// that instrument during a cool-down. Strikes outside the window are
// pruned lazily on each new strike.
type ThreeStrike struct {
	cfg       ThreeStrikeConfig
	strikes   map[string][]time.Time
	coolUntil map[string]time.Time
}

// NewThreeStrike creates the strategy.
func NewThreeStrike(cfg ThreeStrikeConfig) *ThreeStrike {
	if cfg.StrikeLimit <= 0 {
		cfg.StrikeLimit = 3
	}
	return &ThreeStrike{
		cfg:       cfg,
		strikes:   make(map[string][]time.Time),
		coolUntil: make(map[string]time.Time),
	}
}

// Name implements Strategy.
func (t *ThreeStrike) Name() string { return "three_strike" }

// Reset implements Strategy. Strike history survives feed discontinuities:
// strikes come from confirmed fills, not from the price window.
func (t *ThreeStrike) Reset(symbol string) {}

// OnPriceUpdate implements Strategy. The strategy is purely fill-driven.
func (t *ThreeStrike) OnPriceUpdate(u types.PriceUpdate, pos *ledger.Position) []intent.Intent {
	return nil
}

// OnStopLossFill implements StopLossObserver.
func (t *ThreeStrike) OnStopLossFill(f StopLossFill) []intent.Intent {
	kept := pruneBefore(t.strikes[f.Symbol], f.Timestamp.Add(-t.cfg.Window))
	kept = append(kept, f.Timestamp)
	t.strikes[f.Symbol] = kept

	if len(kept) < t.cfg.StrikeLimit {
		return nil
	}

	t.strikes[f.Symbol] = nil
	t.coolUntil[f.Symbol] = f.Timestamp.Add(t.cfg.CoolDown)

	return []intent.Intent{
		intent.Close(f.Symbol, 0, t.Name(), "three stop losses within window", f.Timestamp),
	}
}

// AllowEntry implements EntryGate.
func (t *ThreeStrike) AllowEntry(symbol string, ts time.Time) bool {
	until, ok := t.coolUntil[symbol]
	if !ok {
		return true
	}
	if ts.After(until) {
		delete(t.coolUntil, symbol)
		return true
	}
	return false
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}

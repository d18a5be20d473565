package strategy

import (
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// StopAndReverseConfig holds the tunables for the stop-and-reverse strategy.
type StopAndReverseConfig struct {
	TakeProfitPercent float64       `json:"take_profit_percent"`
	MaxReversals      int           `json:"max_reversals"`
	ReversalWindow    time.Duration `json:"reversal_window"`
	CoolDown          time.Duration `json:"cool_down"`
}

// DefaultStopAndReverseConfig mirrors the original tuning: 2% take profit,
// at most 3 back-to-back reversals within 30 minutes before a 1 hour rest.
func DefaultStopAndReverseConfig() StopAndReverseConfig {
	return StopAndReverseConfig{
		TakeProfitPercent: 2.0,
		MaxReversals:      3,
		ReversalWindow:    30 * time.Minute,
		CoolDown:          time.Hour,
	}
}

// StopAndReverse opens an opposite position whenever a stop loss fills,
// betting that the move which took out the stop continues. Each reversal
// carries a take profit at a fixed percent from its entry. A run of
// reversals in quick succession means the market is chopping, so after
// MaxReversals back-to-back the symbol rests for CoolDown.
type StopAndReverse struct {
	cfg   StopAndReverseConfig
	state map[string]*reverseState
}

type reverseState struct {
	consecutive int
	lastFill    time.Time
	coolUntil   time.Time
}

// NewStopAndReverse creates the strategy.
func NewStopAndReverse(cfg StopAndReverseConfig) *StopAndReverse {
	return &StopAndReverse{
		cfg:   cfg,
		state: make(map[string]*reverseState),
	}
}

// Name implements Strategy.
func (s *StopAndReverse) Name() string { return "stop_and_reverse" }

// OnPriceUpdate implements Strategy. The strategy is fill-driven; price
// updates only age out stale reversal runs.
func (s *StopAndReverse) OnPriceUpdate(u types.PriceUpdate, _ *ledger.Position) []intent.Intent {
	if st, ok := s.state[u.Symbol]; ok {
		if st.consecutive > 0 && u.Timestamp.Sub(st.lastFill) > s.cfg.ReversalWindow {
			st.consecutive = 0
		}
	}
	return nil
}

// Reset implements Strategy. Reversal counts survive a feed resync because
// they are driven by confirmed fills, not by the price stream.
func (s *StopAndReverse) Reset(string) {}

// OnStopLossFill implements StopLossObserver. It emits exactly one opposite
// entry per stop loss fill, with the take profit set at TakeProfitPercent
// from the exit price.
func (s *StopAndReverse) OnStopLossFill(fill StopLossFill) []intent.Intent {
	st, ok := s.state[fill.Symbol]
	if !ok {
		st = &reverseState{}
		s.state[fill.Symbol] = st
	}

	if fill.Timestamp.Before(st.coolUntil) {
		return nil
	}
	if st.consecutive > 0 && fill.Timestamp.Sub(st.lastFill) > s.cfg.ReversalWindow {
		st.consecutive = 0
	}

	st.consecutive++
	st.lastFill = fill.Timestamp
	if st.consecutive >= s.cfg.MaxReversals {
		// The run keeps stopping out; the market is chopping. Rest.
		st.coolUntil = fill.Timestamp.Add(s.cfg.CoolDown)
		st.consecutive = 0
		return nil
	}

	side := fill.Side.Opposite()
	it := intent.Open(fill.Symbol, side, fill.Qty, s.Name(), fill.Timestamp)
	it.Reason = "reverse after stop loss"
	if side == types.SideLong {
		it.TakeProfit = fill.ExitPrice * (1 + s.cfg.TakeProfitPercent/100)
	} else {
		it.TakeProfit = fill.ExitPrice * (1 - s.cfg.TakeProfitPercent/100)
	}
	return []intent.Intent{it}
}

// AllowEntry implements EntryGate: entries for a symbol are blocked while
// its reversal cool-down runs.
func (s *StopAndReverse) AllowEntry(symbol string, ts time.Time) bool {
	st, ok := s.state[symbol]
	if !ok {
		return true
	}
	return !ts.Before(st.coolUntil)
}

package strategy

import (
	"sort"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// ProfitLevel is one partial-profit milestone: at ProfitPercent gain, close
// AmountPercent of the position.
type ProfitLevel struct {
	ProfitPercent float64 `json:"profit_percent"`
	AmountPercent float64 `json:"amount_percent"`
}

// TrailingStopConfig holds the tunables for the trailing stop strategy.
type TrailingStopConfig struct {
	TrailPercent float64       `json:"trail_percent"`
	ProfitLevels []ProfitLevel `json:"profit_levels"`
}

// DefaultTrailingStopConfig mirrors the original tuning: 1% trail, take
// 20/30/50% at 5/10/20% gain.
func DefaultTrailingStopConfig() TrailingStopConfig {
	return TrailingStopConfig{
		TrailPercent: 1.0,
		ProfitLevels: []ProfitLevel{
			{ProfitPercent: 5, AmountPercent: 20},
			{ProfitPercent: 10, AmountPercent: 30},
			{ProfitPercent: 20, AmountPercent: 50},
		},
	}
}

// TrailingStop maintains a high-water mark (low-water for shorts) and
// ratchets the stop toward it; the stop only ever tightens. At configured
// profit milestones it closes part of the position and moves the stop to
// break-even on the remainder. Partial closes never go below the exchange
// minimum order size.
type TrailingStop struct {
	cfg         TrailingStopConfig
	instruments map[string]types.Instrument
	state       map[string]*trailState
}

type trailState struct {
	mark       float64
	haveMark   bool
	takenLevel map[float64]bool
}

// NewTrailingStop creates the strategy. Profit levels are evaluated in
// ascending order regardless of configuration order.
func NewTrailingStop(cfg TrailingStopConfig, instruments map[string]types.Instrument) *TrailingStop {
	sort.Slice(cfg.ProfitLevels, func(i, j int) bool {
		return cfg.ProfitLevels[i].ProfitPercent < cfg.ProfitLevels[j].ProfitPercent
	})
	return &TrailingStop{
		cfg:         cfg,
		instruments: instruments,
		state:       make(map[string]*trailState),
	}
}

// Name implements Strategy.
func (t *TrailingStop) Name() string { return "trailing_stop" }

// Reset implements Strategy.
func (t *TrailingStop) Reset(symbol string) {
	delete(t.state, symbol)
}

// OnPriceUpdate implements Strategy.
func (t *TrailingStop) OnPriceUpdate(u types.PriceUpdate, pos *ledger.Position) []intent.Intent {
	if pos == nil || pos.Status != ledger.StatusOpen {
		delete(t.state, u.Symbol)
		return nil
	}

	st, ok := t.state[u.Symbol]
	if !ok {
		st = &trailState{takenLevel: make(map[float64]bool)}
		t.state[u.Symbol] = st
	}

	st.advance(pos.Side, pos.EntryPrice, u.Last)

	closes, breakEven, full := t.milestones(st, pos, u)
	out := closes
	if full {
		return out
	}

	// At most one protective adjustment per tick: the tighter of the
	// trailed stop and break-even (when a milestone was just taken).
	stop := t.trailStop(st, pos.Side)
	if breakEven {
		stop = tighter(pos.Side, stop, pos.EntryPrice)
	}
	if t.improves(pos, stop) {
		out = append(out, intent.Adjust(pos.Symbol, stop, 0, t.Name(), u.Timestamp))
	}
	return out
}

// advance pushes the water mark in the favorable direction only.
func (st *trailState) advance(side types.Side, entry, last float64) {
	if !st.haveMark {
		st.mark = entry
		st.haveMark = true
	}
	if side == types.SideLong {
		if last > st.mark {
			st.mark = last
		}
	} else if last < st.mark {
		st.mark = last
	}
}

// trailStop is the stop implied by the current water mark: for a long,
// mark*(1 - trail%); for a short, mark*(1 + trail%).
func (t *TrailingStop) trailStop(st *trailState, side types.Side) float64 {
	trail := st.mark * t.cfg.TrailPercent / 100
	if side == types.SideLong {
		return st.mark - trail
	}
	return st.mark + trail
}

// improves reports whether the candidate stop tightens the position's
// current stop by at least one tick. The stop only ever tightens.
func (t *TrailingStop) improves(pos *ledger.Position, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if pos.StopLoss == 0 {
		return true
	}
	if pos.Side == types.SideLong && stop <= pos.StopLoss {
		return false
	}
	if pos.Side == types.SideShort && stop >= pos.StopLoss {
		return false
	}
	tick := t.instruments[pos.Symbol].TickSize
	if tick > 0 {
		moved := stop - pos.StopLoss
		if moved < 0 {
			moved = -moved
		}
		if moved < tick {
			return false
		}
	}
	return true
}

// tighter returns the more protective of two stops for the given side.
func tighter(side types.Side, a, b float64) float64 {
	if side == types.SideLong {
		if b > a {
			return b
		}
		return a
	}
	if b != 0 && (a == 0 || b < a) {
		return b
	}
	return a
}

// milestones emits partial closes at profit levels not yet taken. breakEven
// requests a break-even stop on the remainder; full means the whole position
// was taken because the remainder would have been dust.
func (t *TrailingStop) milestones(st *trailState, pos *ledger.Position, u types.PriceUpdate) (closes []intent.Intent, breakEven, full bool) {
	if pos.EntryPrice <= 0 {
		return nil, false, false
	}

	var profitPct float64
	if pos.Side == types.SideLong {
		profitPct = (u.Last/pos.EntryPrice - 1) * 100
	} else {
		profitPct = (pos.EntryPrice/u.Last - 1) * 100
	}

	minQty := t.instruments[pos.Symbol].MinOrderQty

	for _, level := range t.cfg.ProfitLevels {
		if profitPct < level.ProfitPercent || st.takenLevel[level.ProfitPercent] {
			continue
		}
		st.takenLevel[level.ProfitPercent] = true

		qty := pos.Quantity * level.AmountPercent / 100
		if qty < minQty {
			qty = minQty
		}
		if qty >= pos.Quantity {
			// Remainder would be dust; take the whole position.
			return []intent.Intent{
				intent.Close(pos.Symbol, 0, t.Name(), "final profit milestone", u.Timestamp),
			}, false, true
		}

		closes = append(closes, intent.Close(pos.Symbol, qty, t.Name(), "partial profit milestone", u.Timestamp))
		breakEven = true
	}
	return closes, breakEven, false
}

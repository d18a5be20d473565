package strategy

import (
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// MarketReversalConfig holds the tunables for the market reversal strategy.
type MarketReversalConfig struct {
	ReversalPercent float64       `json:"reversal_percent"` // magnitude against the position to trigger
	ConfirmTicks    int           `json:"confirm_ticks"`    // consecutive opposing ticks required
	Lookback        time.Duration `json:"lookback"`         // window the magnitude is measured over
}

// DefaultMarketReversalConfig mirrors the tuning the strategy shipped with.
func DefaultMarketReversalConfig() MarketReversalConfig {
	return MarketReversalConfig{
		ReversalPercent: 2.0,
		ConfirmTicks:    3,
		Lookback:        15 * time.Minute,
	}
}

// MarketReversal watches the open position and emits ReversePosition when
// price reverses against it by the configured magnitude, confirmed by N
// consecutive opposing ticks of strictly increasing momentum. Requiring
// growing momentum rather than a bare sign change keeps tick noise from
// flipping positions.
type MarketReversal struct {
	cfg   MarketReversalConfig
	state map[string]*reversalState
}

type reversalState struct {
	window    []types.PriceUpdate
	lastPrice float64
	havePrice bool
	oppTicks  int
	lastOpp   float64 // magnitude of the previous opposing tick
}

// NewMarketReversal creates the strategy.
func NewMarketReversal(cfg MarketReversalConfig) *MarketReversal {
	if cfg.ConfirmTicks <= 0 {
		cfg.ConfirmTicks = 1
	}
	return &MarketReversal{cfg: cfg, state: make(map[string]*reversalState)}
}

// Name implements Strategy.
func (m *MarketReversal) Name() string { return "market_reversal" }

// Reset implements Strategy.
func (m *MarketReversal) Reset(symbol string) {
	delete(m.state, symbol)
}

// OnPriceUpdate implements Strategy.
func (m *MarketReversal) OnPriceUpdate(u types.PriceUpdate, pos *ledger.Position) []intent.Intent {
	if pos == nil || pos.Status != ledger.StatusOpen {
		delete(m.state, u.Symbol)
		return nil
	}

	st, ok := m.state[u.Symbol]
	if !ok {
		st = &reversalState{}
		m.state[u.Symbol] = st
	}

	st.window = append(st.window, u)
	st.prune(u.Timestamp, m.cfg.Lookback)

	if st.havePrice {
		m.track(st, pos.Side, u.Last)
	}
	st.lastPrice = u.Last
	st.havePrice = true

	if st.oppTicks >= m.cfg.ConfirmTicks && m.magnitudeReached(st, pos.Side, u.Last) {
		delete(m.state, u.Symbol)
		it := intent.New(intent.KindReversePosition, u.Symbol, m.Name(), u.Timestamp)
		it.Side = pos.Side.Opposite()
		it.Qty = pos.Quantity
		it.Reason = "price reversal confirmed"
		return []intent.Intent{it}
	}
	return nil
}

// track updates the opposing-tick counter. A tick counts only when it moves
// against the position AND moves harder than the previous opposing tick.
func (m *MarketReversal) track(st *reversalState, side types.Side, last float64) {
	delta := last - st.lastPrice
	opposing := (side == types.SideLong && delta < 0) || (side == types.SideShort && delta > 0)
	if !opposing {
		st.oppTicks = 0
		st.lastOpp = 0
		return
	}

	mag := delta
	if mag < 0 {
		mag = -mag
	}
	if st.oppTicks > 0 && mag <= st.lastOpp {
		// Momentum stalled: restart the confirmation count at this tick.
		st.oppTicks = 1
	} else {
		st.oppTicks++
	}
	st.lastOpp = mag
}

// magnitudeReached checks the total adverse move within the lookback.
func (m *MarketReversal) magnitudeReached(st *reversalState, side types.Side, last float64) bool {
	if len(st.window) == 0 {
		return false
	}
	if side == types.SideLong {
		high := st.window[0].Last
		for _, u := range st.window {
			if u.Last > high {
				high = u.Last
			}
		}
		if high <= 0 {
			return false
		}
		return (high-last)/high*100 >= m.cfg.ReversalPercent
	}
	low := st.window[0].Last
	for _, u := range st.window {
		if u.Last < low {
			low = u.Last
		}
	}
	if low <= 0 {
		return false
	}
	return (last-low)/low*100 >= m.cfg.ReversalPercent
}

func (st *reversalState) prune(now time.Time, lookback time.Duration) {
	cutoff := now.Add(-lookback)
	i := 0
	for i < len(st.window) && st.window[i].Timestamp.Before(cutoff) {
		i++
	}
	st.window = st.window[i:]
}

package intent

import (
	"time"

	"github.com/google/uuid"

	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// Kind is the action an Intent requests.
type Kind int

const (
	KindOpenPosition Kind = iota
	KindClosePosition
	KindAdjustProtective
	KindReversePosition
	KindHaltAll
)

func (k Kind) String() string {
	switch k {
	case KindOpenPosition:
		return "OPEN_POSITION"
	case KindClosePosition:
		return "CLOSE_POSITION"
	case KindAdjustProtective:
		return "ADJUST_PROTECTIVE"
	case KindReversePosition:
		return "REVERSE_POSITION"
	case KindHaltAll:
		return "HALT_ALL"
	default:
		return "UNKNOWN"
	}
}

// Origin identifies who produced an Intent, for audit.
const (
	OriginManual    = "manual"
	OriginRiskGuard = "risk_guard"
)

// Intent is the only artifact strategies and the risk guard may produce: an
// immutable, timestamped request to change trading state. Consumed by the
// execution coordinator.
type Intent struct {
	ID         string
	Kind       Kind
	Symbol     string
	Side       types.Side
	Qty        float64 // for partial closes: quantity to close; 0 means full
	Price      float64 // limit price, 0 for market
	StopLoss   float64 // 0 means leave unset / unchanged
	TakeProfit float64
	Reason     string
	StrategyID string // originating strategy, or OriginManual / OriginRiskGuard
	Timestamp  time.Time
}

// New builds an Intent with a fresh ID. The timestamp must come from the
// triggering event, never from the wall clock, so replays stay deterministic.
func New(kind Kind, symbol, strategyID string, ts time.Time) Intent {
	return Intent{
		ID:         uuid.NewString(),
		Kind:       kind,
		Symbol:     symbol,
		StrategyID: strategyID,
		Timestamp:  ts,
	}
}

// Open is a convenience constructor for entry intents.
func Open(symbol string, side types.Side, qty float64, strategyID string, ts time.Time) Intent {
	it := New(KindOpenPosition, symbol, strategyID, ts)
	it.Side = side
	it.Qty = qty
	return it
}

// Close is a convenience constructor for close intents. qty=0 closes the
// full position.
func Close(symbol string, qty float64, strategyID, reason string, ts time.Time) Intent {
	it := New(KindClosePosition, symbol, strategyID, ts)
	it.Qty = qty
	it.Reason = reason
	return it
}

// Adjust is a convenience constructor for protective-order adjustments.
func Adjust(symbol string, sl, tp float64, strategyID string, ts time.Time) Intent {
	it := New(KindAdjustProtective, symbol, strategyID, ts)
	it.StopLoss = sl
	it.TakeProfit = tp
	return it
}

// HaltAll is the account-wide kill switch intent.
func HaltAll(reason string, ts time.Time) Intent {
	it := New(KindHaltAll, "", OriginRiskGuard, ts)
	it.Reason = reason
	return it
}

// IsEntry reports whether executing the intent would create new exposure.
// These are the intents suppressed while the risk guard is halted.
func (it Intent) IsEntry() bool {
	return it.Kind == KindOpenPosition || it.Kind == KindReversePosition
}

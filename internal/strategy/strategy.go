package strategy

import (
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// Strategy is the evaluation capability every trading strategy implements.
// Implementations are state machines: given the same ordered sequence of
// updates and ledger snapshots they must emit the same intent sequence.
// All timers use event timestamps, never the wall clock.
type Strategy interface {
	// Name returns the strategy identifier carried on emitted intents.
	Name() string

	// OnPriceUpdate evaluates one tick. pos is a read-only snapshot of the
	// instrument's open position, or nil when flat.
	OnPriceUpdate(u types.PriceUpdate, pos *ledger.Position) []intent.Intent

	// Reset drops all windowed state for the symbol. Called after a feed
	// discontinuity: evaluating against broken history is worse than
	// starting a fresh window.
	Reset(symbol string)
}

// StopLossFill notifies strategies that a protective stop was executed.
type StopLossFill struct {
	Symbol    string
	Side      types.Side // side of the stopped position
	ExitPrice float64
	Qty       float64
	Timestamp time.Time
}

// StopLossObserver is implemented by strategies that react to confirmed
// stop-loss fills on their instrument.
type StopLossObserver interface {
	OnStopLossFill(f StopLossFill) []intent.Intent
}

// EntryGate is implemented by strategies that can veto new entries for an
// instrument, e.g. during a per-strategy cool-down.
type EntryGate interface {
	AllowEntry(symbol string, ts time.Time) bool
}

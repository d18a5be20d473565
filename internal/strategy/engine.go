package strategy

import (
	"sync"
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// defaultMaxGap is the feed gap beyond which windowed strategy state is
// considered discontinuous and dropped.
const defaultMaxGap = 5 * time.Minute

// Engine evaluates every registered strategy against each price update for
// its instrument. Strategy state is not safe for concurrent use, so the
// engine serializes all strategy invocations: Evaluate and NotifyStopLoss
// may be called from different goroutines but never overlap.
type Engine struct {
	ledger     *ledger.Ledger
	log        *logger.Logger
	strategies []Strategy
	maxGap     time.Duration

	// evalMu serializes strategy invocations; mu guards the engine's own
	// bookkeeping and is never held across a strategy call.
	evalMu sync.Mutex

	mu          sync.Mutex
	lastTS      map[string]time.Time
	quarantined map[string]string // symbol -> reason
}

// NewEngine creates an engine over the given strategies. Evaluation order
// follows registration order so runs are reproducible.
func NewEngine(l *ledger.Ledger, log *logger.Logger, strategies ...Strategy) *Engine {
	return &Engine{
		ledger:      l,
		log:         log,
		strategies:  strategies,
		maxGap:      defaultMaxGap,
		lastTS:      make(map[string]time.Time),
		quarantined: make(map[string]string),
	}
}

// SetMaxGap overrides the discontinuity threshold.
func (e *Engine) SetMaxGap(d time.Duration) { e.maxGap = d }

// Quarantine takes an instrument lane out of evaluation after a fatal
// (invariant) failure. Only a manual review should lift it.
func (e *Engine) Quarantine(symbol, reason string) {
	e.mu.Lock()
	e.quarantined[symbol] = reason
	e.mu.Unlock()
	e.log.Error("engine: lane %s quarantined: %s", symbol, reason)
}

// Quarantined reports whether the instrument's lane is quarantined.
func (e *Engine) Quarantined(symbol string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reason, ok := e.quarantined[symbol]
	return reason, ok
}

// Lift removes a quarantine after manual review.
func (e *Engine) Lift(symbol string) {
	e.mu.Lock()
	delete(e.quarantined, symbol)
	e.mu.Unlock()
	e.log.Info("engine: lane %s quarantine lifted", symbol)
}

// Evaluate runs every strategy against the update and returns the combined
// intent list. A strategy that panics is logged and skipped; it never takes
// down the lane or other strategies.
func (e *Engine) Evaluate(u types.PriceUpdate) []intent.Intent {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	e.mu.Lock()
	if _, bad := e.quarantined[u.Symbol]; bad {
		e.mu.Unlock()
		return nil
	}

	last, seen := e.lastTS[u.Symbol]
	resync := seen && (u.Timestamp.Before(last) || u.Timestamp.Sub(last) > e.maxGap)
	e.lastTS[u.Symbol] = u.Timestamp
	e.mu.Unlock()

	if resync {
		e.log.Warning("engine: feed discontinuity on %s (last=%s now=%s), resetting windows",
			u.Symbol, last.Format(time.RFC3339), u.Timestamp.Format(time.RFC3339))
		for _, s := range e.strategies {
			s.Reset(u.Symbol)
		}
		return nil
	}

	var pos *ledger.Position
	if snap, ok := e.ledger.Snapshot(u.Symbol); ok {
		pos = &snap
	}

	var out []intent.Intent
	for _, s := range e.strategies {
		out = append(out, e.safeEvaluate(s, u, pos)...)
	}
	return e.gateEntries(out, u.Timestamp)
}

// NotifyStopLoss routes a confirmed stop-loss fill to the strategies that
// observe them and returns any intents they emit.
func (e *Engine) NotifyStopLoss(f StopLossFill) []intent.Intent {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	e.mu.Lock()
	if _, bad := e.quarantined[f.Symbol]; bad {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	var out []intent.Intent
	for _, s := range e.strategies {
		obs, ok := s.(StopLossObserver)
		if !ok {
			continue
		}
		out = append(out, e.safeNotify(s.Name(), obs, f)...)
	}
	return e.gateEntries(out, f.Timestamp)
}

// gateEntries drops entry intents for instruments where any EntryGate
// strategy has an active cool-down.
func (e *Engine) gateEntries(intents []intent.Intent, ts time.Time) []intent.Intent {
	if len(intents) == 0 {
		return intents
	}
	out := intents[:0]
	for _, it := range intents {
		if it.IsEntry() && !e.entryAllowed(it.Symbol, ts) {
			e.log.Info("engine: entry for %s suppressed by strategy cool-down (%s)", it.Symbol, it.StrategyID)
			continue
		}
		out = append(out, it)
	}
	return out
}

func (e *Engine) entryAllowed(symbol string, ts time.Time) bool {
	for _, s := range e.strategies {
		if gate, ok := s.(EntryGate); ok && !gate.AllowEntry(symbol, ts) {
			return false
		}
	}
	return true
}

func (e *Engine) safeEvaluate(s Strategy, u types.PriceUpdate, pos *ledger.Position) (out []intent.Intent) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine: strategy %s panicked on %s update: %v", s.Name(), u.Symbol, r)
			out = nil
		}
	}()
	return s.OnPriceUpdate(u, pos)
}

func (e *Engine) safeNotify(name string, obs StopLossObserver, f StopLossFill) (out []intent.Intent) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("engine: strategy %s panicked on %s stop-loss fill: %v", name, f.Symbol, r)
			out = nil
		}
	}()
	return obs.OnStopLossFill(f)
}

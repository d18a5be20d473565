package riskguard

import (
	"sync"
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/intent"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
)

// State is the guard's account-wide state.
type State int

const (
	StateNormal State = iota
	StateHalted
)

// String returns the string representation of the guard state.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// Config holds configuration for the account-wide risk guard.
type Config struct {
	StrikeLimit int           `json:"strike_limit"`
	Window      time.Duration `json:"window"`
	CoolDown    time.Duration `json:"cool_down"` // 0 = halt until manual reset
	Enabled     *bool         `json:"enabled,omitempty"`
}

// DefaultConfig returns the guard's defaults: three strikes in four hours
// halt the account until a manual reset.
func DefaultConfig() Config {
	return Config{
		StrikeLimit: 3,
		Window:      4 * time.Hour,
	}
}

// IsEnabled reports the enabled flag; the guard is on unless explicitly
// turned off.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Strike is one counted stop-loss fill.
type Strike struct {
	Symbol    string
	ExitPrice float64
	Timestamp time.Time
}

// Transition records one state change for audit.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// Guard is the account-wide three-strike kill switch. It counts stop-loss
// fills across ALL instruments in a rolling window; at the limit it moves
// to Halted and fires the halt callback exactly once. While halted, every
// entry intent is dropped. All timing uses event timestamps.
type Guard struct {
	cfg Config
	log *logger.Logger

	// One lock for the whole guard: strikes on different instruments race
	// toward the same account-wide decision, so per-instrument locking
	// would allow two concurrent strikes to both see count == limit-1.
	mu          sync.Mutex
	state       State
	strikes     []Strike
	haltReason  string
	haltedAt    time.Time
	coolUntil   time.Time
	transitions []Transition

	onHalt func(it intent.Intent)
}

// New creates a guard in the Normal state.
func New(cfg Config, log *logger.Logger) *Guard {
	if cfg.StrikeLimit <= 0 {
		cfg.StrikeLimit = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 4 * time.Hour
	}
	return &Guard{cfg: cfg, log: log, state: StateNormal}
}

// SetHaltCallback sets the callback invoked with the HaltAll intent when
// the guard trips. Called at most once per halt, outside the guard lock.
func (g *Guard) SetHaltCallback(fn func(it intent.Intent)) {
	g.mu.Lock()
	g.onHalt = fn
	g.mu.Unlock()
}

// State returns the current guard state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// RecordStrike counts one stop-loss fill. Strikes older than the window
// are pruned lazily against the new strike's timestamp. Returns true when
// this strike tripped the guard.
func (g *Guard) RecordStrike(s Strike) bool {
	if !g.cfg.IsEnabled() {
		return false
	}

	g.mu.Lock()
	g.maybeExpireCoolDown(s.Timestamp)

	if g.state == StateHalted {
		// Strikes while halted are expected (closing orders stop nothing
		// out, but in-flight stops may still fill). They never re-trip.
		g.mu.Unlock()
		return false
	}

	kept := g.strikes[:0]
	cutoff := s.Timestamp.Add(-g.cfg.Window)
	for _, old := range g.strikes {
		if !old.Timestamp.Before(cutoff) {
			kept = append(kept, old)
		}
	}
	g.strikes = append(kept, s)

	g.log.Warning("risk guard: strike %d/%d (%s stopped out at %.4f)",
		len(g.strikes), g.cfg.StrikeLimit, s.Symbol, s.ExitPrice)

	if len(g.strikes) < g.cfg.StrikeLimit {
		g.mu.Unlock()
		return false
	}

	g.transition(StateHalted, "strike limit reached", s.Timestamp)
	g.haltReason = "strike limit reached"
	g.haltedAt = s.Timestamp
	if g.cfg.CoolDown > 0 {
		g.coolUntil = s.Timestamp.Add(g.cfg.CoolDown)
	}
	count := len(g.strikes)
	windowStart := g.strikes[0].Timestamp
	g.strikes = nil
	onHalt := g.onHalt
	g.mu.Unlock()

	g.log.LogHalt("strike limit reached", count, windowStart, s.Timestamp)
	if onHalt != nil {
		onHalt(intent.HaltAll("strike limit reached", s.Timestamp))
	}
	return true
}

// Filter passes intents through the guard. In Normal state everything
// passes; while Halted, entries are dropped and everything risk-reducing
// (closes, protective adjustments, halts) still passes.
func (g *Guard) Filter(intents []intent.Intent) []intent.Intent {
	if len(intents) == 0 || !g.cfg.IsEnabled() {
		return intents
	}

	g.mu.Lock()
	if len(intents) > 0 {
		g.maybeExpireCoolDown(intents[0].Timestamp)
	}
	halted := g.state == StateHalted
	g.mu.Unlock()

	if !halted {
		return intents
	}

	out := intents[:0]
	for _, it := range intents {
		if it.IsEntry() {
			g.log.Info("risk guard: dropped %s %s from %s (account halted)",
				it.Kind, it.Symbol, it.StrategyID)
			continue
		}
		out = append(out, it)
	}
	return out
}

// Reset returns the guard to Normal after manual review. The reset itself
// is audited.
func (g *Guard) Reset(reason string, ts time.Time) {
	g.mu.Lock()
	if g.state != StateHalted {
		g.mu.Unlock()
		return
	}
	g.transition(StateNormal, reason, ts)
	g.strikes = nil
	g.haltReason = ""
	g.coolUntil = time.Time{}
	g.mu.Unlock()

	g.log.Status("risk guard: manually reset to NORMAL (%s)", reason)
}

// Strikes returns a copy of the current strike window.
func (g *Guard) Strikes() []Strike {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Strike, len(g.strikes))
	copy(out, g.strikes)
	return out
}

// Transitions returns the audited state-change history.
func (g *Guard) Transitions() []Transition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Transition, len(g.transitions))
	copy(out, g.transitions)
	return out
}

// HaltInfo returns the reason and event time of the current halt.
func (g *Guard) HaltInfo() (reason string, at time.Time, halted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.haltReason, g.haltedAt, g.state == StateHalted
}

// maybeExpireCoolDown auto-resets a cool-down halt once event time passes
// it. Callers hold g.mu. A zero ts never expires anything, so halts without
// a configured cool-down wait for Reset.
func (g *Guard) maybeExpireCoolDown(ts time.Time) {
	if g.state != StateHalted || g.coolUntil.IsZero() || ts.IsZero() {
		return
	}
	if ts.Before(g.coolUntil) {
		return
	}
	g.transition(StateNormal, "cool-down elapsed", ts)
	g.haltReason = ""
	g.coolUntil = time.Time{}
}

// transition records a state change. Callers hold g.mu.
func (g *Guard) transition(to State, reason string, ts time.Time) {
	g.transitions = append(g.transitions, Transition{
		From:      g.state,
		To:        to,
		Reason:    reason,
		Timestamp: ts,
	})
	g.state = to
}

package notifications

import (
	"fmt"

	"github.com/minhtuanle/crypto-strike-bot/internal/events"
	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
)

// Dispatcher turns engine events into outbound notifications. Only the
// loud ones go out: halts, strikes, unprotected positions. Position churn
// stays in the event stream for the dashboards.
type Dispatcher struct {
	notifier Notifier
	log      *logger.Logger
}

// NewDispatcher creates a dispatcher over the given notifier.
func NewDispatcher(n Notifier, log *logger.Logger) *Dispatcher {
	return &Dispatcher{notifier: n, log: log}
}

// Run consumes the event stream until it closes. Call in a goroutine with
// a hub subscription.
func (d *Dispatcher) Run(ch <-chan events.Event) {
	for e := range ch {
		level, msg, ok := d.render(e)
		if !ok {
			continue
		}
		if err := d.notifier.SendAlert(level, msg); err != nil {
			d.log.Warning("notifications: send failed: %v", err)
		}
	}
}

func (d *Dispatcher) render(e events.Event) (level, msg string, ok bool) {
	switch ev := e.(type) {
	case events.HaltEvent:
		if ev.Halted {
			return "critical", fmt.Sprintf("TRADING HALTED: %s", ev.Reason), true
		}
		return "success", "trading resumed", true
	case events.StrikeEvent:
		return "warning", fmt.Sprintf("strike %d: %s stopped out at %.4f",
			ev.Strikes, ev.Symbol, ev.ExitPrice), true
	case events.AlertEvent:
		if ev.Severity != "critical" {
			return "", "", false
		}
		return "critical", fmt.Sprintf("%s: %s", ev.Symbol, ev.Message), true
	}
	return "", "", false
}

package ledger

import "time"

// AuditOp names the mutation recorded by an audit entry.
type AuditOp string

const (
	OpOpen        AuditOp = "open"
	OpFill        AuditOp = "fill"
	OpProtective  AuditOp = "protective"
	OpUnprotected AuditOp = "unprotected"
	OpClosing     AuditOp = "closing"
	OpClose       AuditOp = "close"
)

// AuditEntry captures one ledger mutation: old state, new state, timestamp.
// The trail is append-only and replayable for reconciliation.
type AuditEntry struct {
	Symbol    string
	Op        AuditOp
	Before    *Position // nil for OpOpen
	After     *Position
	Timestamp time.Time
}

func (l *Ledger) appendAudit(symbol string, op AuditOp, before, after *Position, ts time.Time) {
	var b, a *Position
	if before != nil {
		cp := *before
		b = &cp
	}
	if after != nil {
		cp := *after
		a = &cp
	}
	l.auditMu.Lock()
	l.audit = append(l.audit, AuditEntry{Symbol: symbol, Op: op, Before: b, After: a, Timestamp: ts})
	l.auditMu.Unlock()
}

// AuditLog returns a copy of the full mutation trail.
func (l *Ledger) AuditLog() []AuditEntry {
	l.auditMu.Lock()
	defer l.auditMu.Unlock()
	out := make([]AuditEntry, len(l.audit))
	copy(out, l.audit)
	return out
}

// ReplayAudit rebuilds a ledger from an audit trail. Replaying the trail of
// any ledger from empty state reproduces its exact final snapshot, which is
// what makes the trail usable for reconciliation after a crash.
func ReplayAudit(entries []AuditEntry) *Ledger {
	l := New()
	for _, e := range entries {
		if e.After == nil {
			continue
		}
		state := *e.After
		if state.Status == StatusClosed {
			l.mu.Lock()
			delete(l.open, e.Symbol)
			for id, sym := range l.orderIndex {
				if sym == e.Symbol {
					delete(l.orderIndex, id)
				}
			}
			l.history = append(l.history, state)
			l.mu.Unlock()
			continue
		}
		l.mu.Lock()
		l.open[e.Symbol] = &state
		for _, id := range []string{state.EntryOrderID, state.StopOrderID, state.TakeProfitOrderID} {
			if id != "" {
				l.orderIndex[id] = e.Symbol
			}
		}
		l.mu.Unlock()
	}
	return l
}

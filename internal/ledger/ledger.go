package ledger

import (
	"sync"
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/errors"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// PositionStatus tracks the lifecycle of a position.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "Open"
	StatusClosing PositionStatus = "Closing"
	StatusClosed  PositionStatus = "Closed"
)

// Position is the ledger's record of one open or historical position.
// The ledger owns all instances; callers only ever see copies.
type Position struct {
	Symbol     string
	Side       types.Side
	EntryPrice float64
	Quantity   float64
	Leverage   int
	StopLoss   float64 // 0 = not set
	TakeProfit float64 // 0 = not set
	OpenedAt   time.Time
	Status     PositionStatus

	// Order references kept on the position so protective state can always
	// be reconciled against the exchange.
	EntryOrderID      string
	StopOrderID       string
	TakeProfitOrderID string

	// Unprotected is set when protective order placement exhausted its
	// retries. Positions in this state trigger urgent alerts.
	Unprotected bool

	ClosedAt  time.Time
	ExitPrice float64

	// ClosedQuantity accumulates reduce-side fills so the realized size
	// survives into history after Quantity drains to zero.
	ClosedQuantity float64
}

// Ledger is the single source of truth for what the account currently holds.
// Mutations are serialized per instrument; reads return immutable copies.
// Historical positions and the audit log are append-only.
type Ledger struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	open    map[string]*Position
	history []Position

	// orderIndex maps known order IDs to their symbol so fills can be
	// attributed without scanning.
	orderIndex map[string]string

	audit   []AuditEntry
	auditMu sync.Mutex
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		locks:      make(map[string]*sync.Mutex),
		open:       make(map[string]*Position),
		orderIndex: make(map[string]string),
	}
}

// lockFor returns the per-instrument mutex, creating it on first use.
func (l *Ledger) lockFor(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	return m
}

func invariant(op, msg string) *errors.EngineError {
	return errors.New(errors.CategoryInvariant, "ledger", op, msg)
}

// RecordOpen registers a newly filled entry as the open position for its
// instrument. Fails if one is already open.
func (l *Ledger) RecordOpen(pos Position, ts time.Time) error {
	mu := l.lockFor(pos.Symbol)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	if _, exists := l.open[pos.Symbol]; exists {
		l.mu.Unlock()
		return invariant("RecordOpen", "position already open for "+pos.Symbol)
	}
	pos.Status = StatusOpen
	stored := pos
	l.open[pos.Symbol] = &stored
	if pos.EntryOrderID != "" {
		l.orderIndex[pos.EntryOrderID] = pos.Symbol
	}
	if pos.StopOrderID != "" {
		l.orderIndex[pos.StopOrderID] = pos.Symbol
	}
	if pos.TakeProfitOrderID != "" {
		l.orderIndex[pos.TakeProfitOrderID] = pos.Symbol
	}
	l.mu.Unlock()

	l.appendAudit(pos.Symbol, OpOpen, nil, &stored, ts)
	return nil
}

// RecordFill applies an execution against a known order. Entry fills grow
// the position; reduce fills shrink it. Status never changes here: only an
// explicit Close transitions the position out of Open/Closing.
func (l *Ledger) RecordFill(orderID string, fillQty, fillPrice float64, ts time.Time) error {
	l.mu.Lock()
	symbol, ok := l.orderIndex[orderID]
	l.mu.Unlock()
	if !ok {
		return invariant("RecordFill", "unknown order id "+orderID)
	}

	mu := l.lockFor(symbol)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	pos, exists := l.open[symbol]
	if !exists {
		l.mu.Unlock()
		return invariant("RecordFill", "no open position for "+symbol)
	}

	before := *pos
	if orderID == pos.EntryOrderID {
		// Average in partial entry fills.
		total := pos.Quantity + fillQty
		if total > 0 {
			pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*fillQty) / total
		}
		pos.Quantity = total
	} else {
		pos.Quantity -= fillQty
		if pos.Quantity < 0 {
			pos.Quantity = 0
		}
		pos.ClosedQuantity += fillQty
		pos.ExitPrice = fillPrice
	}
	after := *pos
	l.mu.Unlock()

	l.appendAudit(symbol, OpFill, &before, &after, ts)
	return nil
}

// RegisterOrder attaches an additional order ID (e.g. a replacement
// protective order or a closing order) to the instrument's position.
func (l *Ledger) RegisterOrder(symbol, orderID string) error {
	if orderID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.open[symbol]; !exists {
		return invariant("RegisterOrder", "no open position for "+symbol)
	}
	l.orderIndex[orderID] = symbol
	return nil
}

// UpdateProtective sets new stop-loss / take-profit levels and order
// references. Nil pointers leave the corresponding field unchanged.
func (l *Ledger) UpdateProtective(symbol string, sl, tp *float64, slOrderID, tpOrderID string, ts time.Time) error {
	mu := l.lockFor(symbol)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	pos, exists := l.open[symbol]
	if !exists {
		l.mu.Unlock()
		return invariant("UpdateProtective", "no open position for "+symbol)
	}

	before := *pos
	if sl != nil {
		pos.StopLoss = *sl
	}
	if tp != nil {
		pos.TakeProfit = *tp
	}
	if slOrderID != "" {
		pos.StopOrderID = slOrderID
		l.orderIndex[slOrderID] = symbol
	}
	if tpOrderID != "" {
		pos.TakeProfitOrderID = tpOrderID
		l.orderIndex[tpOrderID] = symbol
	}
	pos.Unprotected = false
	after := *pos
	l.mu.Unlock()

	l.appendAudit(symbol, OpProtective, &before, &after, ts)
	return nil
}

// SetUnprotected flags a position whose protective orders could not be
// placed. The flag is cleared by the next successful UpdateProtective.
func (l *Ledger) SetUnprotected(symbol string, ts time.Time) error {
	mu := l.lockFor(symbol)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	pos, exists := l.open[symbol]
	if !exists {
		l.mu.Unlock()
		return invariant("SetUnprotected", "no open position for "+symbol)
	}
	before := *pos
	pos.Unprotected = true
	after := *pos
	l.mu.Unlock()

	l.appendAudit(symbol, OpUnprotected, &before, &after, ts)
	return nil
}

// MarkClosing records that a closing order is in flight for the position.
func (l *Ledger) MarkClosing(symbol string, ts time.Time) error {
	mu := l.lockFor(symbol)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	pos, exists := l.open[symbol]
	if !exists {
		l.mu.Unlock()
		return invariant("MarkClosing", "no open position for "+symbol)
	}
	before := *pos
	pos.Status = StatusClosing
	after := *pos
	l.mu.Unlock()

	l.appendAudit(symbol, OpClosing, &before, &after, ts)
	return nil
}

// Close transitions the open position to Closed and moves it to history.
// Only called after the coordinator has confirmed the closing fill.
func (l *Ledger) Close(symbol string, exitPrice float64, ts time.Time) error {
	mu := l.lockFor(symbol)
	mu.Lock()
	defer mu.Unlock()

	l.mu.Lock()
	pos, exists := l.open[symbol]
	if !exists {
		l.mu.Unlock()
		return invariant("Close", "no open position for "+symbol)
	}
	before := *pos
	pos.Status = StatusClosed
	pos.ClosedAt = ts
	if exitPrice > 0 {
		pos.ExitPrice = exitPrice
	}
	closed := *pos
	l.history = append(l.history, closed)
	delete(l.open, symbol)
	for id, sym := range l.orderIndex {
		if sym == symbol {
			delete(l.orderIndex, id)
		}
	}
	l.mu.Unlock()

	l.appendAudit(symbol, OpClose, &before, &closed, ts)
	return nil
}

// Snapshot returns an immutable copy of the instrument's open position.
// It never blocks beyond the brief map lock.
func (l *Ledger) Snapshot(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, exists := l.open[symbol]
	if !exists {
		return Position{}, false
	}
	return *pos, true
}

// OpenPositions returns copies of every open position.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, *pos)
	}
	return out
}

// History returns the append-only list of closed positions.
func (l *Ledger) History() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, len(l.history))
	copy(out, l.history)
	return out
}

// OwnsOrder reports whether an order ID belongs to a tracked position and
// which symbol it is for.
func (l *Ledger) OwnsOrder(orderID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sym, ok := l.orderIndex[orderID]
	return sym, ok
}

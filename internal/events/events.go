package events

import (
	"time"

	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// Event is anything the core surfaces to observers: position updates,
// order state changes, strikes, halt transitions. Events are read-only
// snapshots; consumers can never reach back into core state.
type Event interface {
	EventKind() string
}

// PositionEvent reports a position lifecycle change.
type PositionEvent struct {
	Symbol      string     `json:"symbol"`
	Side        types.Side `json:"side"`
	Status      string     `json:"status"`
	Quantity    float64    `json:"quantity"`
	EntryPrice  float64    `json:"entry_price"`
	StopLoss    float64    `json:"stop_loss"`
	TakeProfit  float64    `json:"take_profit"`
	Unprotected bool       `json:"unprotected"`
	Timestamp   time.Time  `json:"timestamp"`
}

func (PositionEvent) EventKind() string { return "position" }

// OrderEvent reports an order state change.
type OrderEvent struct {
	Symbol    string    `json:"symbol"`
	OrderID   string    `json:"order_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (OrderEvent) EventKind() string { return "order" }

// StrikeEvent reports a confirmed stop-loss fill counted by the risk guard.
type StrikeEvent struct {
	Symbol    string     `json:"symbol"`
	Side      types.Side `json:"side"`
	ExitPrice float64    `json:"exit_price"`
	Qty       float64    `json:"qty"`
	Strikes   int        `json:"strikes"`
	Timestamp time.Time  `json:"timestamp"`
}

func (StrikeEvent) EventKind() string { return "strike" }

// HaltEvent reports a risk-guard state transition.
type HaltEvent struct {
	Halted    bool      `json:"halted"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (HaltEvent) EventKind() string { return "halt" }

// AlertEvent reports an urgent condition that must stay visible: an
// unprotected position, a quarantined lane, an escalated close failure.
type AlertEvent struct {
	Severity  string    `json:"severity"`
	Symbol    string    `json:"symbol,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (AlertEvent) EventKind() string { return "alert" }

package types

import "time"

// PriceUpdate is one normalized tick from the market data feed.
// Instances are immutable once produced.
type PriceUpdate struct {
	Symbol    string
	Timestamp time.Time
	Last      float64
	Bid       float64
	Ask       float64
}

// Instrument holds reference data for one tradable contract.
// Loaded once at startup and never mutated.
type Instrument struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tick_size"`
	MinOrderQty float64 `json:"min_order_qty"`
	QtyStep     float64 `json:"qty_step"`
	MaxLeverage int     `json:"max_leverage"`
	Leverage    int     `json:"leverage"`
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the reversed side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func (s Side) String() string {
	return string(s)
}

package reporting

import (
	"time"

	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// JournalEntry is one completed trade in the journal.
type JournalEntry struct {
	Symbol    string
	Side      types.Side
	Quantity  float64
	Entry     float64
	Exit      float64
	PnL       float64
	PnLPct    float64
	OpenedAt  time.Time
	ClosedAt  time.Time
	Duration  time.Duration
}

// Summary aggregates the journal.
type Summary struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	BestTrade     float64
	WorstTrade    float64
	WinRate       float64
}

// FromHistory converts closed ledger positions into journal entries.
func FromHistory(history []ledger.Position) []JournalEntry {
	entries := make([]JournalEntry, 0, len(history))
	for _, pos := range history {
		qty := pos.ClosedQuantity
		if qty == 0 {
			qty = pos.Quantity
		}
		e := JournalEntry{
			Symbol:   pos.Symbol,
			Side:     pos.Side,
			Quantity: qty,
			Entry:    pos.EntryPrice,
			Exit:     pos.ExitPrice,
			OpenedAt: pos.OpenedAt,
			ClosedAt: pos.ClosedAt,
			Duration: pos.ClosedAt.Sub(pos.OpenedAt),
		}
		e.PnL = pnl(pos.Side, e.Entry, e.Exit, qty)
		if e.Entry > 0 {
			e.PnLPct = e.PnL / (e.Entry * qty) * 100
		}
		entries = append(entries, e)
	}
	return entries
}

// Summarize computes aggregate stats over the journal.
func Summarize(entries []JournalEntry) Summary {
	s := Summary{TotalTrades: len(entries)}
	for i, e := range entries {
		s.TotalPnL += e.PnL
		if e.PnL >= 0 {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}
		if i == 0 || e.PnL > s.BestTrade {
			s.BestTrade = e.PnL
		}
		if i == 0 || e.PnL < s.WorstTrade {
			s.WorstTrade = e.PnL
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	return s
}

func pnl(side types.Side, entry, exit, qty float64) float64 {
	if side == types.SideLong {
		return (exit - entry) * qty
	}
	return (entry - exit) * qty
}

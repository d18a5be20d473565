package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
)

// ConsoleReporter renders positions and the trade journal as tables.
type ConsoleReporter struct {
	out io.Writer
}

// NewConsoleReporter creates a reporter writing to stdout.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{out: os.Stdout}
}

// NewConsoleReporterWriter creates a reporter writing to w.
func NewConsoleReporterWriter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: w}
}

// PrintOpenPositions renders the current book.
func (r *ConsoleReporter) PrintOpenPositions(positions []ledger.Position) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Stop", "Take Profit", "Status"})
	for _, pos := range positions {
		status := string(pos.Status)
		if pos.Unprotected {
			status += " ⚠️ UNPROTECTED"
		}
		t.AppendRow(table.Row{
			pos.Symbol,
			pos.Side,
			fmt.Sprintf("%.6f", pos.Quantity),
			fmt.Sprintf("%.4f", pos.EntryPrice),
			fmtLevel(pos.StopLoss),
			fmtLevel(pos.TakeProfit),
			status,
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	t.Render()
	fmt.Fprintln(r.out)
}

// PrintJournal renders completed trades plus the summary block.
func (r *ConsoleReporter) PrintJournal(entries []JournalEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("TRADE JOURNAL")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Closed", "Symbol", "Side", "Qty", "Entry", "Exit", "PnL", "PnL %", "Held"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.ClosedAt.Format("01-02 15:04:05"),
			e.Symbol,
			e.Side,
			fmt.Sprintf("%.6f", e.Quantity),
			fmt.Sprintf("%.4f", e.Entry),
			fmt.Sprintf("%.4f", e.Exit),
			fmt.Sprintf("%+.2f", e.PnL),
			fmt.Sprintf("%+.2f%%", e.PnLPct),
			e.Duration.Round(1e9).String(),
		})
	}

	s := Summarize(entries)
	t.AppendSeparator()
	t.AppendRow(table.Row{"", "", "", "", "", "Total",
		fmt.Sprintf("%+.2f", s.TotalPnL),
		fmt.Sprintf("%d/%d wins (%.1f%%)", s.WinningTrades, s.TotalTrades, s.WinRate), ""})

	t.Render()
	fmt.Fprintln(r.out)
}

func fmtLevel(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

package bot

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// printStartupInfo prints the session banner and instrument roster.
func (b *Bot) printStartupInfo() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("STRIKE BOT SESSION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🏪 Exchange", b.conn.Name()},
		{"🔧 Environment", b.environmentString()},
		{"📊 Instruments", strings.Join(b.cfg.Symbols(), ", ")},
		{"🧠 Strategies", strings.Join(b.cfg.Strategies.Enabled, ", ")},
		{"🛡️ Risk Guard", b.guardString()},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 45, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()

	b.printInstrumentTable()
}

// printInstrumentTable prints the reference data per traded contract.
func (b *Bot) printInstrumentTable() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("INSTRUMENTS")
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Symbol", "Tick Size", "Min Qty", "Qty Step", "Leverage"})
	for _, symbol := range b.cfg.Symbols() {
		inst := b.instruments[symbol]
		t.AppendRow(table.Row{
			inst.Symbol,
			fmt.Sprintf("%g", inst.TickSize),
			fmt.Sprintf("%g", inst.MinOrderQty),
			fmt.Sprintf("%g", inst.QtyStep),
			fmt.Sprintf("%dx", inst.Leverage),
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	t.Render()
	fmt.Println()
}

func (b *Bot) environmentString() string {
	if b.cfg.Paper {
		return "📝 Paper (simulated fills)"
	}
	return b.cfg.Exchange.Environment()
}

func (b *Bot) guardString() string {
	cfg := b.cfg.RiskGuard.Config()
	if !cfg.IsEnabled() {
		return "disabled"
	}
	return fmt.Sprintf("%d strikes in %s", cfg.StrikeLimit, cfg.Window)
}

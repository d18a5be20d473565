package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteJournalCSV writes the journal to a CSV file. An .xlsx path delegates
// to the Excel writer.
func WriteJournalCSV(entries []JournalEntry, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteJournalXLSX(entries, path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{
		"opened_at", "closed_at", "symbol", "side", "quantity",
		"entry_price", "exit_price", "pnl", "pnl_pct", "duration",
	}); err != nil {
		return err
	}

	for _, e := range entries {
		record := []string{
			e.OpenedAt.Format(time.RFC3339),
			e.ClosedAt.Format(time.RFC3339),
			e.Symbol,
			string(e.Side),
			fmt.Sprintf("%.8f", e.Quantity),
			fmt.Sprintf("%.8f", e.Entry),
			fmt.Sprintf("%.8f", e.Exit),
			fmt.Sprintf("%.8f", e.PnL),
			fmt.Sprintf("%.4f", e.PnLPct),
			e.Duration.String(),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// WriteJournalXLSX writes the journal workbook: a Trades sheet with every
// completed trade and a Summary sheet with the aggregates.
func WriteJournalXLSX(entries []JournalEntry, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"1F4E79"},
			Pattern: 1,
		},
	})
	if err != nil {
		return err
	}

	if err := writeTradesSheet(fx, tradesSheet, entries, headerStyle); err != nil {
		return err
	}
	if err := writeSummarySheet(fx, summarySheet, Summarize(entries), headerStyle); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func writeTradesSheet(fx *excelize.File, sheet string, entries []JournalEntry, headerStyle int) error {
	headers := []string{"Opened", "Closed", "Symbol", "Side", "Quantity",
		"Entry", "Exit", "PnL", "PnL %", "Held"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for row, e := range entries {
		values := []interface{}{
			e.OpenedAt.Format("2006-01-02 15:04:05"),
			e.ClosedAt.Format("2006-01-02 15:04:05"),
			e.Symbol,
			string(e.Side),
			e.Quantity,
			e.Entry,
			e.Exit,
			e.PnL,
			e.PnLPct,
			e.Duration.String(),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSummarySheet(fx *excelize.File, sheet string, s Summary, headerStyle int) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Total Trades", s.TotalTrades},
		{"Winning Trades", s.WinningTrades},
		{"Losing Trades", s.LosingTrades},
		{"Win Rate %", s.WinRate},
		{"Total PnL", s.TotalPnL},
		{"Best Trade", s.BestTrade},
		{"Worst Trade", s.WorstTrade},
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			if r == 0 {
				if err := fx.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

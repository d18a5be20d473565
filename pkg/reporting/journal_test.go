package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhtuanle/crypto-strike-bot/internal/ledger"
	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleHistory() []ledger.Position {
	return []ledger.Position{
		{
			Symbol: "BTCUSDT", Side: types.SideLong, EntryPrice: 100,
			ExitPrice: 110, ClosedQuantity: 1, Status: ledger.StatusClosed,
			OpenedAt: base, ClosedAt: base.Add(time.Hour),
		},
		{
			Symbol: "ETHUSDT", Side: types.SideShort, EntryPrice: 3000,
			ExitPrice: 3060, ClosedQuantity: 2, Status: ledger.StatusClosed,
			OpenedAt: base, ClosedAt: base.Add(30 * time.Minute),
		},
	}
}

func TestFromHistoryComputesPnL(t *testing.T) {
	entries := FromHistory(sampleHistory())
	require.Len(t, entries, 2)

	assert.InDelta(t, 10.0, entries[0].PnL, 1e-9, "long profit")
	assert.InDelta(t, 10.0, entries[0].PnLPct, 1e-9)
	assert.InDelta(t, -120.0, entries[1].PnL, 1e-9, "short stopped out")
	assert.InDelta(t, -2.0, entries[1].PnLPct, 1e-9)
}

func TestSummarize(t *testing.T) {
	s := Summarize(FromHistory(sampleHistory()))

	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.WinningTrades)
	assert.Equal(t, 1, s.LosingTrades)
	assert.InDelta(t, -110.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 10.0, s.BestTrade, 1e-9)
	assert.InDelta(t, -120.0, s.WorstTrade, 1e-9)
	assert.InDelta(t, 50.0, s.WinRate, 1e-9)
}

func TestConsoleJournalRenders(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporterWriter(&buf)
	r.PrintJournal(FromHistory(sampleHistory()))

	out := buf.String()
	assert.Contains(t, out, "TRADE JOURNAL")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "ETHUSDT")
}

func TestWriteJournalCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.csv")
	require.NoError(t, WriteJournalCSV(FromHistory(sampleHistory()), path))

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "BTCUSDT")
	assert.Contains(t, string(data), "opened_at")
}

func TestWriteJournalXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.xlsx")
	require.NoError(t, WriteJournalXLSX(FromHistory(sampleHistory()), path))

	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	assert.Greater(t, info.Size(), int64(0))
}

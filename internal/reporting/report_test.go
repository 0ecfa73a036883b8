package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpreviti/cryptomind/internal/storage"
)

func sampleTrades() []storage.TradeRecord {
	pct := 44.1
	loss := -10.0
	return []storage.TradeRecord{
		{ID: "1", Pair: "BTC/USDT", Side: "buy", Quantity: 1, Price: 100, Notional: 100},
		{ID: "2", Pair: "BTC/USDT", Side: "sell", Quantity: 1, Price: 150, Notional: 150, RealizedPnL: 45, PnLPercent: &pct},
		{ID: "3", Pair: "ETH/USDT", Side: "sell", Quantity: 2, Price: 50, Notional: 100, RealizedPnL: -10, PnLPercent: &loss},
	}
}

func TestBuild_Aggregates(t *testing.T) {
	report := Build(sampleTrades(), 1000, 1035)

	assert.Equal(t, 3, report.TotalTrades)
	assert.Equal(t, 2, report.Sells)
	assert.Equal(t, 1, report.Wins)
	assert.Equal(t, 1, report.Losses)
	assert.InDelta(t, 50.0, report.WinRatePct, 1e-9)
	assert.InDelta(t, 35.0, report.RealizedPnL, 1e-9)
	assert.InDelta(t, 3.5, report.TotalReturnPct, 1e-9)

	require.Len(t, report.PerPair, 2)
	// Sorted by realized P&L descending.
	assert.Equal(t, "BTC/USDT", report.PerPair[0].Pair)
	assert.InDelta(t, 45.0, report.PerPair[0].RealizedPnL, 1e-9)
}

func TestBuild_EmptyHistory(t *testing.T) {
	report := Build(nil, 1000, 1000)
	assert.Zero(t, report.TotalTrades)
	assert.Zero(t, report.WinRatePct)
	assert.Empty(t, report.PerPair)
}

func TestRender_WritesTables(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, Build(sampleTrades(), 1000, 1035))

	out := buf.String()
	assert.Contains(t, out, "PERFORMANCE")
	assert.Contains(t, out, "PER PAIR")
	assert.Contains(t, out, "BTC/USDT")
}

func TestExportExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")
	report := Build(sampleTrades(), 1000, 1035)
	report.GeneratedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ExportExcel(report, sampleTrades(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

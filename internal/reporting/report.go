// Package reporting builds performance summaries from the trade log and
// renders them for the console or Excel export.
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/xuri/excelize/v2"

	"github.com/gpreviti/cryptomind/internal/storage"
)

// PairStats aggregates sell outcomes for one pair.
type PairStats struct {
	Pair        string
	Trades      int
	Wins        int
	RealizedPnL float64
}

// PerformanceReport is the portfolio summary shown to the operator.
type PerformanceReport struct {
	GeneratedAt    time.Time
	InitialValue   float64
	CurrentValue   float64
	RealizedPnL    float64
	TotalReturnPct float64
	TotalTrades    int
	Sells          int
	Wins           int
	Losses         int
	WinRatePct     float64
	PerPair        []PairStats
}

// Build computes the report from the trade history. Win rate counts only
// sells, the trades that realize an outcome.
func Build(trades []storage.TradeRecord, initialValue, currentValue float64) PerformanceReport {
	report := PerformanceReport{
		GeneratedAt:  time.Now(),
		InitialValue: initialValue,
		CurrentValue: currentValue,
		TotalTrades:  len(trades),
	}
	if initialValue > 0 {
		report.TotalReturnPct = (currentValue - initialValue) / initialValue * 100
	}

	perPair := make(map[string]*PairStats)
	for _, t := range trades {
		if t.Side != "sell" {
			continue
		}
		report.Sells++
		report.RealizedPnL += t.RealizedPnL

		stats, ok := perPair[t.Pair]
		if !ok {
			stats = &PairStats{Pair: t.Pair}
			perPair[t.Pair] = stats
		}
		stats.Trades++
		stats.RealizedPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			report.Wins++
			stats.Wins++
		} else {
			report.Losses++
		}
	}
	if report.Sells > 0 {
		report.WinRatePct = float64(report.Wins) / float64(report.Sells) * 100
	}

	for _, stats := range perPair {
		report.PerPair = append(report.PerPair, *stats)
	}
	sort.Slice(report.PerPair, func(i, j int) bool {
		return report.PerPair[i].RealizedPnL > report.PerPair[j].RealizedPnL
	})
	return report
}

// Render writes the report as console tables.
func Render(w io.Writer, report PerformanceReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("PERFORMANCE")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Initial Value", fmt.Sprintf("$%.2f", report.InitialValue)},
		{"Current Value", fmt.Sprintf("$%.2f", report.CurrentValue)},
		{"Total Return", fmt.Sprintf("%.2f%%", report.TotalReturnPct)},
		{"Realized P&L", fmt.Sprintf("$%.2f", report.RealizedPnL)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Total Trades", report.TotalTrades},
		{"Closed (sells)", report.Sells},
		{"Winning", report.Wins},
		{"Losing", report.Losses},
		{"Win Rate", fmt.Sprintf("%.1f%%", report.WinRatePct)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 16, Align: text.AlignLeft},
		{Number: 2, WidthMin: 14, Align: text.AlignRight},
	})
	t.Render()

	if len(report.PerPair) == 0 {
		return
	}

	pairs := table.NewWriter()
	pairs.SetOutputMirror(w)
	pairs.SetTitle("PER PAIR")
	pairs.SetStyle(table.StyleRounded)
	pairs.AppendHeader(table.Row{"Pair", "Sells", "Wins", "Realized P&L"})
	for _, s := range report.PerPair {
		pairs.AppendRow(table.Row{s.Pair, s.Trades, s.Wins, fmt.Sprintf("$%.2f", s.RealizedPnL)})
	}
	pairs.Render()
}

// ExportExcel writes the report and the full trade log to a workbook.
func ExportExcel(report PerformanceReport, trades []storage.TradeRecord, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const summarySheet = "Summary"
	const tradesSheet = "Trades"
	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	fx.NewSheet(tradesSheet)

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return err
	}

	summary := [][]interface{}{
		{"Generated", report.GeneratedAt.Format(time.RFC3339)},
		{"Initial Value", report.InitialValue},
		{"Current Value", report.CurrentValue},
		{"Total Return %", report.TotalReturnPct},
		{"Realized P&L", report.RealizedPnL},
		{"Total Trades", report.TotalTrades},
		{"Win Rate %", report.WinRatePct},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := fx.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}

	header := []interface{}{"Time", "Account", "Pair", "Side", "Quantity", "Price", "Notional", "Fees", "Realized P&L", "P&L %", "Reason"}
	if err := fx.SetSheetRow(tradesSheet, "A1", &header); err != nil {
		return err
	}
	if err := fx.SetCellStyle(tradesSheet, "A1", "K1", headerStyle); err != nil {
		return err
	}
	for i, t := range trades {
		var pct interface{}
		if t.PnLPercent != nil {
			pct = *t.PnLPercent
		}
		row := []interface{}{
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.Account, t.Pair, t.Side,
			t.Quantity, t.Price, t.Notional, t.Fees,
			t.RealizedPnL, pct, t.Reason,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := fx.SetSheetRow(tradesSheet, cell, &row); err != nil {
			return err
		}
	}

	return fx.SaveAs(path)
}

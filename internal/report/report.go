// Package report renders research results as markdown. All numbers arrive
// as unscaled fractions and are formatted here, at the presentation
// boundary, never upstream.
package report

import (
	"fmt"
	"strings"
	"time"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/strategy"
	"golang-backtest/internal/walkforward"
	"golang-backtest/pkg/utils"
)

// NamedMetrics is one table row: a strategy label and its metrics.
type NamedMetrics struct {
	Name    string
	Metrics backtest.Metrics
}

// MarketSnapshot is the state of the instrument on the last bar of the
// series, shown in the report header.
type MarketSnapshot struct {
	Date          time.Time
	Close         float64
	EMA200DistPct float64
	RSI14         float64
	RealizedVol20 float64
}

// SensitivityBlock is one parameter's perturbation table around a base
// value.
type SensitivityBlock struct {
	Param string
	Base  float64
	Rows  []walkforward.SensitivityRow
}

// BuyHoldName labels the benchmark row in every comparison table.
const BuyHoldName = "Buy_Hold"

type builder struct {
	lines []string
}

func (b *builder) line(format string, args ...any) {
	if len(args) == 0 {
		b.lines = append(b.lines, format)
		return
	}
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *builder) blank() {
	b.lines = append(b.lines, "")
}

func (b *builder) table(cols []string, rows [][]string) {
	b.lines = append(b.lines, "| "+strings.Join(cols, " | ")+" |")
	sep := make([]string, len(cols))
	for i := range sep {
		sep[i] = "---"
	}
	b.lines = append(b.lines, "| "+strings.Join(sep, " | ")+" |")
	for _, row := range rows {
		b.lines = append(b.lines, "| "+strings.Join(row, " | ")+" |")
	}
}

func (b *builder) String() string {
	return strings.Join(b.lines, "\n")
}

func pct(v float64) string  { return fmt.Sprintf("%.2f%%", v*100) }
func pct1(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }
func pct0(v float64) string { return fmt.Sprintf("%.0f%%", v*100) }
func f1(v float64) string   { return fmt.Sprintf("%.1f", v) }
func f2(v float64) string   { return fmt.Sprintf("%.2f", v) }
func f4(v float64) string   { return fmt.Sprintf("%.4f", v) }

// paramsLabel renders a parameter set for a table cell, truncated so wide
// grids do not blow up the column.
func paramsLabel(p strategy.Params, maxLen int) string {
	s := p.Key()
	if len(s) > maxLen {
		s = s[:maxLen-3] + "..."
	}
	return s
}

func metricTable(b *builder, title string, rows []NamedMetrics) {
	b.line("### %s", title)
	b.blank()
	cols := []string{"Strategy", "CAGR", "Vol", "Sharpe", "Sortino", "MaxDD",
		"Calmar", "WinRate", "PF", "Exp%", "AvgDays", "Tr/Yr", "TotRet"}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		m := r.Metrics
		cells = append(cells, []string{
			r.Name, pct(m.CAGR), pct(m.Volatility), f2(m.Sharpe), f2(m.Sortino),
			pct(m.MaxDrawdown), f2(m.Calmar), pct1(m.WinRate), f2(m.ProfitFactor),
			f1(m.ExposurePct), f1(m.AvgTradeBars), f1(m.TradesPerYear), pct(m.TotalReturn),
		})
	}
	b.table(cols, cells)
}

func sensitivityTables(b *builder, blocks []SensitivityBlock) {
	for _, blk := range blocks {
		if len(blk.Rows) == 0 {
			continue
		}
		b.line("**%s** (base=%v):", blk.Param, blk.Base)
		b.blank()
		cols := []string{blk.Param, "CAGR", "MaxDD", "Calmar", "Sharpe", "Exposure", "Trades/Yr"}
		cells := make([][]string, 0, len(blk.Rows))
		for _, row := range blk.Rows {
			m := row.Metrics
			cells = append(cells, []string{
				f4(row.Value), f4(m.CAGR), f4(m.MaxDrawdown), f4(m.Calmar),
				f4(m.Sharpe), f4(m.ExposurePct), f4(m.TradesPerYear),
			})
		}
		b.table(cols, cells)
		b.blank()
	}
}

func subperiodTable(b *builder, rows []walkforward.SubperiodRow) {
	cols := []string{"Period", "CAGR", "MaxDD", "Calmar", "Sharpe", "Exposure", "Trades/Yr"}
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		m := row.Metrics
		period := fmt.Sprintf("%s (%s to %s)", row.Subperiod.Name,
			utils.FormatDate(row.Subperiod.Start), utils.FormatDate(row.Subperiod.End))
		cells = append(cells, []string{
			period, pct(m.CAGR), pct(m.MaxDrawdown), f2(m.Calmar),
			f2(m.Sharpe), f1(m.ExposurePct), f1(m.TradesPerYear),
		})
	}
	b.table(cols, cells)
}

func formatScales(scales []float64) string {
	parts := make([]string, len(scales))
	for i, s := range scales {
		parts[i] = fmt.Sprintf("%v", s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatDateTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

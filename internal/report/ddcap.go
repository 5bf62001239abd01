package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/strategy"
	"golang-backtest/internal/walkforward"
	"golang-backtest/pkg/utils"
)

// DDCapData is everything the drawdown-capped selection report renders.
type DDCapData struct {
	GeneratedAt time.Time
	Symbol      string
	SeriesStart time.Time
	SeriesEnd   time.Time
	SeriesDays  int
	Backtest    backtest.Config
	WFConfig    walkforward.Config
	RiskScales  []float64
	Specs       []strategy.Spec
	Selection   *walkforward.Selection

	Holdout       []NamedMetrics
	FullPeriod    []NamedMetrics
	WinnerHoldout *backtest.Metrics
	Sensitivity   []SensitivityBlock
	Subperiods    []walkforward.SubperiodRow
	Snapshot      *MarketSnapshot
	Explanation   string
}

func (d DDCapData) winner() *walkforward.StrategyOutcome {
	if d.Selection == nil {
		return nil
	}
	return d.Selection.Winner
}

// BuildDDCap renders the full drawdown-capped selection report. With no
// admissible candidate it still renders the per-strategy sections and ends
// with an explicit no-winner result.
func BuildDDCap(d DDCapData) string {
	b := &builder{}
	cons := d.Selection.Constraints

	b.line("# Drawdown-Capped Strategy Selection Report")
	b.blank()
	if w := d.winner(); w != nil {
		writeTLDR(b, d, w)
		b.blank()
	}
	b.line("**Hard constraint**: MaxDD >= %s (no worse than %s)", pct0(cons.DDCap), pct0(math.Abs(cons.DDCap)))
	b.line("**Date**: %s", formatDateTime(d.GeneratedAt))
	b.line("**Data**: %s %s → %s (%d days)", d.Symbol,
		utils.FormatDate(d.SeriesStart), utils.FormatDate(d.SeriesEnd), d.SeriesDays)
	b.line("**Costs**: %v bps commission + %v bps slippage/side",
		d.Backtest.CommissionBps, d.Backtest.SlippageBps)
	b.line("**Walk-forward**: %dyr train, %dyr val, %dyr step, %d folds",
		d.WFConfig.TrainYears, d.WFConfig.ValYears, d.WFConfig.StepYears, len(d.Selection.Folds))
	b.line("**Holdout**: %s → latest", utils.FormatDate(d.WFConfig.HoldoutStart))
	b.line("**risk_scale grid**: %s", formatScales(d.RiskScales))
	b.line("**Fold-pass rate required**: %s", pct0(cons.FoldPassRate))
	b.line("**Min avg OOS exposure**: %s%%", f1(cons.MinExposurePct))
	if snap := d.Snapshot; snap != nil {
		b.line("**Market snapshot** (%s): close %.2f (%+.1f%% vs EMA200), RSI14 %.1f, 20d realized vol %s",
			utils.FormatDate(snap.Date), snap.Close, snap.EMA200DistPct, snap.RSI14, pct1(snap.RealizedVol20))
	}
	b.blank()

	b.line("## Strategy Descriptions")
	b.blank()
	for _, spec := range d.Specs {
		b.line("- **%s**: %s", spec.Name, spec.Description)
	}
	b.blank()

	b.line("## Walk-Forward Optimization (DD-Capped)")
	b.blank()
	for _, out := range d.Selection.Outcomes {
		writeStrategySection(b, d, out)
	}

	if d.winner() == nil {
		b.line("## RESULT: No strategy passed the drawdown-cap constraints.")
		return b.String()
	}

	writeRanking(b, d)
	writeStitched(b, d)

	metricTable(b, fmt.Sprintf("Holdout (%s → latest)", utils.FormatDate(d.WFConfig.HoldoutStart)), d.Holdout)
	b.blank()
	metricTable(b, "Full Period (all history, for reference, NOT for selection)", d.FullPeriod)
	b.blank()

	writeWhySection(b, d)

	if len(d.Sensitivity) > 0 {
		b.line("## Robustness: Sensitivity Around Winner Params")
		b.blank()
		b.line("Each parameter is nudged one grid step in either direction, everything")
		b.line("else fixed, evaluated on pre-holdout data only.")
		b.blank()
		sensitivityTables(b, d.Sensitivity)
	}

	if len(d.Subperiods) > 0 {
		b.line("## Subperiod Breakdown (Winner)")
		b.blank()
		subperiodTable(b, d.Subperiods)
		b.blank()
	}

	if d.Explanation != "" {
		b.line("## Plain-English Summary")
		b.blank()
		b.line(d.Explanation)
		b.blank()
	}

	b.line("---")
	return b.String()
}

// TLDR renders only the recommendation block, for channels that cannot carry
// the full report. Empty when there is no winner.
func TLDR(d DDCapData) string {
	w := d.winner()
	if w == nil {
		return ""
	}
	b := &builder{}
	writeTLDR(b, d, w)
	return b.String()
}

func writeTLDR(b *builder, d DDCapData, w *walkforward.StrategyOutcome) {
	cons := d.Selection.Constraints
	ev := w.Best
	riskScale := riskScaleOf(ev.Params)
	passed, valid := ev.DDPassStats(cons.DDCap)
	passPct := 0.0
	if valid > 0 {
		passPct = float64(passed) / float64(valid)
	}

	b.line("## TL;DR (Recommendation)")
	b.blank()
	b.line("- **Recommended strategy**: %s (risk_scale=%v)", w.Strategy, riskScale)
	b.line("- **Why**:")
	b.line("  - Highest average OOS CAGR (%s) among DD-cap passing strategies", pct(ev.AvgMetrics.CAGR))
	b.line("  - Stitched walk-forward MaxDD (%s) stays within %s cap",
		pct(ev.Stitched.MaxDD), pct0(cons.DDCap))
	b.line("  - Passed DD constraint in %d of %d validation folds (%s)",
		passed, valid, pct0(passPct))

	watch := watchItems(w.Strategy, riskScale)
	if len(watch) > 0 {
		b.line("- **What to watch**:")
		for _, item := range watch {
			b.line("  - %s", item)
		}
	}

	riskParts := []string{
		fmt.Sprintf("MaxDD cap %s", pct0(cons.DDCap)),
		fmt.Sprintf("stitched OOS MaxDD %s", pct(ev.Stitched.MaxDD)),
	}
	if d.WinnerHoldout != nil {
		riskParts = append(riskParts, fmt.Sprintf("holdout MaxDD %s", pct(d.WinnerHoldout.MaxDrawdown)))
	}
	b.line("- **Risk**: %s", strings.Join(riskParts, ", "))
	b.blank()
	b.line("> *Not financial advice. Past performance does not guarantee future results.*")
}

func watchItems(name string, riskScale float64) []string {
	var items []string
	lower := strings.ToLower(name)
	if strings.Contains(lower, "hysteresis") {
		items = append(items, "Regime EMA breakdown: strategy goes to cash (no protection if EMA whipsaws)")
	}
	if strings.Contains(lower, "sizing") {
		items = append(items, "Volatility spikes may reduce position size below target")
	}
	if strings.Contains(lower, "dip_addon") {
		items = append(items, "Dip add-on may increase exposure during sharp declines if regime hasn't broken yet")
	}
	if strings.Contains(lower, "breakout") {
		items = append(items, "False breakouts in range-bound markets can generate whipsaws")
	}
	if riskScale < 1.0 {
		items = append(items, fmt.Sprintf(
			"risk_scale=%v caps max exposure at %s, limiting upside capture in strong trends",
			riskScale, pct0(riskScale)))
	}
	return items
}

func writeStrategySection(b *builder, d DDCapData, out *walkforward.StrategyOutcome) {
	cons := d.Selection.Constraints

	b.line("### %s", out.Strategy)
	b.line("- Base grid: %d combos", out.BaseGridSize)
	b.line("- Expanded grid (× risk_scale): %d combos", out.GridSize)
	passPct := 0.0
	if out.Evaluated > 0 {
		passPct = float64(len(out.Passing)) / float64(out.Evaluated)
	}
	b.line("- Evaluated: %d, Passed DD-cap: **%d** (%s)", out.Evaluated, len(out.Passing), pct1(passPct))

	if out.Best == nil {
		b.line("- **No parameter set passed all constraints.**")
		b.blank()
		return
	}

	ev := out.Best
	avg := ev.AvgMetrics
	b.line("- **Best params**: `%s`", ev.Params.Key())
	b.line("- Avg OOS CAGR: %s", pct(avg.CAGR))
	b.line("- Avg OOS Sharpe: %s", f2(avg.Sharpe))
	b.line("- Avg OOS Calmar: %s", f2(avg.Calmar))
	b.line("- Avg OOS MaxDD: %s", pct(avg.MaxDrawdown))
	b.line("- Avg OOS Exposure: %s%%", f1(avg.ExposurePct))
	b.line("- Stitched OOS MaxDD: %s", pct(ev.Stitched.MaxDD))
	b.blank()

	cols := []string{"Fold", "Val Period", "OOS CAGR", "OOS MaxDD", "OOS Sharpe",
		"OOS Calmar", "OOS Exp%", "DD Pass?"}
	cells := make([][]string, 0, len(d.Selection.Folds))
	for fi, fold := range d.Selection.Folds {
		period := fmt.Sprintf("%s→%s", utils.FormatDate(fold.ValStart), utils.FormatDate(fold.ValEnd))
		var fm *backtest.Metrics
		if fi < len(ev.FoldMetrics) {
			fm = ev.FoldMetrics[fi]
		}
		if fm == nil {
			cells = append(cells, []string{fmt.Sprint(fi), period, "-", "-", "-", "-", "-", "-"})
			continue
		}
		ddOK := "NO"
		if fm.MaxDrawdown >= cons.DDCap {
			ddOK = "YES"
		}
		cells = append(cells, []string{
			fmt.Sprint(fi), period, pct(fm.CAGR), pct(fm.MaxDrawdown),
			f2(fm.Sharpe), f2(fm.Calmar), f1(fm.ExposurePct), ddOK,
		})
	}
	b.table(cols, cells)
	b.blank()
}

func writeRanking(b *builder, d DDCapData) {
	cons := d.Selection.Constraints

	b.line("## Overall Ranking (by avg OOS CAGR among DD-cap passing)")
	b.blank()
	cols := []string{"Rank", "Strategy", "Avg OOS CAGR", "Avg OOS Sharpe", "Avg OOS Calmar",
		"Avg OOS MaxDD", "Avg OOS Exp%", "Stitched MaxDD", "Pass Rate", "risk_scale"}
	cells := make([][]string, 0, len(d.Selection.Ranked))
	for rank, out := range d.Selection.Ranked {
		ev := out.Best
		avg := ev.AvgMetrics
		passed, valid := ev.DDPassStats(cons.DDCap)
		passPct := 0.0
		if valid > 0 {
			passPct = float64(passed) / float64(valid)
		}
		cells = append(cells, []string{
			fmt.Sprint(rank + 1), out.Strategy, pct(avg.CAGR), f2(avg.Sharpe), f2(avg.Calmar),
			pct(avg.MaxDrawdown), f1(avg.ExposurePct), pct(ev.Stitched.MaxDD),
			pct0(passPct), fmt.Sprintf("%v", riskScaleOf(ev.Params)),
		})
	}
	b.table(cols, cells)
	b.blank()

	var failed []string
	for _, out := range d.Selection.Outcomes {
		if out.Best == nil {
			failed = append(failed, out.Strategy)
		}
	}
	if len(failed) > 0 {
		b.line("**Failed to meet DD-cap**: %s", strings.Join(failed, ", "))
		b.blank()
	}

	w := d.winner()
	b.line("### WINNER: **%s**", w.Strategy)
	b.line("- Full params: `%s`", w.Best.Params.Key())
	b.line("- Strategy params: `%s`", w.Best.Params.Without(strategy.RiskScaleKey).Key())
	b.line("- risk_scale: %v", riskScaleOf(w.Best.Params))
	b.blank()
}

func writeStitched(b *builder, d DDCapData) {
	w := d.winner()
	sum := w.Best.Stitched.Summary()
	cons := d.Selection.Constraints

	b.line("## Stitched Walk-Forward OOS Equity (Winner)")
	b.blank()
	b.line("- Period: %s → %s (%d OOS days)",
		utils.FormatDate(sum.Start), utils.FormatDate(sum.End), sum.Days)
	b.line("- CAGR: %s", pct(sum.CAGR))
	b.line("- Volatility: %s", pct(sum.Volatility))
	b.line("- Sharpe: %s", f2(sum.Sharpe))
	b.line("- **MaxDD: %s** (cap: %s)", pct(sum.MaxDD), pct0(cons.DDCap))
	b.line("- Total Return: %s", pct(sum.TotalReturn))
	b.blank()
	b.line("Daily equity and drawdown values for this curve are stored with the run record.")
	b.blank()
}

func writeWhySection(b *builder, d DDCapData) {
	w := d.winner()
	ev := w.Best
	cons := d.Selection.Constraints
	riskScale := riskScaleOf(ev.Params)
	passed, valid := ev.DDPassStats(cons.DDCap)

	b.line("## Why This Strategy Meets the %s Drawdown Cap", pct0(math.Abs(cons.DDCap)))
	b.blank()
	b.line("**Winner**: %s with risk_scale=%v", w.Strategy, riskScale)
	b.blank()
	b.line("1. **Walk-forward OOS**: The stitched OOS equity across %d validation folds "+
		"shows MaxDD = %s, which is within the %s cap. %d of %d folds individually "+
		"satisfy the constraint.",
		len(d.Selection.Folds), pct(ev.Stitched.MaxDD), pct0(cons.DDCap), passed, valid)
	b.blank()

	if d.WinnerHoldout != nil {
		note := "This is within the cap."
		if d.WinnerHoldout.MaxDrawdown < cons.DDCap {
			note = "Note: the holdout is out-of-sample and not part of the selection constraint."
		}
		b.line("2. **Holdout period** (%s+): MaxDD = %s. %s",
			utils.FormatDate(d.WFConfig.HoldoutStart), pct(d.WinnerHoldout.MaxDrawdown), note)
	}
	if m, ok := findMetrics(d.FullPeriod, w.Strategy); ok {
		note := "This is within the cap."
		if m.MaxDrawdown < cons.DDCap {
			note = "The full period includes extreme events outside the walk-forward window; " +
				"the OOS-validated constraint still holds across folds."
		}
		b.line("3. **Full period**: MaxDD = %s. %s", pct(m.MaxDrawdown), note)
	}
	b.blank()

	b.line("**Mechanism explanation**:")
	for _, part := range mechanismNotes(w.Strategy, riskScale) {
		b.line("- %s", part)
	}
	b.blank()
}

func mechanismNotes(name string, riskScale float64) []string {
	var parts []string
	lower := strings.ToLower(name)
	if strings.Contains(lower, "hysteresis") {
		parts = append(parts, "The hysteresis bands create a dead zone around the regime EMA, "+
			"preventing rapid entry/exit whipsaws. The lower exit band ensures the strategy "+
			"exits early in sustained declines.")
	}
	if strings.Contains(lower, "sizing") {
		parts = append(parts, "Vol-targeting automatically reduces position size when volatility "+
			"spikes (i.e., during drawdowns), providing natural drawdown dampening.")
	}
	if strings.Contains(lower, "dip_addon") {
		parts = append(parts, "The base weight below 1.0 means the strategy is never fully "+
			"invested in normal conditions, reducing drawdown. The add-on only kicks in on "+
			"short-term dips, not during regime breaks.")
	}
	if strings.Contains(lower, "breakout") {
		parts = append(parts, "The dual-mode entry combined with the ATR trailing stop exits "+
			"positions when price drops significantly from its peak. The regime filter exits "+
			"entirely when the long-term trend breaks.")
	}
	if riskScale < 1.0 {
		parts = append(parts, fmt.Sprintf("The risk_scale=%v further caps effective exposure, "+
			"reducing all weights by %s.", riskScale, pct0(1-riskScale)))
	}
	return parts
}

func riskScaleOf(p strategy.Params) float64 {
	if rs, ok := p[strategy.RiskScaleKey]; ok {
		return rs
	}
	return 1.0
}

func findMetrics(rows []NamedMetrics, name string) (backtest.Metrics, bool) {
	for _, r := range rows {
		if r.Name == name {
			return r.Metrics, true
		}
	}
	return backtest.Metrics{}, false
}

// SweepRow summarizes one cap of a multi-cap sweep. An empty Winner means
// nothing passed at that cap.
type SweepRow struct {
	DDCap         float64
	Winner        string
	RiskScale     float64
	StitchedMaxDD float64
	AvgOOSCAGR    float64
	HoldoutCAGR   float64
	HoldoutMaxDD  float64
	ExposurePct   float64
	Notes         string
}

// BuildSweepSummary renders the cross-cap comparison table.
func BuildSweepSummary(generatedAt time.Time, strategies []string, riskScales []float64, rows []SweepRow) string {
	b := &builder{}
	b.line("# DD-Cap Sweep Summary")
	b.blank()
	b.line("**Date**: %s", formatDateTime(generatedAt))
	b.line("**Strategies**: %s", strings.Join(strategies, ", "))
	b.line("**risk_scales**: %s", formatScales(riskScales))
	b.blank()
	b.line("## Results")
	b.blank()

	cols := []string{"DD Cap", "Winner", "risk_scale", "Stitched OOS MaxDD",
		"Avg OOS CAGR", "Holdout CAGR", "Holdout MaxDD", "Exposure", "Notes"}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		if r.Winner == "" {
			cells = append(cells, []string{pct0(r.DDCap), "-", "-", "-", "-", "-", "-", "-", r.Notes})
			continue
		}
		cells = append(cells, []string{
			pct0(r.DDCap), r.Winner, fmt.Sprintf("%v", r.RiskScale),
			pct(r.StitchedMaxDD), pct(r.AvgOOSCAGR), pct(r.HoldoutCAGR),
			pct(r.HoldoutMaxDD), f1(r.ExposurePct) + "%", r.Notes,
		})
	}
	b.table(cols, cells)
	b.blank()
	return b.String()
}

package report

import (
	"fmt"
	"sort"
	"time"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/strategy"
	"golang-backtest/internal/walkforward"
	"golang-backtest/pkg/utils"
)

// ClassicStrategyBlock is one strategy's share of the comparison report.
type ClassicStrategyBlock struct {
	Spec        strategy.Spec
	GridSize    int
	WF          *walkforward.OptimizeResult
	Sensitivity []SensitivityBlock
}

// ClassicData feeds the unconstrained strategy comparison report, which ranks
// by Calmar instead of enforcing a drawdown cap.
type ClassicData struct {
	GeneratedAt time.Time
	Symbol      string
	SeriesStart time.Time
	SeriesEnd   time.Time
	SeriesDays  int
	Backtest    backtest.Config
	WFConfig    walkforward.Config
	Strategies  []ClassicStrategyBlock
	Holdout     []NamedMetrics
	FullPeriod  []NamedMetrics
}

// BuildClassic renders the walk-forward strategy comparison report.
func BuildClassic(d ClassicData) string {
	b := &builder{}

	b.line("# Walk-Forward Strategy Comparison Report")
	b.blank()
	b.line("**Date**: %s", formatDateTime(d.GeneratedAt))
	b.line("**Instrument**: %s (daily close)", d.Symbol)
	b.line("**Costs**: %v bps commission + %v bps slippage per side",
		d.Backtest.CommissionBps, d.Backtest.SlippageBps)
	b.line("**Walk-forward**: %dyr train / %dyr validation / step %dyr",
		d.WFConfig.TrainYears, d.WFConfig.ValYears, d.WFConfig.StepYears)
	b.line("**Holdout**: %s → latest (touched once, at the end)",
		utils.FormatDate(d.WFConfig.HoldoutStart))
	b.line("**Objective**: Calmar ratio (CAGR / |MaxDD|) with plausibility gates")
	b.blank()

	b.line("## 1. Data")
	b.blank()
	b.line("- %s daily: %s → %s (%d trading days)", d.Symbol,
		utils.FormatDate(d.SeriesStart), utils.FormatDate(d.SeriesEnd), d.SeriesDays)
	b.line("- Holdout reserved from %s", utils.FormatDate(d.WFConfig.HoldoutStart))
	b.blank()

	b.line("## 2. Strategy Descriptions")
	b.blank()
	for _, blk := range d.Strategies {
		b.line("- **%s**: %s (%d parameter combos)", blk.Spec.Name, blk.Spec.Description, blk.GridSize)
	}
	b.blank()

	b.line("## 3. Walk-Forward Optimization")
	b.blank()
	for _, blk := range d.Strategies {
		writeClassicFolds(b, blk)
	}

	b.line("### Consensus Parameters (per-parameter mode across fold winners)")
	b.blank()
	for _, blk := range d.Strategies {
		b.line("- **%s**: `%s`", blk.Spec.Name, blk.WF.Consensus.Key())
	}
	b.blank()

	metricTable(b, fmt.Sprintf("4. Holdout Test (%s → latest, consensus params)",
		utils.FormatDate(d.WFConfig.HoldoutStart)), d.Holdout)
	b.blank()
	metricTable(b, "5. Full-Period Backtest (consensus params, all history)", d.FullPeriod)
	b.blank()

	writeClassicRankings(b, d)

	hasSens := false
	for _, blk := range d.Strategies {
		if len(blk.Sensitivity) > 0 {
			hasSens = true
			break
		}
	}
	if hasSens {
		b.line("## 7. Robustness: Parameter Sensitivity")
		b.blank()
		b.line("Each parameter is nudged one grid step around the consensus value,")
		b.line("evaluated on pre-holdout data only.")
		b.blank()
		for _, blk := range d.Strategies {
			if len(blk.Sensitivity) == 0 {
				continue
			}
			b.line("### %s", blk.Spec.Name)
			b.blank()
			sensitivityTables(b, blk.Sensitivity)
		}
	}

	b.line("---")
	return b.String()
}

func writeClassicFolds(b *builder, blk ClassicStrategyBlock) {
	b.line("### %s: Fold-by-Fold", blk.Spec.Name)
	b.blank()

	cols := []string{"Fold", "Train", "Val", "IS Calmar", "OOS Calmar", "OOS CAGR",
		"OOS MaxDD", "OOS Sharpe", "Best Params"}
	cells := make([][]string, 0, len(blk.WF.Folds))
	for _, fo := range blk.WF.Folds {
		cells = append(cells, []string{
			fmt.Sprint(fo.Index),
			fmt.Sprintf("%s→%s", utils.FormatDate(fo.Fold.TrainStart), utils.FormatDate(fo.Fold.TrainEnd)),
			fmt.Sprintf("%s→%s", utils.FormatDate(fo.Fold.ValStart), utils.FormatDate(fo.Fold.ValEnd)),
			f2(fo.TrainScore),
			f2(fo.ValMetrics.Calmar),
			pct(fo.ValMetrics.CAGR),
			pct(fo.ValMetrics.MaxDrawdown),
			f2(fo.ValMetrics.Sharpe),
			paramsLabel(fo.BestParams, 60),
		})
	}
	b.table(cols, cells)
	b.blank()

	avg := blk.WF.AvgValMetrics
	b.line("**%s averages**: OOS Calmar=%s, OOS CAGR=%s, OOS MaxDD=%s, OOS Sharpe=%s, "+
		"OOS Exposure=%s%%, OOS Trades/Yr=%s",
		blk.Spec.Name, f2(avg.Calmar), pct(avg.CAGR), pct(avg.MaxDrawdown),
		f2(avg.Sharpe), f1(avg.ExposurePct), f1(avg.TradesPerYear))
	b.blank()
}

func writeClassicRankings(b *builder, d ClassicData) {
	b.line("## 6. Rankings")
	b.blank()

	type entry struct {
		name  string
		score float64
	}

	byOOS := make([]entry, 0, len(d.Strategies))
	for _, blk := range d.Strategies {
		byOOS = append(byOOS, entry{blk.Spec.Name, blk.WF.AvgValMetrics.Calmar})
	}
	sort.SliceStable(byOOS, func(i, j int) bool { return byOOS[i].score > byOOS[j].score })

	b.line("### By Average OOS Calmar (walk-forward validation)")
	b.blank()
	cells := make([][]string, 0, len(byOOS))
	for i, e := range byOOS {
		cells = append(cells, []string{fmt.Sprint(i + 1), e.name, f2(e.score)})
	}
	b.table([]string{"Rank", "Strategy", "Avg OOS Calmar"}, cells)
	b.blank()

	byHoldout := make([]entry, 0, len(d.Holdout))
	for _, nm := range d.Holdout {
		if nm.Name == BuyHoldName {
			continue
		}
		byHoldout = append(byHoldout, entry{nm.Name, nm.Metrics.Calmar})
	}
	sort.SliceStable(byHoldout, func(i, j int) bool { return byHoldout[i].score > byHoldout[j].score })

	b.line("### By Holdout Calmar (single OOS window)")
	b.blank()
	cells = cells[:0]
	for i, e := range byHoldout {
		cells = append(cells, []string{fmt.Sprint(i + 1), e.name, f2(e.score)})
	}
	b.table([]string{"Rank", "Strategy", "Holdout Calmar"}, cells)
	b.blank()
}

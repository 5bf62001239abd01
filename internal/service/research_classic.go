package service

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/model"
	"golang-backtest/internal/report"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
	"golang-backtest/internal/walkforward"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/telegram"
	"golang-backtest/pkg/utils"
)

// runClassic compares every requested strategy with plain walk-forward
// re-optimization: best train-Calmar per fold, consensus parameters across
// folds, then a holdout and full-period comparison of the consensus sets.
// Nothing is filtered by drawdown here.
func (s *researchService) runClassic(ctx context.Context, run *model.BacktestRun, st runSettings, prices *series.Series) error {
	holdoutSeries := prices.From(st.wfCfg.HoldoutStart)

	blocks := make([]report.ClassicStrategyBlock, 0, len(st.specs))
	results := make([]model.StrategyResult, 0, len(st.specs))
	var holdoutRows, fullRows []report.NamedMetrics

	for _, spec := range st.specs {
		if !utils.ShouldContinue(ctx, s.log) {
			return ctx.Err()
		}

		grid := spec.Grid()
		s.log.InfoContext(ctx, "Walk-forward optimizing",
			logger.StringField("strategy", spec.Name),
			logger.IntField("grid_size", len(grid)),
		)

		wf, err := walkforward.Optimize(ctx, prices, spec.Func, grid, st.wfCfg, st.btCfg, st.workers)
		if err != nil {
			return fmt.Errorf("optimize %s: %w", spec.Name, err)
		}

		block := report.ClassicStrategyBlock{Spec: spec, GridSize: len(grid), WF: wf}
		if len(wf.Consensus) > 0 {
			if res, err := walkforward.Holdout(prices, spec.Func, wf.Consensus, st.wfCfg.HoldoutStart, st.btCfg); err != nil {
				s.log.WarnContext(ctx, "Holdout run failed",
					logger.StringField("strategy", spec.Name), logger.ErrorField(err))
			} else {
				holdoutRows = append(holdoutRows, report.NamedMetrics{Name: spec.Name, Metrics: res.Metrics})
			}
			if res, err := walkforward.RunCandidate(prices, spec.Func, wf.Consensus, st.btCfg); err != nil {
				s.log.WarnContext(ctx, "Full-period run failed",
					logger.StringField("strategy", spec.Name), logger.ErrorField(err))
			} else {
				fullRows = append(fullRows, report.NamedMetrics{Name: spec.Name, Metrics: res.Metrics})
			}
			block.Sensitivity = s.consensusSensitivity(st, prices, spec, wf.Consensus)
		}
		blocks = append(blocks, block)

		row := model.StrategyResult{
			Strategy:  spec.Name,
			Evaluated: len(grid),
			Passing:   len(wf.Folds),
			Passed:    len(wf.Consensus) > 0,
		}
		if len(wf.Consensus) > 0 {
			row.BestParams = marshalParams(wf.Consensus)
			row.AvgMetrics = marshalMetrics(wf.AvgValMetrics)
		}
		results = append(results, row)
	}

	if bh, err := backtest.BuyAndHold(holdoutSeries, st.btCfg); err == nil {
		holdoutRows = append(holdoutRows, report.NamedMetrics{Name: report.BuyHoldName, Metrics: bh.Metrics})
	}
	if bh, err := backtest.BuyAndHold(prices, st.btCfg); err == nil {
		fullRows = append(fullRows, report.NamedMetrics{Name: report.BuyHoldName, Metrics: bh.Metrics})
	}

	data := report.ClassicData{
		GeneratedAt: utils.NowUTC(),
		Symbol:      prices.Symbol,
		SeriesStart: prices.FirstDate(),
		SeriesEnd:   prices.LastDate(),
		SeriesDays:  prices.Len(),
		Backtest:    st.btCfg,
		WFConfig:    st.wfCfg,
		Strategies:  blocks,
		Holdout:     holdoutRows,
		FullPeriod:  fullRows,
	}
	md := report.BuildClassic(data)
	s.writeReportFile(ctx, fmt.Sprintf("run_%d_walkforward.md", run.ID), md)
	run.Report = sql.NullString{String: md, Valid: true}

	winner, winnerCalmar := bestByAvgCalmar(blocks)
	if winner != nil {
		run.WinnerStrategy = sql.NullString{String: winner.Spec.Name, Valid: true}
		run.WinnerParams = marshalParams(winner.WF.Consensus)
		rankResults(results, blocks)
	}

	if err := s.completeRun(ctx, run, results); err != nil {
		return err
	}

	if s.notifier.Enabled() {
		summary := telegram.ClassicSummary{
			RunID:      run.ID,
			Symbol:     run.Symbol,
			Strategies: len(st.specs),
		}
		if run.StartedAt.Valid {
			summary.Duration = time.Since(run.StartedAt.Time)
		}
		if winner != nil {
			summary.Winner = winner.Spec.Name
			summary.AvgCalmar = winnerCalmar
			summary.AvgCAGR = winner.WF.AvgValMetrics.CAGR
			for _, nm := range holdoutRows {
				if nm.Name == winner.Spec.Name {
					summary.HoldoutCAGR = nm.Metrics.CAGR
					break
				}
			}
		}
		if err := s.notifier.Send(ctx, telegram.FormatClassicCompleted(summary)); err != nil {
			s.log.WarnContext(ctx, "Failed to send completion notification", logger.ErrorField(err))
		}
	}
	return nil
}

// consensusSensitivity perturbs each consensus parameter one grid step on
// pre-holdout data.
func (s *researchService) consensusSensitivity(st runSettings, prices *series.Series, spec strategy.Spec, params strategy.Params) []report.SensitivityBlock {
	preHoldout := prices.Between(prices.FirstDate(), st.wfCfg.HoldoutStart)

	names := make([]string, 0, len(params))
	for name := range params {
		if name == strategy.RiskScaleKey {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var blocks []report.SensitivityBlock
	for _, name := range names {
		values := walkforward.NeighborValues(spec.Axes[name], params[name])
		if len(values) == 0 {
			continue
		}
		rows := walkforward.Sensitivity(preHoldout, spec.Func, params, name, values, st.btCfg)
		if len(rows) == 0 {
			continue
		}
		blocks = append(blocks, report.SensitivityBlock{Param: name, Base: params[name], Rows: rows})
	}
	return blocks
}

func bestByAvgCalmar(blocks []report.ClassicStrategyBlock) (*report.ClassicStrategyBlock, float64) {
	var best *report.ClassicStrategyBlock
	bestCalmar := math.Inf(-1)
	for i := range blocks {
		b := &blocks[i]
		if len(b.WF.Consensus) == 0 {
			continue
		}
		if c := b.WF.AvgValMetrics.Calmar; c > bestCalmar {
			best, bestCalmar = b, c
		}
	}
	return best, bestCalmar
}

// rankResults orders the persisted rows by average out-of-sample Calmar,
// matching the report's ranking table.
func rankResults(results []model.StrategyResult, blocks []report.ClassicStrategyBlock) {
	calmarOf := make(map[string]float64, len(blocks))
	for _, b := range blocks {
		if len(b.WF.Consensus) > 0 {
			calmarOf[b.Spec.Name] = b.WF.AvgValMetrics.Calmar
		}
	}

	type entry struct {
		name   string
		calmar float64
	}
	ranked := make([]entry, 0, len(calmarOf))
	for name, c := range calmarOf {
		ranked = append(ranked, entry{name, c})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].calmar > ranked[j].calmar })

	rankOf := make(map[string]int, len(ranked))
	for i, e := range ranked {
		rankOf[e.name] = i + 1
	}
	for i := range results {
		if rank, ok := rankOf[results[i].Strategy]; ok {
			results[i].Rank = sql.NullInt32{Int32: int32(rank), Valid: true}
		}
	}
}

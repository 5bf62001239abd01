package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/model"
	"golang-backtest/internal/report"
	"golang-backtest/internal/repository"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
	"golang-backtest/internal/walkforward"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/telegram"
	"golang-backtest/pkg/utils"
)

// minHoldoutBars only triggers a warning; a short holdout still runs, it is
// just weak evidence.
const minHoldoutBars = 50

func (s *researchService) runDDCap(ctx context.Context, run *model.BacktestRun, st runSettings, prices *series.Series) error {
	folds := walkforward.BuildFolds(prices.FirstDate(), st.wfCfg)
	if len(folds) == 0 {
		s.log.WarnContext(ctx, "No walk-forward folds fit before the holdout",
			logger.StringField("first_bar", utils.FormatDate(prices.FirstDate())),
		)
	}

	sel, err := walkforward.Select(ctx, prices, folds, st.specs, st.riskScales, st.btCfg, st.cons, st.workers)
	if err != nil {
		return fmt.Errorf("selection failed: %w", err)
	}

	data := s.buildDDCapData(ctx, st, prices, sel)

	if sel.Winner != nil {
		data.Explanation = s.explainWinner(ctx, st, sel, data.WinnerHoldout)
	}

	md := report.BuildDDCap(data)
	s.writeReportFile(ctx, fmt.Sprintf("run_%d_ddcap.md", run.ID), md)
	if tldr := report.TLDR(data); tldr != "" {
		s.writeReportFile(ctx, fmt.Sprintf("run_%d_tldr.md", run.ID), tldr)
	}

	run.Report = sql.NullString{String: md, Valid: true}
	if w := sel.Winner; w != nil {
		run.WinnerStrategy = sql.NullString{String: w.Strategy, Valid: true}
		run.WinnerParams = marshalParams(w.Best.Params)
		run.StitchedMaxDD = sql.NullFloat64{Float64: w.Best.Stitched.MaxDD, Valid: true}
		run.StitchedSeries = marshalStitched(w.Best.Stitched)
	}

	results := s.strategyResultRows(st, sel, data.Holdout)
	if err := s.completeRun(ctx, run, results); err != nil {
		return err
	}

	s.notifyDDCap(ctx, run, st, sel, data.WinnerHoldout)
	return nil
}

func (s *researchService) runSweep(ctx context.Context, run *model.BacktestRun, st runSettings, prices *series.Series) error {
	caps := append([]float64(nil), st.sweepCaps...)
	sort.Float64s(caps)

	names := make([]string, 0, len(st.specs))
	for _, spec := range st.specs {
		names = append(names, spec.Name)
	}

	rows := make([]report.SweepRow, 0, len(caps))
	winners := 0
	for _, ddCap := range caps {
		if !utils.ShouldContinue(ctx, s.log) {
			return ctx.Err()
		}

		cons := st.cons
		cons.DDCap = ddCap
		sel, err := walkforward.Select(ctx, prices, walkforward.BuildFolds(prices.FirstDate(), st.wfCfg),
			st.specs, st.riskScales, st.btCfg, cons, st.workers)
		if err != nil {
			return fmt.Errorf("selection at cap %.0f%% failed: %w", ddCap*100, err)
		}

		capSt := st
		capSt.cons = cons
		data := s.buildDDCapData(ctx, capSt, prices, sel)
		md := report.BuildDDCap(data)
		s.writeReportFile(ctx, fmt.Sprintf("run_%d_ddcap_%02.0f.md", run.ID, -ddCap*100), md)

		s.log.InfoContext(ctx, "Sweep cap evaluated",
			logger.IntField("run_id", int(run.ID)),
			logger.FloatField("dd_cap", ddCap),
			logger.IntField("candidates", len(sel.Outcomes)),
		)

		row := report.SweepRow{DDCap: ddCap, Notes: "No strategy passed"}
		if w := sel.Winner; w != nil {
			winners++
			ev := w.Best
			passed, valid := ev.DDPassStats(ddCap)
			passRate := 0.0
			if valid > 0 {
				passRate = float64(passed) / float64(valid)
			}
			row.Winner = w.Strategy
			row.RiskScale = riskScaleOf(ev.Params)
			row.StitchedMaxDD = ev.Stitched.MaxDD
			row.AvgOOSCAGR = ev.AvgMetrics.CAGR
			row.ExposurePct = ev.AvgMetrics.ExposurePct
			row.Notes = fmt.Sprintf("Pass rate %.0f%%", passRate*100)
			if hm := data.WinnerHoldout; hm != nil {
				row.HoldoutCAGR = hm.CAGR
				row.HoldoutMaxDD = hm.MaxDrawdown
			}
		}
		rows = append(rows, row)
	}

	summary := report.BuildSweepSummary(utils.NowUTC(), names, st.riskScales, rows)
	s.writeReportFile(ctx, fmt.Sprintf("run_%d_sweep_summary.md", run.ID), summary)

	run.Report = sql.NullString{String: summary, Valid: true}
	if err := s.completeRun(ctx, run, nil); err != nil {
		return err
	}

	if s.notifier.Enabled() {
		duration := time.Duration(0)
		if run.StartedAt.Valid {
			duration = time.Since(run.StartedAt.Time)
		}
		msg := telegram.FormatSweepCompleted(run.ID, run.Symbol, len(caps), winners, duration)
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.log.WarnContext(ctx, "Failed to send sweep notification", logger.ErrorField(err))
		}
	}
	return nil
}

// buildDDCapData assembles everything the drawdown-capped report shows:
// holdout and full-period comparisons for the passing strategies, plus the
// winner's sensitivity and subperiod breakdowns.
func (s *researchService) buildDDCapData(ctx context.Context, st runSettings, prices *series.Series, sel *walkforward.Selection) report.DDCapData {
	data := report.DDCapData{
		GeneratedAt: utils.NowUTC(),
		Symbol:      prices.Symbol,
		SeriesStart: prices.FirstDate(),
		SeriesEnd:   prices.LastDate(),
		SeriesDays:  prices.Len(),
		Backtest:    st.btCfg,
		WFConfig:    st.wfCfg,
		RiskScales:  st.riskScales,
		Specs:       st.specs,
		Selection:   sel,
		Snapshot:    marketSnapshot(prices),
	}
	if sel.Winner == nil {
		return data
	}

	fnFor := make(map[string]strategy.SignalFunc, len(st.specs))
	for _, spec := range st.specs {
		fnFor[spec.Name] = spec.Func
	}

	holdoutSeries := prices.From(st.wfCfg.HoldoutStart)
	if holdoutSeries.Len() < minHoldoutBars {
		s.log.WarnContext(ctx, "Holdout window is thin",
			logger.IntField("bars", holdoutSeries.Len()),
		)
	}

	for _, out := range sel.Outcomes {
		if out.Best == nil {
			continue
		}
		fn := fnFor[out.Strategy]

		res, err := walkforward.Holdout(prices, fn, out.Best.Params, st.wfCfg.HoldoutStart, st.btCfg)
		if err != nil {
			s.log.WarnContext(ctx, "Holdout run failed",
				logger.StringField("strategy", out.Strategy),
				logger.ErrorField(err),
			)
		} else {
			data.Holdout = append(data.Holdout, report.NamedMetrics{Name: out.Strategy, Metrics: res.Metrics})
		}

		full, err := walkforward.RunCandidate(prices, fn, out.Best.Params, st.btCfg)
		if err != nil {
			s.log.WarnContext(ctx, "Full-period run failed",
				logger.StringField("strategy", out.Strategy),
				logger.ErrorField(err),
			)
		} else {
			data.FullPeriod = append(data.FullPeriod, report.NamedMetrics{Name: out.Strategy, Metrics: full.Metrics})
		}
	}

	if bh, err := backtest.BuyAndHold(holdoutSeries, st.btCfg); err == nil {
		data.Holdout = append(data.Holdout, report.NamedMetrics{Name: report.BuyHoldName, Metrics: bh.Metrics})
	}
	if bh, err := backtest.BuyAndHold(prices, st.btCfg); err == nil {
		data.FullPeriod = append(data.FullPeriod, report.NamedMetrics{Name: report.BuyHoldName, Metrics: bh.Metrics})
	}

	winner := sel.Winner
	for i := range data.Holdout {
		if data.Holdout[i].Name == winner.Strategy {
			data.WinnerHoldout = &data.Holdout[i].Metrics
			break
		}
	}

	data.Sensitivity = s.winnerSensitivity(st, prices, winner)
	data.Subperiods = walkforward.Subperiods(prices, fnFor[winner.Strategy], winner.Best.Params,
		walkforward.DefaultSubperiods(), st.btCfg)
	return data
}

func (s *researchService) winnerSensitivity(st runSettings, prices *series.Series, winner *walkforward.StrategyOutcome) []report.SensitivityBlock {
	for _, sp := range st.specs {
		if sp.Name == winner.Strategy {
			return s.consensusSensitivity(st, prices, sp, winner.Best.Params)
		}
	}
	return nil
}

func (s *researchService) explainWinner(ctx context.Context, st runSettings, sel *walkforward.Selection, winnerHoldout *backtest.Metrics) string {
	winner := sel.Winner
	ev := winner.Best

	ec := dto.ExplainContext{
		Winner:        winner.Strategy,
		Params:        map[string]float64(ev.Params),
		AvgOOSCAGR:    ev.AvgMetrics.CAGR,
		AvgOOSSharpe:  ev.AvgMetrics.Sharpe,
		AvgOOSMaxDD:   ev.AvgMetrics.MaxDrawdown,
		StitchedMaxDD: ev.Stitched.MaxDD,
		DDCap:         sel.Constraints.DDCap,
		NumFolds:      len(sel.Folds),
	}
	if winnerHoldout != nil {
		ec.HoldoutCAGR = winnerHoldout.CAGR
		ec.HoldoutMaxDD = winnerHoldout.MaxDrawdown
		ec.HoldoutSharpe = winnerHoldout.Sharpe
	}

	text, err := s.repo.ExplainRepo.Explain(ctx, ec, repository.ExplainModeConcise)
	if err != nil {
		// The explanation is garnish; the report stands without it.
		s.log.WarnContext(ctx, "Explanation failed", logger.ErrorField(err))
		return ""
	}
	return text
}

func (s *researchService) strategyResultRows(st runSettings, sel *walkforward.Selection, holdout []report.NamedMetrics) []model.StrategyResult {
	rankOf := make(map[string]int, len(sel.Ranked))
	for i, out := range sel.Ranked {
		rankOf[out.Strategy] = i + 1
	}
	holdoutFor := make(map[string][]byte, len(holdout))
	for _, nm := range holdout {
		if nm.Name != report.BuyHoldName {
			holdoutFor[nm.Name] = marshalMetrics(nm.Metrics)
		}
	}

	rows := make([]model.StrategyResult, 0, len(sel.Outcomes))
	for _, out := range sel.Outcomes {
		row := model.StrategyResult{
			Strategy:  out.Strategy,
			Evaluated: out.Evaluated,
			Passing:   len(out.Passing),
			Errors:    out.Errors,
			Passed:    out.Best != nil,
		}
		if ev := out.Best; ev != nil {
			row.BestParams = marshalParams(ev.Params)
			row.AvgMetrics = marshalMetrics(ev.AvgMetrics)
			row.HoldoutMetrics = holdoutFor[out.Strategy]
			row.StitchedMaxDD = sql.NullFloat64{Float64: ev.Stitched.MaxDD, Valid: true}
			if passed, valid := ev.DDPassStats(st.cons.DDCap); valid > 0 {
				row.PassRate = sql.NullFloat64{Float64: float64(passed) / float64(valid), Valid: true}
			}
			if rank, ok := rankOf[out.Strategy]; ok {
				row.Rank = sql.NullInt32{Int32: int32(rank), Valid: true}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *researchService) notifyDDCap(ctx context.Context, run *model.BacktestRun, st runSettings, sel *walkforward.Selection, winnerHoldout *backtest.Metrics) {
	if !s.notifier.Enabled() {
		return
	}

	summary := telegram.RunSummary{
		RunID:  run.ID,
		Mode:   string(run.Mode),
		Symbol: run.Symbol,
		DDCap:  st.cons.DDCap,
	}
	if run.StartedAt.Valid {
		summary.Duration = time.Since(run.StartedAt.Time)
	}
	if w := sel.Winner; w != nil {
		ev := w.Best
		summary.Winner = w.Strategy
		summary.RiskScale = riskScaleOf(ev.Params)
		summary.AvgCAGR = ev.AvgMetrics.CAGR
		summary.StitchedMaxDD = ev.Stitched.MaxDD
		summary.PassedFolds, summary.ValidFolds = ev.DDPassStats(st.cons.DDCap)
		if winnerHoldout != nil {
			summary.HoldoutMaxDD = winnerHoldout.MaxDrawdown
		}
	}

	if err := s.notifier.Send(ctx, telegram.FormatRunCompleted(summary)); err != nil {
		s.log.WarnContext(ctx, "Failed to send completion notification", logger.ErrorField(err))
	}
}

func riskScaleOf(p strategy.Params) float64 {
	if rs, ok := p[strategy.RiskScaleKey]; ok {
		return rs
	}
	return 1.0
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang-backtest/config"
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

var defaultRiskScales = []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0}

var defaultSweepCaps = []float64{-0.25, -0.20, -0.15, -0.10}

type ResearchService interface {
	// TriggerRun inserts a pending run and executes it in the background.
	TriggerRun(ctx context.Context, req dto.ResearchRequest) (*model.BacktestRun, error)
	CreateRun(ctx context.Context, req dto.ResearchRequest) (*model.BacktestRun, error)
	// ExecuteRun drives the whole pipeline for an already-created run and
	// moves it to COMPLETED or FAILED.
	ExecuteRun(ctx context.Context, runID uint) error
	GetRuns(ctx context.Context, param model.GetBacktestRunParam) ([]model.BacktestRun, error)
	GetRun(ctx context.Context, id uint) (*model.BacktestRun, error)
}

type researchService struct {
	cfg      *config.Config
	log      *logger.Logger
	repo     *repository.Repository
	notifier *telegram.Notifier
}

func NewResearchService(cfg *config.Config, log *logger.Logger, repo *repository.Repository, notifier *telegram.Notifier) *researchService {
	return &researchService{
		cfg:      cfg,
		log:      log,
		repo:     repo,
		notifier: notifier,
	}
}

// runSettings is the request merged with configured defaults, parsed into
// engine inputs.
type runSettings struct {
	mode       model.RunMode
	symbol     string
	start      time.Time
	btCfg      backtest.Config
	wfCfg      walkforward.Config
	cons       walkforward.Constraints
	riskScales []float64
	specs      []strategy.Spec
	sweepCaps  []float64
	workers    int
}

func (s *researchService) TriggerRun(ctx context.Context, req dto.ResearchRequest) (*model.BacktestRun, error) {
	run, err := s.CreateRun(ctx, req)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.Scheduler.RunTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	utils.GoSafe(func() {
		// The request context dies with the HTTP response; the run gets its
		// own deadline.
		runCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.ExecuteRun(runCtx, run.ID); err != nil {
			s.log.Error("Background run failed",
				logger.IntField("run_id", int(run.ID)),
				logger.ErrorField(err),
			)
		}
	})
	return run, nil
}

func (s *researchService) CreateRun(ctx context.Context, req dto.ResearchRequest) (*model.BacktestRun, error) {
	st, err := s.resolveSettings(req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}
	run := &model.BacktestRun{
		Mode:          st.mode,
		Symbol:        st.symbol,
		Status:        model.RunStatusPending,
		RequestParams: payload,
	}
	if err := s.repo.RunRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (s *researchService) ExecuteRun(ctx context.Context, runID uint) error {
	run, err := s.repo.RunRepo.FindByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	if run == nil {
		return fmt.Errorf("run %d not found", runID)
	}

	var req dto.ResearchRequest
	if len(run.RequestParams) > 0 {
		if err := json.Unmarshal(run.RequestParams, &req); err != nil {
			return s.failRun(ctx, run, fmt.Errorf("malformed run request: %w", err))
		}
	}
	st, err := s.resolveSettings(req)
	if err != nil {
		return s.failRun(ctx, run, err)
	}

	startedAt := time.Now()
	run.Status = model.RunStatusRunning
	run.StartedAt = sql.NullTime{Time: startedAt, Valid: true}
	if err := s.repo.RunRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}

	s.log.InfoContext(ctx, "Run started",
		logger.IntField("run_id", int(run.ID)),
		logger.StringField("mode", string(st.mode)),
		logger.StringField("symbol", st.symbol),
	)

	prices, err := s.repo.PriceRepo.GetDaily(ctx, dto.GetPriceParam{
		Symbol: st.symbol,
		Start:  st.start,
	})
	if err != nil {
		return s.failRun(ctx, run, fmt.Errorf("failed to load prices: %w", err))
	}
	prices = prices.From(st.start)
	if prices.Len() == 0 {
		return s.failRun(ctx, run, fmt.Errorf("no price bars for %s from %s", st.symbol, utils.FormatDate(st.start)))
	}

	switch st.mode {
	case model.RunModeDDCap:
		err = s.runDDCap(ctx, run, st, prices)
	case model.RunModeWalkForward:
		err = s.runClassic(ctx, run, st, prices)
	case model.RunModeSweep:
		err = s.runSweep(ctx, run, st, prices)
	default:
		err = fmt.Errorf("unknown run mode: %s", st.mode)
	}
	if err != nil {
		return s.failRun(ctx, run, err)
	}

	s.log.InfoContext(ctx, "Run completed",
		logger.IntField("run_id", int(run.ID)),
		logger.DurationField("duration", time.Since(startedAt)),
	)
	return nil
}

func (s *researchService) GetRuns(ctx context.Context, param model.GetBacktestRunParam) ([]model.BacktestRun, error) {
	return s.repo.RunRepo.Get(ctx, &param)
}

func (s *researchService) GetRun(ctx context.Context, id uint) (*model.BacktestRun, error) {
	return s.repo.RunRepo.FindByID(ctx, id, utils.WithPreload("StrategyResults"))
}

func (s *researchService) resolveSettings(req dto.ResearchRequest) (runSettings, error) {
	st := runSettings{
		mode:   model.RunModeDDCap,
		symbol: s.cfg.MarketData.Symbol,
		btCfg: backtest.Config{
			CommissionBps:  s.cfg.Backtest.CommissionBps,
			SlippageBps:    s.cfg.Backtest.SlippageBps,
			InitialCapital: s.cfg.Backtest.InitialCapital,
			RiskFreeRate:   s.cfg.Backtest.RiskFreeRate,
		},
		cons: walkforward.Constraints{
			DDCap:          s.cfg.Optimizer.DDCap,
			FoldPassRate:   s.cfg.Optimizer.FoldPassRate,
			MinExposurePct: s.cfg.Optimizer.MinExposurePct,
		},
		riskScales: s.cfg.Optimizer.RiskScales,
		sweepCaps:  s.cfg.Optimizer.SweepCaps,
		workers:    s.cfg.Optimizer.MaxConcurrency,
	}

	if req.Mode != "" {
		st.mode = model.RunMode(req.Mode)
	}
	if req.Symbol != "" {
		st.symbol = req.Symbol
	}

	startStr := s.cfg.MarketData.StartDate
	if req.StartDate != "" {
		startStr = req.StartDate
	}
	start, err := utils.ParseDate(startStr)
	if err != nil {
		return st, fmt.Errorf("start date: %w", err)
	}
	st.start = start

	holdoutStr := s.cfg.WalkForward.HoldoutStart
	if req.HoldoutStart != "" {
		holdoutStr = req.HoldoutStart
	}
	holdout, err := utils.ParseDate(holdoutStr)
	if err != nil {
		return st, fmt.Errorf("holdout start: %w", err)
	}
	st.wfCfg = walkforward.Config{
		TrainYears:   pick(req.TrainYears, s.cfg.WalkForward.TrainYears),
		ValYears:     pick(req.ValYears, s.cfg.WalkForward.ValYears),
		StepYears:    pick(req.StepYears, s.cfg.WalkForward.StepYears),
		HoldoutStart: holdout,
		Objective:    s.cfg.Optimizer.Objective,
	}

	if req.DDCap != 0 {
		st.cons.DDCap = req.DDCap
	}
	if req.FoldPassRate != 0 {
		st.cons.FoldPassRate = req.FoldPassRate
	}
	if req.MinExposure != 0 {
		st.cons.MinExposurePct = req.MinExposure
	}
	if len(req.RiskScales) > 0 {
		st.riskScales = req.RiskScales
	}
	if len(st.riskScales) == 0 {
		st.riskScales = defaultRiskScales
	}
	if len(req.SweepCaps) > 0 {
		st.sweepCaps = req.SweepCaps
	}
	if len(st.sweepCaps) == 0 {
		st.sweepCaps = defaultSweepCaps
	}

	names := req.Strategies
	if len(names) == 0 {
		names = s.cfg.Optimizer.Strategies
	}
	if len(names) == 0 {
		if st.mode == model.RunModeWalkForward {
			names = strategy.Names()
		} else {
			names = strategy.DDCapNames()
		}
	}
	for _, name := range names {
		spec, err := strategy.Get(name)
		if err != nil {
			return st, err
		}
		st.specs = append(st.specs, spec)
	}

	return st, nil
}

// pick returns the override when set, the fallback otherwise.
func pick(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

func (s *researchService) failRun(ctx context.Context, run *model.BacktestRun, cause error) error {
	s.log.ErrorContext(ctx, "Run failed",
		logger.IntField("run_id", int(run.ID)),
		logger.ErrorField(cause),
	)

	run.Status = model.RunStatusFailed
	run.ErrorMessage = sql.NullString{String: cause.Error(), Valid: true}
	run.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	if err := s.repo.RunRepo.Update(ctx, run); err != nil {
		s.log.ErrorContext(ctx, "Failed to persist run failure", logger.ErrorField(err))
	}

	if s.notifier.Enabled() {
		msg := telegram.FormatRunFailed(run.ID, string(run.Mode), run.Symbol, cause.Error(), time.Now())
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.log.WarnContext(ctx, "Failed to send failure notification", logger.ErrorField(err))
		}
	}
	return cause
}

// completeRun persists the outcome and the per-strategy rows in one
// transaction.
func (s *researchService) completeRun(ctx context.Context, run *model.BacktestRun, results []model.StrategyResult) error {
	run.Status = model.RunStatusCompleted
	run.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}

	return s.repo.UnitOfWork.Run(ctx, func(opts ...utils.DBOption) error {
		if err := s.repo.RunRepo.Update(ctx, run, opts...); err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		for i := range results {
			results[i].RunID = run.ID
		}
		if err := s.repo.RunRepo.CreateStrategyResults(ctx, results, opts...); err != nil {
			return fmt.Errorf("failed to save strategy results: %w", err)
		}
		return nil
	})
}

// writeReportFile drops the markdown next to the run artifacts. Failure costs
// only the file copy; the report is also stored on the run row.
func (s *researchService) writeReportFile(ctx context.Context, name, content string) {
	dir := s.cfg.Report.OutputDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.WarnContext(ctx, "Failed to create report dir", logger.ErrorField(err))
		return
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.log.WarnContext(ctx, "Failed to write report file", logger.ErrorField(err))
		return
	}
	s.log.InfoContext(ctx, "Report written", logger.StringField("path", path))
}

// marshalMetrics stores metrics as a jsonb blob; non-finite values degrade to
// zero inside Metrics.MarshalJSON.
func marshalMetrics(m backtest.Metrics) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func marshalParams(p strategy.Params) []byte {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

// marshalStitched stores the winner's out-of-sample curve on the run row so
// charts can be rendered without re-running the pipeline.
func marshalStitched(st walkforward.Stitched) []byte {
	payload := struct {
		Dates    []string  `json:"dates"`
		Equity   []float64 `json:"equity"`
		Drawdown []float64 `json:"drawdown"`
	}{
		Dates:    make([]string, len(st.Dates)),
		Equity:   st.Equity,
		Drawdown: st.Drawdown,
	}
	for i, d := range st.Dates {
		payload.Dates[i] = utils.FormatDate(d)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return b
}

// marketSnapshot summarizes the last bar for the report header.
func marketSnapshot(prices *series.Series) *report.MarketSnapshot {
	n := prices.Len()
	if n == 0 {
		return nil
	}
	closes := prices.Closes()
	last := n - 1

	snap := &report.MarketSnapshot{
		Date:  prices.LastDate(),
		Close: closes[last],
	}
	if ema200 := series.EMA(closes, 200); ema200[last] > 0 {
		snap.EMA200DistPct = (closes[last]/ema200[last] - 1) * 100
	}
	if rsi := series.RSI(closes, 14); !math.IsNaN(rsi[last]) {
		snap.RSI14 = rsi[last]
	}
	if vol := series.RealizedVol(closes, 20); !math.IsNaN(vol[last]) {
		snap.RealizedVol20 = vol[last]
	}
	return snap
}

package dto

import (
	"encoding/json"
	"time"

	"golang-backtest/internal/model"
)

// ResearchRequest is the POST body for triggering a run and the payload stored
// on a schedule. Every field is optional; zero values fall back to the
// configured defaults.
type ResearchRequest struct {
	Mode         string    `json:"mode" validate:"omitempty,oneof=ddcap walkforward sweep"`
	Symbol       string    `json:"symbol" validate:"omitempty,max=12"`
	StartDate    string    `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	HoldoutStart string    `json:"holdout_start" validate:"omitempty,datetime=2006-01-02"`
	TrainYears   int       `json:"train_years" validate:"omitempty,min=1,max=30"`
	ValYears     int       `json:"val_years" validate:"omitempty,min=1,max=10"`
	StepYears    int       `json:"step_years" validate:"omitempty,min=1,max=10"`
	DDCap        float64   `json:"dd_cap" validate:"omitempty,lt=0,gte=-1"`
	FoldPassRate float64   `json:"fold_pass_rate" validate:"omitempty,gt=0,lte=1"`
	MinExposure  float64   `json:"min_exposure_pct" validate:"omitempty,gte=0,lte=100"`
	RiskScales   []float64 `json:"risk_scales" validate:"omitempty,dive,gt=0,lte=1"`
	Strategies   []string  `json:"strategies" validate:"omitempty,dive,min=1"`
	SweepCaps    []float64 `json:"sweep_caps" validate:"omitempty,dive,lt=0,gte=-1"`
}

type CreateScheduleRequest struct {
	Name           string           `json:"name" validate:"required,max=255"`
	CronExpression string           `json:"cron_expression" validate:"required,max=100"`
	Mode           string           `json:"mode" validate:"required,oneof=ddcap walkforward sweep"`
	Timeout        int              `json:"timeout" validate:"omitempty,min=60,max=86400"`
	IsActive       *bool            `json:"is_active"`
	Request        *ResearchRequest `json:"request"`
}

type RunSummaryResponse struct {
	ID             uint       `json:"id"`
	Mode           string     `json:"mode"`
	Symbol         string     `json:"symbol"`
	Status         string     `json:"status"`
	WinnerStrategy *string    `json:"winner_strategy,omitempty"`
	StitchedMaxDD  *float64   `json:"stitched_max_dd,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type RunDetailResponse struct {
	RunSummaryResponse
	RequestParams   json.RawMessage          `json:"request_params,omitempty"`
	WinnerParams    json.RawMessage          `json:"winner_params,omitempty"`
	StitchedSeries  json.RawMessage          `json:"stitched_series,omitempty"`
	StrategyResults []StrategyResultResponse `json:"strategy_results,omitempty"`
}

type StrategyResultResponse struct {
	Strategy       string          `json:"strategy"`
	Evaluated      int             `json:"evaluated"`
	Passing        int             `json:"passing"`
	Errors         int             `json:"errors"`
	Passed         bool            `json:"passed"`
	Rank           *int            `json:"rank,omitempty"`
	BestParams     json.RawMessage `json:"best_params,omitempty"`
	AvgMetrics     json.RawMessage `json:"avg_metrics,omitempty"`
	HoldoutMetrics json.RawMessage `json:"holdout_metrics,omitempty"`
	StitchedMaxDD  *float64        `json:"stitched_max_dd,omitempty"`
	PassRate       *float64        `json:"pass_rate,omitempty"`
}

type ScheduleResponse struct {
	ID             uint            `json:"id"`
	Name           string          `json:"name"`
	CronExpression string          `json:"cron_expression"`
	Mode           string          `json:"mode"`
	Timeout        int             `json:"timeout"`
	IsActive       bool            `json:"is_active"`
	NextExecution  *time.Time      `json:"next_execution,omitempty"`
	LastExecution  *time.Time      `json:"last_execution,omitempty"`
	Request        json.RawMessage `json:"request,omitempty"`
}

func FromRunModel(run model.BacktestRun) RunSummaryResponse {
	resp := RunSummaryResponse{
		ID:        run.ID,
		Mode:      string(run.Mode),
		Symbol:    run.Symbol,
		Status:    string(run.Status),
		CreatedAt: run.CreatedAt,
	}
	if run.WinnerStrategy.Valid {
		resp.WinnerStrategy = &run.WinnerStrategy.String
	}
	if run.StitchedMaxDD.Valid {
		resp.StitchedMaxDD = &run.StitchedMaxDD.Float64
	}
	if run.ErrorMessage.Valid {
		resp.ErrorMessage = &run.ErrorMessage.String
	}
	if run.StartedAt.Valid {
		resp.StartedAt = &run.StartedAt.Time
	}
	if run.CompletedAt.Valid {
		resp.CompletedAt = &run.CompletedAt.Time
	}
	return resp
}

func FromRunModelDetail(run model.BacktestRun) RunDetailResponse {
	detail := RunDetailResponse{
		RunSummaryResponse: FromRunModel(run),
		RequestParams:      json.RawMessage(run.RequestParams),
		WinnerParams:       json.RawMessage(run.WinnerParams),
		StitchedSeries:     json.RawMessage(run.StitchedSeries),
	}
	for _, sr := range run.StrategyResults {
		detail.StrategyResults = append(detail.StrategyResults, FromStrategyResultModel(sr))
	}
	return detail
}

func FromStrategyResultModel(sr model.StrategyResult) StrategyResultResponse {
	resp := StrategyResultResponse{
		Strategy:       sr.Strategy,
		Evaluated:      sr.Evaluated,
		Passing:        sr.Passing,
		Errors:         sr.Errors,
		Passed:         sr.Passed,
		BestParams:     json.RawMessage(sr.BestParams),
		AvgMetrics:     json.RawMessage(sr.AvgMetrics),
		HoldoutMetrics: json.RawMessage(sr.HoldoutMetrics),
	}
	if sr.Rank.Valid {
		rank := int(sr.Rank.Int32)
		resp.Rank = &rank
	}
	if sr.StitchedMaxDD.Valid {
		resp.StitchedMaxDD = &sr.StitchedMaxDD.Float64
	}
	if sr.PassRate.Valid {
		resp.PassRate = &sr.PassRate.Float64
	}
	return resp
}

func FromScheduleModel(sch model.ResearchSchedule) ScheduleResponse {
	resp := ScheduleResponse{
		ID:             sch.ID,
		Name:           sch.Name,
		CronExpression: sch.CronExpression,
		Mode:           string(sch.Mode),
		Timeout:        sch.Timeout,
		IsActive:       sch.IsActive,
		Request:        json.RawMessage(sch.Payload),
	}
	if sch.NextExecution.Valid {
		resp.NextExecution = &sch.NextExecution.Time
	}
	if sch.LastExecution.Valid {
		resp.LastExecution = &sch.LastExecution.Time
	}
	return resp
}

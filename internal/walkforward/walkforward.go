// Package walkforward slices history into rolling train/validation folds
// and evaluates strategy parameter grids across them, either re-optimizing
// per fold or holding one candidate fixed for drawdown-capped selection.
// Everything here is a pure computation over an immutable price series;
// loading data and persisting results belong to the callers.
package walkforward

import (
	"math"
	"runtime"
	"time"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
)

// Config describes the fold layout. The holdout boundary reserves the tail
// of the history: no fold's validation window may reach it. Objective names
// the in-sample metric the per-fold grid search maximizes; empty means
// calmar.
type Config struct {
	TrainYears   int
	ValYears     int
	StepYears    int
	HoldoutStart time.Time
	Objective    string
}

// Fold is one train/validation window pair. Ranges are half-open
// [start, end), so validation windows of successive folds never share a
// bar even though ValStart equals the previous TrainEnd.
type Fold struct {
	TrainStart time.Time
	TrainEnd   time.Time
	ValStart   time.Time
	ValEnd     time.Time
}

// BuildFolds lays rolling windows over [first, holdout): train for
// TrainYears, validate for ValYears, advance by StepYears, stop when the
// next validation window would cross the holdout boundary.
func BuildFolds(first time.Time, cfg Config) []Fold {
	if cfg.StepYears < 1 {
		return nil
	}
	var folds []Fold
	start := first
	for {
		trainEnd := start.AddDate(cfg.TrainYears, 0, 0)
		valEnd := trainEnd.AddDate(cfg.ValYears, 0, 0)
		if valEnd.After(cfg.HoldoutStart) {
			break
		}
		folds = append(folds, Fold{
			TrainStart: start,
			TrainEnd:   trainEnd,
			ValStart:   trainEnd,
			ValEnd:     valEnd,
		})
		start = start.AddDate(cfg.StepYears, 0, 0)
	}
	return folds
}

// FallbackFold splits the pre-holdout range 75/25 when the history is too
// short for even one rolling fold.
func FallbackFold(first time.Time, cfg Config) Fold {
	span := cfg.HoldoutStart.Sub(first)
	mid := first.Add(time.Duration(float64(span) * 0.75))
	return Fold{
		TrainStart: first,
		TrainEnd:   mid,
		ValStart:   mid,
		ValEnd:     cfg.HoldoutStart,
	}
}

// RunCandidate executes one parameter set on a price slice. A risk_scale
// entry is stripped before the signal call and applied to the raw weights
// afterwards; the simulator clamps the scaled weights back into [0, 1].
func RunCandidate(s *series.Series, fn strategy.SignalFunc, params strategy.Params, cfg backtest.Config) (*backtest.Result, error) {
	riskScale := 1.0
	if rs, ok := params[strategy.RiskScaleKey]; ok {
		riskScale = rs
	}
	weights, err := fn(s, params.Without(strategy.RiskScaleKey))
	if err != nil {
		return nil, err
	}
	if riskScale != 1.0 {
		for i := range weights {
			weights[i] *= riskScale
		}
	}
	return backtest.Run(s, weights, cfg)
}

// ExpandGrid crosses a base grid with risk-scale multipliers. The base
// order is the outer loop, so candidates keep a stable position for
// tie-breaking.
func ExpandGrid(base []strategy.Params, riskScales []float64) []strategy.Params {
	if len(riskScales) == 0 {
		riskScales = []float64{1.0}
	}
	expanded := make([]strategy.Params, 0, len(base)*len(riskScales))
	for _, p := range base {
		for _, rs := range riskScales {
			ep := p.Clone()
			ep[strategy.RiskScaleKey] = rs
			expanded = append(expanded, ep)
		}
	}
	return expanded
}

// averageMetrics means each field over the folds, dropping NaN and Inf
// entries per field. A field with no finite values averages to zero.
func averageMetrics(ms []backtest.Metrics) backtest.Metrics {
	if len(ms) == 0 {
		return backtest.Metrics{}
	}
	avg := func(get func(backtest.Metrics) float64) float64 {
		sum, n := 0.0, 0
		for _, m := range ms {
			v := get(m)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	}
	out := backtest.Metrics{
		CAGR:          avg(func(m backtest.Metrics) float64 { return m.CAGR }),
		Volatility:    avg(func(m backtest.Metrics) float64 { return m.Volatility }),
		Sharpe:        avg(func(m backtest.Metrics) float64 { return m.Sharpe }),
		Sortino:       avg(func(m backtest.Metrics) float64 { return m.Sortino }),
		MaxDrawdown:   avg(func(m backtest.Metrics) float64 { return m.MaxDrawdown }),
		Calmar:        avg(func(m backtest.Metrics) float64 { return m.Calmar }),
		WinRate:       avg(func(m backtest.Metrics) float64 { return m.WinRate }),
		ProfitFactor:  avg(func(m backtest.Metrics) float64 { return m.ProfitFactor }),
		ExposurePct:   avg(func(m backtest.Metrics) float64 { return m.ExposurePct }),
		AvgTradeBars:  avg(func(m backtest.Metrics) float64 { return m.AvgTradeBars }),
		TradesPerYear: avg(func(m backtest.Metrics) float64 { return m.TradesPerYear }),
		TotalReturn:   avg(func(m backtest.Metrics) float64 { return m.TotalReturn }),
		NumYears:      avg(func(m backtest.Metrics) float64 { return m.NumYears }),
	}
	out.NumTrades = int(math.Round(avg(func(m backtest.Metrics) float64 { return float64(m.NumTrades) })))
	return out
}

func normalizeWorkers(workers int) int {
	if workers < 1 {
		return runtime.NumCPU()
	}
	return workers
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

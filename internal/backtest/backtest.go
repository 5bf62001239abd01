// Package backtest turns a target-weight signal into daily portfolio
// returns, equity, drawdown and a trade log. Signals are acted on with a
// one-bar delay: the weight computed on bar t-1 earns the close-to-close
// return of bar t, and changing the position pays transaction costs on
// the turnover.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"golang-backtest/internal/series"
)

var ErrSignalLength = errors.New("signal length does not match series length")

// positionEps separates "flat" from "holding" when slicing the position
// stream into trades. Fractional strategies can emit tiny weights.
const positionEps = 1e-8

const tradingDaysPerYear = 252.0

// Config carries the cost and capital assumptions of a simulation.
type Config struct {
	CommissionBps  float64
	SlippageBps    float64
	InitialCapital float64
	RiskFreeRate   float64
}

// DefaultConfig returns the standing assumptions: 1bp commission, 2bp
// slippage per side, 100k starting capital, zero risk-free rate.
func DefaultConfig() Config {
	return Config{
		CommissionBps:  1.0,
		SlippageBps:    2.0,
		InitialCapital: 100_000,
		RiskFreeRate:   0.0,
	}
}

// Trade is one contiguous holding period. Return is the sum of the daily
// portfolio returns over the period, net of costs.
type Trade struct {
	EntryDate time.Time `json:"entry_date"`
	ExitDate  time.Time `json:"exit_date"`
	Return    float64   `json:"return"`
	BarsHeld  int       `json:"bars_held"`
}

// Result is a full simulation: per-bar series aligned with the input
// bars, the trade log and the summary metrics.
type Result struct {
	Dates        []time.Time
	Positions    []float64
	DailyReturns []float64
	Equity       []float64
	Drawdown     []float64
	Trades       []Trade
	Metrics      Metrics
}

// Run simulates holding the given target weights over the series. Weights
// are clamped to [0, 1] before the one-bar shift, so the first bar is
// always flat.
func Run(s *series.Series, weights []float64, cfg Config) (*Result, error) {
	if s == nil || s.Len() == 0 {
		return nil, series.ErrEmptySeries
	}
	n := s.Len()
	if len(weights) != n {
		return nil, fmt.Errorf("%w: %d signals for %d bars", ErrSignalLength, len(weights), n)
	}

	closeRets := s.CloseReturns()
	oneWayCost := (cfg.CommissionBps + cfg.SlippageBps) / 10_000.0

	positions := make([]float64, n)
	for i := 1; i < n; i++ {
		positions[i] = clamp01(weights[i-1])
	}

	dailyRets := make([]float64, n)
	for i := 0; i < n; i++ {
		turnover := positions[i]
		if i > 0 {
			turnover = math.Abs(positions[i] - positions[i-1])
		}
		dailyRets[i] = positions[i]*closeRets[i] - turnover*oneWayCost
	}

	equity := make([]float64, n)
	drawdown := make([]float64, n)
	acc := cfg.InitialCapital
	peak := math.Inf(-1)
	for i := 0; i < n; i++ {
		acc *= 1 + dailyRets[i]
		equity[i] = acc
		if acc > peak {
			peak = acc
		}
		drawdown[i] = acc/peak - 1
	}

	dates := make([]time.Time, n)
	for i, b := range s.Bars {
		dates[i] = b.Date
	}

	trades := extractTrades(s, positions, dailyRets)

	res := &Result{
		Dates:        dates,
		Positions:    positions,
		DailyReturns: dailyRets,
		Equity:       equity,
		Drawdown:     drawdown,
		Trades:       trades,
	}
	res.Metrics = computeMetrics(s, res, cfg)
	return res, nil
}

// BuyAndHold simulates a constant full allocation, the benchmark every
// strategy is judged against. It pays the entry cost on the first shifted
// bar like any other signal.
func BuyAndHold(s *series.Series, cfg Config) (*Result, error) {
	if s == nil || s.Len() == 0 {
		return nil, series.ErrEmptySeries
	}
	weights := make([]float64, s.Len())
	for i := range weights {
		weights[i] = 1
	}
	return Run(s, weights, cfg)
}

func extractTrades(s *series.Series, positions, dailyRets []float64) []Trade {
	var trades []Trade
	entry := -1
	for i := range positions {
		held := positions[i] > positionEps
		switch {
		case held && entry < 0:
			entry = i
		case !held && entry >= 0:
			trades = append(trades, closeTrade(s, dailyRets, entry, i-1))
			entry = -1
		}
	}
	// A position still open on the last bar closes there.
	if entry >= 0 {
		trades = append(trades, closeTrade(s, dailyRets, entry, len(positions)-1))
	}
	return trades
}

func closeTrade(s *series.Series, dailyRets []float64, entry, exit int) Trade {
	ret := 0.0
	for i := entry; i <= exit; i++ {
		ret += dailyRets[i]
	}
	return Trade{
		EntryDate: s.Bars[entry].Date,
		ExitDate:  s.Bars[exit].Date,
		Return:    ret,
		BarsHeld:  exit - entry + 1,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

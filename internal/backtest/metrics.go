package backtest

import (
	"encoding/json"
	"math"

	"golang-backtest/internal/series"
	"golang-backtest/pkg/utils"
)

// Metrics summarizes one simulation. Ratios are annualized on 252 trading
// days; CAGR and TradesPerYear use calendar years so that sparse data does
// not inflate growth rates.
type Metrics struct {
	CAGR          float64 `json:"cagr"`
	Volatility    float64 `json:"volatility"`
	Sharpe        float64 `json:"sharpe"`
	Sortino       float64 `json:"sortino"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	Calmar        float64 `json:"calmar"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	ExposurePct   float64 `json:"exposure_pct"`
	AvgTradeBars  float64 `json:"avg_trade_bars"`
	TradesPerYear float64 `json:"trades_per_year"`
	TotalReturn   float64 `json:"total_return"`
	NumTrades     int     `json:"num_trades"`
	NumYears      float64 `json:"num_years"`
}

// MarshalJSON degrades non-finite values to zero. Postgres jsonb rejects
// NaN and Inf, and zero is how the fold averaging already treats them.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	a := alias(m)
	for _, f := range []*float64{
		&a.CAGR, &a.Volatility, &a.Sharpe, &a.Sortino, &a.MaxDrawdown,
		&a.Calmar, &a.WinRate, &a.ProfitFactor, &a.ExposurePct,
		&a.AvgTradeBars, &a.TradesPerYear, &a.TotalReturn, &a.NumYears,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return json.Marshal(a)
}

func computeMetrics(s *series.Series, res *Result, cfg Config) Metrics {
	n := len(res.DailyReturns)
	m := Metrics{NumTrades: len(res.Trades)}

	years := utils.YearsBetween(s.FirstDate(), s.LastDate())
	m.NumYears = years

	final := res.Equity[n-1]
	m.TotalReturn = final/cfg.InitialCapital - 1
	if years > 0 {
		m.CAGR = math.Pow(final/cfg.InitialCapital, 1/years) - 1
	}

	m.Volatility = sampleStd(res.DailyReturns) * math.Sqrt(tradingDaysPerYear)

	excess := make([]float64, n)
	for i, r := range res.DailyReturns {
		excess[i] = r - cfg.RiskFreeRate/tradingDaysPerYear
	}
	if sd := sampleStd(excess); sd > 0 {
		m.Sharpe = mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
	}

	var downside []float64
	for _, r := range res.DailyReturns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) >= 2 {
		if sd := sampleStd(downside); sd > 0 {
			m.Sortino = (mean(res.DailyReturns)*tradingDaysPerYear - cfg.RiskFreeRate) / (sd * math.Sqrt(tradingDaysPerYear))
		}
	}

	maxDD := 0.0
	for _, dd := range res.Drawdown {
		if dd < maxDD {
			maxDD = dd
		}
	}
	m.MaxDrawdown = maxDD

	switch {
	case math.Abs(maxDD) > 1e-10:
		m.Calmar = m.CAGR / math.Abs(maxDD)
	case m.CAGR > 0:
		m.Calmar = math.Inf(1)
	}

	if len(res.Trades) > 0 {
		wins := 0
		grossProfit, grossLoss := 0.0, 0.0
		totalBars := 0
		for _, t := range res.Trades {
			if t.Return > 0 {
				wins++
				grossProfit += t.Return
			} else {
				grossLoss += -t.Return
			}
			totalBars += t.BarsHeld
		}
		m.WinRate = float64(wins) / float64(len(res.Trades))
		switch {
		case grossLoss > 0:
			m.ProfitFactor = grossProfit / grossLoss
		case grossProfit > 0:
			m.ProfitFactor = math.Inf(1)
		}
		m.AvgTradeBars = float64(totalBars) / float64(len(res.Trades))
	}

	m.ExposurePct = mean(res.Positions) * 100
	if years > 0 {
		m.TradesPerYear = float64(len(res.Trades)) / years
	}
	return m
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

// sampleStd is the ddof=1 standard deviation, zero when undefined.
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

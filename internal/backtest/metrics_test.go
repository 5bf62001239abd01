package backtest

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/series"
)

func TestMetrics_CAGRUsesCalendarYears(t *testing.T) {
	// Two bars exactly two years apart, price doubling between them: the
	// sparse series must not inflate the growth rate.
	first := day(2020, 1, 1)
	bars := []series.Bar{
		{Date: first, Close: 100, High: 101, Low: 99},
		{Date: first.Add(time.Duration(730.5 * 24 * float64(time.Hour))), Close: 200, High: 202, Low: 198},
	}
	s := series.New("TEST", bars)

	res, err := Run(s, ones(2), zeroCost())
	require.NoError(t, err)

	assert.InDelta(t, 2.0, res.Metrics.NumYears, 1e-9)
	assert.InDelta(t, math.Sqrt2-1, res.Metrics.CAGR, 1e-9)
	assert.InDelta(t, 1.0, res.Metrics.TotalReturn, 1e-12)
}

func TestMetrics_CalmarInfWithoutDrawdown(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	s := dailySeries(day(2020, 1, 1), closes...)

	res, err := Run(s, ones(20), zeroCost())
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Metrics.MaxDrawdown)
	assert.True(t, math.IsInf(res.Metrics.Calmar, 1), "positive growth with no drawdown")
	assert.True(t, math.IsInf(res.Metrics.ProfitFactor, 1), "profits with no losing trade")
	assert.Equal(t, 0.0, res.Metrics.Sortino, "fewer than two losing days leaves Sortino unset")
}

func TestMetrics_CalmarFinite(t *testing.T) {
	s := dailySeries(day(2020, 1, 1), 100, 100, 120, 90, 108)
	res, err := Run(s, ones(5), zeroCost())
	require.NoError(t, err)

	m := res.Metrics
	require.InDelta(t, -0.25, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, m.CAGR/0.25, m.Calmar, 1e-9)
}

func TestMetrics_WinRateAndProfitFactor(t *testing.T) {
	s := dailySeries(day(2020, 1, 1), 100, 110, 110, 100, 100)

	// One winning round trip (+10%) and one losing one (-9.09%).
	res, err := Run(s, []float64{1, 0, 1, 0, 0}, zeroCost())
	require.NoError(t, err)

	m := res.Metrics
	require.Equal(t, 2, m.NumTrades)
	assert.InDelta(t, 0.5, m.WinRate, 1e-12)
	assert.InDelta(t, 0.10/(1-100.0/110.0), m.ProfitFactor, 1e-9)
	assert.InDelta(t, 1.0, m.AvgTradeBars, 1e-12)
	assert.Greater(t, m.Volatility, 0.0)
	assert.Greater(t, m.TradesPerYear, 0.0)
}

func TestMetrics_MarshalDegradesNonFinite(t *testing.T) {
	m := Metrics{
		CAGR:         math.NaN(),
		Sharpe:       math.Inf(1),
		Calmar:       math.Inf(-1),
		ProfitFactor: math.Inf(1),
		MaxDrawdown:  -0.2,
		NumTrades:    3,
	}

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, 0.0, got["cagr"])
	assert.Equal(t, 0.0, got["sharpe"])
	assert.Equal(t, 0.0, got["calmar"])
	assert.Equal(t, 0.0, got["profit_factor"])
	assert.Equal(t, -0.2, got["max_drawdown"])
	assert.Equal(t, 3.0, got["num_trades"], "ints survive untouched")
}

package walkforward

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

// dailySeries emits one bar per calendar day; the engine never assumes a
// trading calendar, so weekends in test data are harmless.
func dailySeries(start time.Time, closes ...float64) *series.Series {
	bars := make([]series.Bar, len(closes))
	for i, c := range closes {
		bars[i] = series.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1000,
		}
	}
	return series.New("TEST", bars)
}

// waveSeries drifts upward with a sine overlay, so every one-year window
// grows while still carrying real drawdowns.
func waveSeries(start time.Time, n int) *series.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 * (1 + 0.0004*float64(i)) * (1 + 0.05*math.Sin(float64(i)/25))
	}
	return dailySeries(start, closes...)
}

func constWeight(w float64) strategy.SignalFunc {
	return func(s *series.Series, p strategy.Params) ([]float64, error) {
		weights := make([]float64, s.Len())
		for i := range weights {
			weights[i] = w
		}
		return weights, nil
	}
}

func zeroCost() backtest.Config {
	return backtest.Config{InitialCapital: 100_000}
}

func TestBuildFolds_Layout(t *testing.T) {
	cfg := Config{
		TrainYears:   8,
		ValYears:     2,
		StepYears:    2,
		HoldoutStart: day(2022, 1, 1),
	}
	folds := BuildFolds(day(1993, 2, 1), cfg)

	require.Len(t, folds, 10)

	assert.Equal(t, day(1993, 2, 1), folds[0].TrainStart)
	assert.Equal(t, day(2001, 2, 1), folds[0].TrainEnd)
	assert.Equal(t, day(2001, 2, 1), folds[0].ValStart)
	assert.Equal(t, day(2003, 2, 1), folds[0].ValEnd)

	last := folds[len(folds)-1]
	assert.Equal(t, day(2011, 2, 1), last.TrainStart)
	assert.Equal(t, day(2021, 2, 1), last.ValEnd)
	assert.False(t, last.ValEnd.After(cfg.HoldoutStart), "no fold reaches into the holdout")

	for i, f := range folds {
		assert.Equal(t, f.TrainEnd, f.ValStart, "fold %d", i)
		if i > 0 {
			assert.Equal(t, folds[i-1].TrainStart.AddDate(2, 0, 0), f.TrainStart, "fold %d advances by the step", i)
			assert.Equal(t, folds[i-1].ValEnd, f.TrainEnd, "fold %d: windows tile without gaps", i)
		}
	}
}

func TestBuildFolds_HoldoutBoundaryInclusive(t *testing.T) {
	cfg := Config{TrainYears: 8, ValYears: 2, StepYears: 2, HoldoutStart: day(2010, 1, 1)}
	folds := BuildFolds(day(2000, 1, 1), cfg)

	// A validation window ending exactly on the boundary stays: ranges are
	// half-open, so the boundary bar itself is never consumed.
	require.Len(t, folds, 1)
	assert.Equal(t, cfg.HoldoutStart, folds[0].ValEnd)
}

func TestBuildFolds_Degenerate(t *testing.T) {
	cfg := Config{TrainYears: 8, ValYears: 2, StepYears: 0, HoldoutStart: day(2022, 1, 1)}
	assert.Nil(t, BuildFolds(day(1993, 2, 1), cfg), "a non-positive step would loop forever")

	short := Config{TrainYears: 8, ValYears: 2, StepYears: 2, HoldoutStart: day(2020, 1, 1)}
	assert.Empty(t, BuildFolds(day(2015, 1, 1), short), "history shorter than one fold")
}

func TestFallbackFold(t *testing.T) {
	first := day(2000, 1, 1)
	holdout := day(2020, 1, 1)
	f := FallbackFold(first, Config{HoldoutStart: holdout})

	assert.Equal(t, first, f.TrainStart)
	assert.Equal(t, holdout, f.ValEnd)
	assert.Equal(t, f.TrainEnd, f.ValStart)

	trainSpan := f.TrainEnd.Sub(f.TrainStart).Hours()
	valSpan := f.ValEnd.Sub(f.ValStart).Hours()
	assert.InDelta(t, 3.0, trainSpan/valSpan, 1e-9, "75/25 split")
}

func TestExpandGrid(t *testing.T) {
	base := []strategy.Params{{"a": 1}, {"a": 2}}

	expanded := ExpandGrid(base, []float64{0.5, 1.0})
	require.Len(t, expanded, 4)

	assert.Equal(t, strategy.Params{"a": 1, strategy.RiskScaleKey: 0.5}, expanded[0])
	assert.Equal(t, strategy.Params{"a": 1, strategy.RiskScaleKey: 1.0}, expanded[1])
	assert.Equal(t, strategy.Params{"a": 2, strategy.RiskScaleKey: 0.5}, expanded[2])
	assert.Equal(t, strategy.Params{"a": 2, strategy.RiskScaleKey: 1.0}, expanded[3])

	_, leaked := base[0][strategy.RiskScaleKey]
	assert.False(t, leaked, "expansion clones, the base grid stays clean")

	noScales := ExpandGrid(base, nil)
	require.Len(t, noScales, 2)
	assert.Equal(t, 1.0, noScales[0][strategy.RiskScaleKey])
}

func TestRunCandidate_StripsAndAppliesRiskScale(t *testing.T) {
	s := dailySeries(day(2020, 1, 1), 100, 101, 102, 103, 104, 105, 106, 107, 108, 109)

	var seen strategy.Params
	fn := func(s *series.Series, p strategy.Params) ([]float64, error) {
		seen = p
		return constWeight(1)(s, p)
	}

	res, err := RunCandidate(s, fn, strategy.Params{"x": 1, strategy.RiskScaleKey: 0.5}, zeroCost())
	require.NoError(t, err)

	_, ok := seen[strategy.RiskScaleKey]
	assert.False(t, ok, "the generator never sees the risk scale")
	assert.Equal(t, 1.0, seen["x"])

	// Ten bars, nine of them held at half weight.
	assert.InDelta(t, 45.0, res.Metrics.ExposurePct, 1e-9)
}

func TestAverageMetrics(t *testing.T) {
	ms := []backtest.Metrics{
		{CAGR: 0.10, Calmar: math.NaN(), NumTrades: 3},
		{CAGR: 0.20, Calmar: 2.0, NumTrades: 4},
	}
	avg := averageMetrics(ms)

	assert.InDelta(t, 0.15, avg.CAGR, 1e-12)
	assert.InDelta(t, 2.0, avg.Calmar, 1e-12, "NaN entries drop out of the mean")
	assert.Equal(t, 4, avg.NumTrades, "trade counts round to whole trades")

	onlyBad := averageMetrics([]backtest.Metrics{
		{ProfitFactor: math.Inf(1)},
		{ProfitFactor: math.NaN()},
	})
	assert.Equal(t, 0.0, onlyBad.ProfitFactor, "a field with no finite values averages to zero")

	assert.Equal(t, backtest.Metrics{}, averageMetrics(nil))
}

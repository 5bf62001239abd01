package walkforward

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
)

// weightParam reads its constant weight from the parameter set, which
// lets a grid search discriminate between candidates.
func weightParam(s *series.Series, p strategy.Params) ([]float64, error) {
	weights := make([]float64, s.Len())
	for i := range weights {
		weights[i] = p["w"]
	}
	return weights, nil
}

func TestOptimize(t *testing.T) {
	start := day(2015, 1, 1)
	s := waveSeries(start, int(day(2021, 6, 1).Sub(start).Hours()/24))
	cfg := Config{TrainYears: 1, ValYears: 1, StepYears: 1, HoldoutStart: day(2021, 1, 1)}
	grid := []strategy.Params{{"w": 0.05}, {"w": 1}}

	res, err := Optimize(context.Background(), s, weightParam, grid, cfg, zeroCost(), 2)
	require.NoError(t, err)

	// The 5% allocation sits under the exposure gate, so every fold's
	// in-sample search lands on full weight.
	require.Len(t, res.Folds, 5)
	for i, fo := range res.Folds {
		assert.Equal(t, 1.0, fo.BestParams["w"], "fold %d", i)
		assert.Equal(t, i, fo.Index)
	}
	assert.Equal(t, strategy.Params{"w": 1}, res.Consensus)
	assert.Greater(t, res.AvgValMetrics.CAGR, 0.0)
	assert.Greater(t, res.AvgTrainMetrics.ExposurePct, 50.0)
}

func TestOptimize_SkipsShortFolds(t *testing.T) {
	// Bars every fourth day leave each one-year window under the train and
	// validation floors, so no fold produces an outcome and the consensus
	// falls back to the first grid entry.
	start := day(2015, 1, 1)
	n := 600
	bars := make([]series.Bar, n)
	for i := range bars {
		c := 100 + 0.05*float64(i)
		bars[i] = series.Bar{Date: start.AddDate(0, 0, 4*i), Close: c, High: c * 1.01, Low: c * 0.99}
	}
	s := series.New("TEST", bars)

	cfg := Config{TrainYears: 1, ValYears: 1, StepYears: 1, HoldoutStart: day(2021, 1, 1)}
	grid := []strategy.Params{{"w": 0.05}, {"w": 1}}

	res, err := Optimize(context.Background(), s, weightParam, grid, cfg, zeroCost(), 2)
	require.NoError(t, err)

	assert.Empty(t, res.Folds)
	assert.Equal(t, strategy.Params{"w": 0.05}, res.Consensus)
}

func TestOptimize_FallbackFoldOnShortHistory(t *testing.T) {
	start := day(2018, 1, 1)
	s := waveSeries(start, 730)

	// Eight-year trains cannot fit before a 2019 holdout; the 75/25
	// fallback split still yields one usable fold.
	cfg := Config{TrainYears: 8, ValYears: 2, StepYears: 2, HoldoutStart: day(2019, 7, 1)}
	grid := []strategy.Params{{"w": 1}}

	res, err := Optimize(context.Background(), s, weightParam, grid, cfg, zeroCost(), 2)
	require.NoError(t, err)

	require.Len(t, res.Folds, 1)
	assert.Equal(t, start, res.Folds[0].Fold.TrainStart)
	assert.Equal(t, cfg.HoldoutStart, res.Folds[0].Fold.ValEnd)
	assert.Equal(t, strategy.Params{"w": 1}, res.Consensus)
}

func TestObjectiveValue(t *testing.T) {
	m := backtest.Metrics{Calmar: 1.5, Sharpe: 0.8, Sortino: 1.1, CAGR: 0.12}

	tests := []struct {
		name      string
		objective string
		want      float64
	}{
		{name: "empty defaults to calmar", objective: "", want: 1.5},
		{name: "calmar", objective: "calmar", want: 1.5},
		{name: "sharpe", objective: "sharpe", want: 0.8},
		{name: "sortino", objective: "sortino", want: 1.1},
		{name: "cagr", objective: "cagr", want: 0.12},
		{name: "unknown falls back to calmar", objective: "drawdown", want: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, objectiveValue(m, tt.objective))
		})
	}

	t.Run("non-finite scores zero", func(t *testing.T) {
		inf := backtest.Metrics{Calmar: math.Inf(1)}
		assert.Equal(t, 0.0, objectiveValue(inf, "calmar"))

		nan := backtest.Metrics{Sharpe: math.NaN()}
		assert.Equal(t, 0.0, objectiveValue(nan, "sharpe"))
	})
}

func TestConsensusParams(t *testing.T) {
	grid := []strategy.Params{{"a": 9, "b": 9}}

	t.Run("per-parameter mode", func(t *testing.T) {
		selections := []strategy.Params{
			{"a": 1, "b": 2},
			{"a": 1, "b": 4},
			{"a": 3, "b": 4},
		}
		got := consensusParams(selections, grid)
		assert.Equal(t, strategy.Params{"a": 1, "b": 4}, got)
	})

	t.Run("ties resolve to the smallest value", func(t *testing.T) {
		selections := []strategy.Params{{"a": 2}, {"a": 1}}
		got := consensusParams(selections, grid)
		assert.Equal(t, strategy.Params{"a": 1}, got)
	})

	t.Run("no selections fall back to the first grid entry", func(t *testing.T) {
		got := consensusParams(nil, grid)
		assert.Equal(t, strategy.Params{"a": 9, "b": 9}, got)

		got["a"] = 0
		assert.Equal(t, 9.0, grid[0]["a"], "fallback is a clone, not the grid entry itself")
	})

	t.Run("no selections and no grid", func(t *testing.T) {
		assert.Equal(t, strategy.Params{}, consensusParams(nil, nil))
	})
}

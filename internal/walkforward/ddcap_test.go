package walkforward

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/strategy"
)

// evalWith builds an Evaluation from per-fold max drawdowns. NaN marks a
// fold that produced no result.
func evalWith(foldDDs []float64, stitchedDD, exposure float64) *Evaluation {
	e := &Evaluation{
		Stitched:   Stitched{MaxDD: stitchedDD},
		AvgMetrics: backtest.Metrics{ExposurePct: exposure},
	}
	for _, dd := range foldDDs {
		if math.IsNaN(dd) {
			e.FoldMetrics = append(e.FoldMetrics, nil)
			continue
		}
		m := backtest.Metrics{MaxDrawdown: dd}
		e.FoldMetrics = append(e.FoldMetrics, &m)
		e.ValidFolds++
	}
	return e
}

func TestEvaluation_Passes(t *testing.T) {
	nan := math.NaN()
	cons := Constraints{DDCap: -0.20, FoldPassRate: 0.8, MinExposurePct: 60}

	tests := []struct {
		name string
		eval *Evaluation
		want bool
	}{
		{
			name: "nil evaluation never passes",
			eval: nil,
			want: false,
		},
		{
			name: "fewer than three valid folds",
			eval: evalWith([]float64{-0.10, -0.10}, -0.10, 80),
			want: false,
		},
		{
			name: "nil fold slots do not count as valid",
			eval: evalWith([]float64{-0.10, nan, -0.10, nan, -0.10}, -0.12, 80),
			want: true,
		},
		{
			name: "insufficient exposure",
			eval: evalWith([]float64{-0.10, -0.10, -0.10}, -0.10, 40),
			want: false,
		},
		{
			name: "stitched curve breaches the cap",
			eval: evalWith([]float64{-0.10, -0.10, -0.10}, -0.25, 80),
			want: false,
		},
		{
			name: "fold pass rate below threshold",
			eval: evalWith([]float64{-0.10, -0.10, -0.30, -0.30, -0.30}, -0.15, 80),
			want: false,
		},
		{
			name: "everything within bounds",
			eval: evalWith([]float64{-0.10, -0.15, -0.10}, -0.18, 80),
			want: true,
		},
		{
			name: "pass rate exactly at threshold",
			eval: evalWith([]float64{-0.10, -0.10, -0.10, -0.10, -0.30}, -0.15, 80),
			want: true,
		},
		{
			name: "stitched drawdown exactly at the cap",
			eval: evalWith([]float64{-0.10, -0.10, -0.10}, -0.20, 80),
			want: true,
		},
		{
			name: "exposure exactly at the floor",
			eval: evalWith([]float64{-0.10, -0.10, -0.10}, -0.10, 60),
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eval.Passes(cons))
		})
	}
}

func TestEvaluation_DDPassStats(t *testing.T) {
	e := evalWith([]float64{-0.10, -0.20, -0.25, math.NaN()}, -0.25, 80)

	passed, valid := e.DDPassStats(-0.20)
	assert.Equal(t, 3, valid)
	assert.Equal(t, 2, passed, "a fold sitting exactly on the cap counts as within it")
}

func TestScore_Better(t *testing.T) {
	tests := []struct {
		name string
		s, o Score
		want bool
	}{
		{"higher cagr wins", Score{CAGR: 0.2}, Score{CAGR: 0.1}, true},
		{"lower cagr loses", Score{CAGR: 0.1}, Score{CAGR: 0.2}, false},
		{"cagr tie falls to sharpe", Score{CAGR: 0.1, Sharpe: 1.5}, Score{CAGR: 0.1, Sharpe: 1.0}, true},
		{"sharpe tie falls to calmar", Score{CAGR: 0.1, Sharpe: 1.0, Calmar: 2.0}, Score{CAGR: 0.1, Sharpe: 1.0, Calmar: 1.0}, true},
		{"equal tuples are not better", Score{CAGR: 0.1, Sharpe: 1.0, Calmar: 1.0}, Score{CAGR: 0.1, Sharpe: 1.0, Calmar: 1.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.Better(tt.o))
		})
	}
}

func TestStitchSegments(t *testing.T) {
	d := func(i int) time.Time { return day(2020, 1, 1).AddDate(0, 0, i) }

	t.Run("dedups boundary dates and compounds through", func(t *testing.T) {
		dates := [][]time.Time{
			{d(0), d(1), d(2)},
			{d(2), d(3), d(4)},
		}
		returns := [][]float64{
			{0, 0.10, -0.05},
			{0.99, 0.02, 0.03}, // the 0.99 duplicates d(2) and must be ignored
		}

		st := StitchSegments(dates, returns, 100_000)

		require.Len(t, st.Dates, 5)
		assert.Equal(t, []float64{0, 0.10, -0.05, 0.02, 0.03}, st.Returns)

		want := 100_000 * 1.10 * 0.95 * 1.02 * 1.03
		assert.InDelta(t, want, st.Equity[4], 1e-6)
		assert.InDelta(t, -0.05, st.MaxDD, 1e-12)
	})

	t.Run("peak carries across segment boundaries", func(t *testing.T) {
		dates := [][]time.Time{
			{d(0), d(1)},
			{d(2), d(3)},
		}
		returns := [][]float64{
			{0, 0.50},
			{-0.40, 0.10},
		}

		st := StitchSegments(dates, returns, 100_000)

		// The 150k peak from the first segment is the reference for the
		// drop in the second one.
		assert.InDelta(t, -0.40, st.MaxDD, 1e-12)
	})

	t.Run("out-of-order segments sort chronologically", func(t *testing.T) {
		dates := [][]time.Time{
			{d(2), d(3)},
			{d(0), d(1)},
		}
		returns := [][]float64{
			{0.02, 0.03},
			{0, 0.10},
		}

		st := StitchSegments(dates, returns, 100_000)

		assert.Equal(t, []float64{0, 0.10, 0.02, 0.03}, st.Returns)
		assert.True(t, st.Dates[0].Before(st.Dates[1]))
	})
}

func TestStitched_Summary(t *testing.T) {
	assert.Equal(t, StitchedSummary{}, Stitched{}.Summary())

	d := func(i int) time.Time { return day(2020, 1, 1).AddDate(0, 0, i) }
	st := StitchSegments(
		[][]time.Time{{d(0), d(1), d(2), d(3), d(4)}},
		[][]float64{{0, 0.10, -0.05, 0.02, 0.03}},
		100_000,
	)
	sum := st.Summary()

	assert.Equal(t, d(0), sum.Start)
	assert.Equal(t, d(4), sum.End)
	assert.Equal(t, 4, sum.Days)
	assert.InDelta(t, 1.10*0.95*1.02*1.03-1, sum.TotalReturn, 1e-12)
	assert.InDelta(t, -0.05, sum.MaxDD, 1e-12)
	assert.Greater(t, sum.CAGR, 0.0)
	assert.Greater(t, sum.Volatility, 0.0)
}

func TestEvaluateAcrossFolds(t *testing.T) {
	start := day(2015, 1, 1)
	end := day(2021, 6, 1)
	s := waveSeries(start, int(end.Sub(start).Hours()/24))

	cfg := Config{TrainYears: 1, ValYears: 1, StepYears: 1, HoldoutStart: day(2021, 1, 1)}
	folds := BuildFolds(start, cfg)
	require.Len(t, folds, 5)

	ev := EvaluateAcrossFolds(s, folds, constWeight(1), strategy.Params{}, zeroCost())
	require.NotNil(t, ev)

	assert.Equal(t, 5, ev.ValidFolds)
	require.Len(t, ev.FoldMetrics, 5)
	for i, m := range ev.FoldMetrics {
		require.NotNil(t, m, "fold %d", i)
	}

	// Validation windows tile [2016-01-01, 2021-01-01) without overlap, so
	// the stitched curve has exactly one observation per calendar day.
	require.Len(t, ev.Stitched.Dates, 1827)
	assert.Equal(t, day(2016, 1, 1), ev.Stitched.Dates[0])
	assert.Equal(t, day(2020, 12, 31), ev.Stitched.Dates[1826])
	assert.Greater(t, ev.AvgMetrics.CAGR, 0.0)
	assert.Less(t, ev.Stitched.MaxDD, 0.0)
}

func TestEvaluateAcrossFolds_ShortFoldsBecomeNilSlots(t *testing.T) {
	start := day(2015, 1, 1)
	s := waveSeries(start, 1500)

	folds := []Fold{
		{ValStart: day(2016, 1, 1), ValEnd: day(2016, 2, 1)}, // 31 bars, below the floor
		{ValStart: day(2016, 2, 1), ValEnd: day(2017, 2, 1)},
		{ValStart: day(2017, 2, 1), ValEnd: day(2018, 2, 1)},
		{ValStart: day(2018, 2, 1), ValEnd: day(2019, 1, 1)},
	}

	ev := EvaluateAcrossFolds(s, folds, constWeight(1), strategy.Params{}, zeroCost())
	require.NotNil(t, ev)

	assert.Equal(t, 3, ev.ValidFolds)
	require.Len(t, ev.FoldMetrics, 4)
	assert.Nil(t, ev.FoldMetrics[0])
	assert.NotNil(t, ev.FoldMetrics[1])
}

func TestEvaluateAcrossFolds_NothingUsable(t *testing.T) {
	s := waveSeries(day(2015, 1, 1), 400)
	folds := []Fold{
		{ValStart: day(2015, 2, 1), ValEnd: day(2015, 3, 1)},
	}
	assert.Nil(t, EvaluateAcrossFolds(s, folds, constWeight(1), strategy.Params{}, zeroCost()))
}

func unitSpec(name string, w float64) strategy.Spec {
	return strategy.Spec{
		Name: name,
		Func: constWeight(w),
		Grid: func() []strategy.Params { return []strategy.Params{{"x": 1}} },
		Axes: map[string][]float64{"x": {1}},
	}
}

func TestEvaluateStrategy(t *testing.T) {
	start := day(2015, 1, 1)
	s := waveSeries(start, int(day(2021, 6, 1).Sub(start).Hours()/24))
	cfg := Config{TrainYears: 1, ValYears: 1, StepYears: 1, HoldoutStart: day(2021, 1, 1)}
	folds := BuildFolds(start, cfg)

	loose := Constraints{DDCap: -0.99, FoldPassRate: 0.5, MinExposurePct: 1}

	out, err := EvaluateStrategy(context.Background(), s, folds, unitSpec("unit", 1), []float64{0.5, 1.0}, zeroCost(), loose, 2)
	require.NoError(t, err)

	assert.Equal(t, 1, out.BaseGridSize)
	assert.Equal(t, 2, out.GridSize)
	assert.Equal(t, 2, out.Evaluated)
	assert.Equal(t, 0, out.Errors)
	require.Len(t, out.Passing, 2)

	require.NotNil(t, out.Best)
	assert.Equal(t, 1.0, out.Best.Params[strategy.RiskScaleKey], "the fuller allocation compounds faster on a rising series")

	t.Run("a cap near zero admits nothing", func(t *testing.T) {
		tight := Constraints{DDCap: -1e-9, FoldPassRate: 0.5, MinExposurePct: 1}
		out, err := EvaluateStrategy(context.Background(), s, folds, unitSpec("unit", 1), []float64{1.0}, zeroCost(), tight, 2)
		require.NoError(t, err)

		assert.Empty(t, out.Passing)
		assert.Nil(t, out.Best)
	})
}

func TestSelect(t *testing.T) {
	start := day(2015, 1, 1)
	s := waveSeries(start, int(day(2021, 6, 1).Sub(start).Hours()/24))
	folds := BuildFolds(start, Config{TrainYears: 1, ValYears: 1, StepYears: 1, HoldoutStart: day(2021, 1, 1)})

	specs := []strategy.Spec{
		unitSpec("always_flat", 0), // zero exposure, cannot pass
		unitSpec("always_long", 1),
	}
	cons := Constraints{DDCap: -0.99, FoldPassRate: 0.5, MinExposurePct: 1}

	sel, err := Select(context.Background(), s, folds, specs, []float64{1.0}, zeroCost(), cons, 2)
	require.NoError(t, err)

	require.Len(t, sel.Outcomes, 2)
	assert.Equal(t, "always_flat", sel.Outcomes[0].Strategy, "outcomes keep input order")
	assert.Equal(t, "always_long", sel.Outcomes[1].Strategy)

	require.Len(t, sel.Ranked, 1)
	require.NotNil(t, sel.Winner)
	assert.Equal(t, "always_long", sel.Winner.Strategy)
}

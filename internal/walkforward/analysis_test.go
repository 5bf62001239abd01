package walkforward

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
)

func TestNeighborValues(t *testing.T) {
	axis := []float64{10, 20, 30, 50}

	tests := []struct {
		name    string
		current float64
		want    []float64
	}{
		{"middle of the axis", 20, []float64{10, 20, 30}},
		{"first value has no left neighbor", 10, []float64{10, 20}},
		{"last value has no right neighbor", 50, []float64{30, 50}},
		{"off-axis value yields nothing", 25, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeighborValues(axis, tt.current))
		})
	}

	assert.Equal(t, []float64{7}, NeighborValues([]float64{7}, 7))
}

func TestHoldout_WarmsUpInsideTheWindow(t *testing.T) {
	start := day(2015, 1, 1)
	s := waveSeries(start, 2500)
	boundary := day(2020, 1, 1)

	res, err := Holdout(s, constWeight(1), strategy.Params{}, boundary, zeroCost())
	require.NoError(t, err)

	assert.Equal(t, boundary, res.Dates[0], "nothing before the boundary leaks in")

	direct, err := RunCandidate(s.From(boundary), constWeight(1), strategy.Params{}, zeroCost())
	require.NoError(t, err)
	assert.Equal(t, direct.Metrics, res.Metrics)
}

func TestSensitivity_SkipsFailingValues(t *testing.T) {
	s := waveSeries(day(2018, 1, 1), 300)

	fn := func(s *series.Series, p strategy.Params) ([]float64, error) {
		if p["k"] <= 0 {
			return nil, errors.New("k must be positive")
		}
		return constWeight(0.5)(s, p)
	}

	rows := Sensitivity(s, fn, strategy.Params{"k": 1}, "k", []float64{-1, 1, 2}, zeroCost())

	require.Len(t, rows, 2)
	assert.Equal(t, 1.0, rows[0].Value)
	assert.Equal(t, 2.0, rows[1].Value)
	assert.Greater(t, rows[0].Metrics.ExposurePct, 0.0)
}

func TestSensitivity_DoesNotMutateBase(t *testing.T) {
	s := waveSeries(day(2018, 1, 1), 300)
	base := strategy.Params{"k": 1}

	Sensitivity(s, constWeight(1), base, "k", []float64{5, 6}, zeroCost())

	assert.Equal(t, strategy.Params{"k": 1}, base)
}

func TestDefaultSubperiods(t *testing.T) {
	periods := DefaultSubperiods()
	require.Len(t, periods, 4)

	assert.Equal(t, day(1993, 2, 1), periods[0].Start)
	for i := 0; i < len(periods)-1; i++ {
		assert.Equal(t, periods[i].End, periods[i+1].Start, "eras tile without gaps")
	}
	assert.Equal(t, day(2026, 1, 1), periods[len(periods)-1].End)
}

func TestSubperiods(t *testing.T) {
	// One year of data straddling the 2020 era boundary touches exactly
	// two of the default eras.
	start := day(2019, 6, 1)
	s := waveSeries(start, 366)

	rows := Subperiods(s, constWeight(1), strategy.Params{}, DefaultSubperiods(), zeroCost())

	require.Len(t, rows, 2)
	assert.Equal(t, "2013-2019", rows[0].Subperiod.Name)
	assert.Equal(t, "2020-2025", rows[1].Subperiod.Name)

	t.Run("slices below the bar floor are skipped", func(t *testing.T) {
		tiny := []Subperiod{{Name: "tiny", Start: day(2020, 1, 1), End: day(2020, 2, 1)}}
		assert.Empty(t, Subperiods(s, constWeight(1), strategy.Params{}, tiny, zeroCost()))
	})
}

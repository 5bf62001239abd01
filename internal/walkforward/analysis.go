package walkforward

import (
	"time"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
)

// minSubperiodBars skips subperiods too short to say anything about.
const minSubperiodBars = 50

// Holdout runs a chosen parameter set on the reserved range from the
// holdout boundary to the end of the history. Signals warm up inside the
// holdout window itself, the same way fold evaluation treats its slices.
func Holdout(s *series.Series, fn strategy.SignalFunc, params strategy.Params, holdoutStart time.Time, btCfg backtest.Config) (*backtest.Result, error) {
	return RunCandidate(s.From(holdoutStart), fn, params, btCfg)
}

// SensitivityRow is one perturbed value of a single parameter.
type SensitivityRow struct {
	Value   float64
	Metrics backtest.Metrics
}

// Sensitivity reruns the base parameter set with one parameter swapped
// through the given values, everything else fixed. Values that fail to
// simulate are left out rather than reported as errors.
func Sensitivity(s *series.Series, fn strategy.SignalFunc, base strategy.Params, param string, values []float64, btCfg backtest.Config) []SensitivityRow {
	var rows []SensitivityRow
	for _, v := range values {
		p := base.Clone()
		p[param] = v
		res, err := RunCandidate(s, fn, p, btCfg)
		if err != nil {
			continue
		}
		rows = append(rows, SensitivityRow{Value: v, Metrics: res.Metrics})
	}
	return rows
}

// NeighborValues returns the value itself plus its immediate neighbors on
// the grid axis, in axis order. A value that is not on the axis yields
// nil, which skips the parameter.
func NeighborValues(axis []float64, current float64) []float64 {
	for i, v := range axis {
		if v == current {
			lo, hi := i-1, i+1
			if lo < 0 {
				lo = 0
			}
			if hi > len(axis)-1 {
				hi = len(axis) - 1
			}
			out := make([]float64, hi-lo+1)
			copy(out, axis[lo:hi+1])
			return out
		}
	}
	return nil
}

// Subperiod is a labeled half-open [Start, End) slice of history.
type Subperiod struct {
	Name  string
	Start time.Time
	End   time.Time
}

// SubperiodRow is one subperiod's metrics for a fixed parameter set.
type SubperiodRow struct {
	Subperiod Subperiod
	Metrics   backtest.Metrics
}

// DefaultSubperiods carves the SPY history into market eras: the 90s bull
// and dot-com bust, the 2008 crisis decade, the low-vol 2010s, and the
// 2020s from the pandemic crash onward.
func DefaultSubperiods() []Subperiod {
	day := func(y, m, d int) time.Time {
		return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	}
	return []Subperiod{
		{Name: "1993-2002", Start: day(1993, 2, 1), End: day(2003, 1, 1)},
		{Name: "2003-2012", Start: day(2003, 1, 1), End: day(2013, 1, 1)},
		{Name: "2013-2019", Start: day(2013, 1, 1), End: day(2020, 1, 1)},
		{Name: "2020-2025", Start: day(2020, 1, 1), End: day(2026, 1, 1)},
	}
}

// Subperiods evaluates a fixed parameter set era by era. Slices with too
// few bars or failing runs are skipped.
func Subperiods(s *series.Series, fn strategy.SignalFunc, params strategy.Params, periods []Subperiod, btCfg backtest.Config) []SubperiodRow {
	var rows []SubperiodRow
	for _, p := range periods {
		slice := s.Between(p.Start, p.End)
		if slice.Len() < minSubperiodBars {
			continue
		}
		res, err := RunCandidate(slice, fn, params, btCfg)
		if err != nil {
			continue
		}
		rows = append(rows, SubperiodRow{Subperiod: p, Metrics: res.Metrics})
	}
	return rows
}

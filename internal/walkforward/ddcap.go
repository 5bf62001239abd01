package walkforward

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
)

// minValidFolds is the least number of scoreable folds a candidate needs
// before the pass-rate constraint means anything.
const minValidFolds = 3

// Constraints are the hard admission rules for drawdown-capped selection.
// DDCap is a negative fraction; "within the cap" means MaxDrawdown >= DDCap.
type Constraints struct {
	DDCap          float64
	FoldPassRate   float64
	MinExposurePct float64
}

// Evaluation is one fixed candidate measured on every validation fold.
// FoldMetrics stays aligned with the fold list; a nil slot is a fold that
// was too short or failed to simulate.
type Evaluation struct {
	Params      strategy.Params
	GridIndex   int
	FoldMetrics []*backtest.Metrics
	AvgMetrics  backtest.Metrics
	Stitched    Stitched
	ValidFolds  int
}

// Stitched is the concatenated OOS curve across validation folds. Capital
// compounds straight through fold boundaries and the running peak carries
// across them, so its MaxDD can be worse than any single fold's.
type Stitched struct {
	Dates    []time.Time
	Returns  []float64
	Equity   []float64
	Drawdown []float64
	MaxDD    float64
}

// EvaluateAcrossFolds runs one fixed parameter set on every validation
// window, with no per-fold re-optimization. Returns nil when not a single
// fold produced a result.
func EvaluateAcrossFolds(s *series.Series, folds []Fold, fn strategy.SignalFunc, params strategy.Params, btCfg backtest.Config) *Evaluation {
	foldMetrics := make([]*backtest.Metrics, 0, len(folds))
	var segDates [][]time.Time
	var segReturns [][]float64

	for _, fold := range folds {
		val := s.Between(fold.ValStart, fold.ValEnd)
		if val.Len() < minValBars {
			foldMetrics = append(foldMetrics, nil)
			continue
		}
		res, err := RunCandidate(val, fn, params, btCfg)
		if err != nil {
			foldMetrics = append(foldMetrics, nil)
			continue
		}
		m := res.Metrics
		foldMetrics = append(foldMetrics, &m)
		segDates = append(segDates, res.Dates)
		segReturns = append(segReturns, res.DailyReturns)
	}
	if len(segReturns) == 0 {
		return nil
	}

	valid := make([]backtest.Metrics, 0, len(foldMetrics))
	for _, m := range foldMetrics {
		if m != nil {
			valid = append(valid, *m)
		}
	}

	return &Evaluation{
		Params:      params,
		FoldMetrics: foldMetrics,
		AvgMetrics:  averageMetrics(valid),
		Stitched:    StitchSegments(segDates, segReturns, btCfg.InitialCapital),
		ValidFolds:  len(valid),
	}
}

// StitchSegments concatenates per-fold daily returns into one continuous
// OOS curve. Duplicate dates on fold edges keep their first occurrence,
// then everything is ordered chronologically and compounded from the
// starting capital.
func StitchSegments(dates [][]time.Time, returns [][]float64, capital float64) Stitched {
	type obs struct {
		date time.Time
		ret  float64
	}
	var all []obs
	seen := make(map[time.Time]struct{})
	for si := range returns {
		for i := range returns[si] {
			d := dates[si][i]
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			all = append(all, obs{date: d, ret: returns[si][i]})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].date.Before(all[j].date) })

	st := Stitched{
		Dates:    make([]time.Time, len(all)),
		Returns:  make([]float64, len(all)),
		Equity:   make([]float64, len(all)),
		Drawdown: make([]float64, len(all)),
	}
	acc := capital
	peak := math.Inf(-1)
	for i, o := range all {
		st.Dates[i] = o.date
		st.Returns[i] = o.ret
		acc *= 1 + o.ret
		st.Equity[i] = acc
		if acc > peak {
			peak = acc
		}
		dd := acc/peak - 1
		st.Drawdown[i] = dd
		if dd < st.MaxDD {
			st.MaxDD = dd
		}
	}
	return st
}

// StitchedSummary condenses the stitched curve for reporting. Years count
// OOS trading days over 252; the first return is dropped because the curve
// starts at its first compounded value.
type StitchedSummary struct {
	Start       time.Time
	End         time.Time
	Days        int
	CAGR        float64
	Volatility  float64
	Sharpe      float64
	TotalReturn float64
	MaxDD       float64
}

func (st Stitched) Summary() StitchedSummary {
	n := len(st.Equity)
	if n == 0 {
		return StitchedSummary{}
	}
	rets := st.Returns[1:]
	days := n - 1
	years := float64(days) / 252.0
	total := st.Equity[n-1] / st.Equity[0]

	sum := StitchedSummary{
		Start:       st.Dates[0],
		End:         st.Dates[n-1],
		Days:        days,
		TotalReturn: total - 1,
		MaxDD:       st.MaxDD,
	}
	if years > 0 {
		sum.CAGR = math.Pow(total, 1/years) - 1
	}
	sd := sampleStd(rets)
	sum.Volatility = sd * math.Sqrt(252)
	if sd > 0 {
		sum.Sharpe = mean(rets) / sd * math.Sqrt(252)
	}
	return sum
}

// Passes applies the three admission rules: enough individual folds within
// the cap, the stitched curve within the cap, and enough average exposure
// to be worth holding. Boundary equality passes each rule.
func (e *Evaluation) Passes(c Constraints) bool {
	if e == nil {
		return false
	}
	passed, valid := e.DDPassStats(c.DDCap)
	if valid < minValidFolds {
		return false
	}
	if float64(passed)/float64(valid) < c.FoldPassRate {
		return false
	}
	if e.Stitched.MaxDD < c.DDCap {
		return false
	}
	if e.AvgMetrics.ExposurePct < c.MinExposurePct {
		return false
	}
	return true
}

// DDPassStats counts how many valid folds kept their drawdown within the
// cap.
func (e *Evaluation) DDPassStats(ddCap float64) (passed, valid int) {
	for _, m := range e.FoldMetrics {
		if m == nil {
			continue
		}
		valid++
		if m.MaxDrawdown >= ddCap {
			passed++
		}
	}
	return passed, valid
}

// Score orders admissible candidates: average OOS CAGR first, then
// Sharpe, then Calmar.
type Score struct {
	CAGR   float64
	Sharpe float64
	Calmar float64
}

func (e *Evaluation) Score() Score {
	return Score{
		CAGR:   e.AvgMetrics.CAGR,
		Sharpe: e.AvgMetrics.Sharpe,
		Calmar: e.AvgMetrics.Calmar,
	}
}

// Better reports whether s outranks o. Equal tuples return false, which
// keeps stable sorts in grid order.
func (s Score) Better(o Score) bool {
	if s.CAGR != o.CAGR {
		return s.CAGR > o.CAGR
	}
	if s.Sharpe != o.Sharpe {
		return s.Sharpe > o.Sharpe
	}
	return s.Calmar > o.Calmar
}

// StrategyOutcome is one strategy's expanded grid after constraint
// filtering. Best is nil when nothing passed.
type StrategyOutcome struct {
	Strategy     string
	BaseGridSize int
	GridSize     int
	Evaluated    int
	Errors       int
	Passing      []*Evaluation
	Best         *Evaluation
}

// EvaluateStrategy expands one strategy's grid with the risk scales and
// evaluates every candidate across the folds on a bounded worker pool.
// Passing candidates come back sorted best-first; candidates with equal
// scores keep their grid order.
func EvaluateStrategy(ctx context.Context, s *series.Series, folds []Fold, spec strategy.Spec, riskScales []float64, btCfg backtest.Config, cons Constraints, workers int) (*StrategyOutcome, error) {
	base := spec.Grid()
	grid := ExpandGrid(base, riskScales)

	evals := make([]*Evaluation, len(grid))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeWorkers(workers))
	for i, params := range grid {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			ev := EvaluateAcrossFolds(s, folds, spec.Func, params, btCfg)
			if ev != nil {
				ev.GridIndex = i
			}
			evals[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &StrategyOutcome{
		Strategy:     spec.Name,
		BaseGridSize: len(base),
		GridSize:     len(grid),
	}
	for _, ev := range evals {
		if ev == nil {
			out.Errors++
			continue
		}
		out.Evaluated++
		if ev.Passes(cons) {
			out.Passing = append(out.Passing, ev)
		}
	}
	sort.SliceStable(out.Passing, func(i, j int) bool {
		return out.Passing[i].Score().Better(out.Passing[j].Score())
	})
	if len(out.Passing) > 0 {
		out.Best = out.Passing[0]
	}
	return out, nil
}

// Selection is the outcome of one full drawdown-capped run over a set of
// strategies. Winner is nil when no candidate anywhere was admissible;
// that is a legitimate answer for a tight cap, not an error.
type Selection struct {
	Constraints Constraints
	Folds       []Fold
	Outcomes    []*StrategyOutcome
	Ranked      []*StrategyOutcome
	Winner      *StrategyOutcome
}

// Select evaluates each strategy's grid under the constraints and ranks
// the survivors by their best candidate's score. Strategies keep their
// input order in Outcomes; Ranked holds only those with an admissible
// candidate.
func Select(ctx context.Context, s *series.Series, folds []Fold, specs []strategy.Spec, riskScales []float64, btCfg backtest.Config, cons Constraints, workers int) (*Selection, error) {
	sel := &Selection{Constraints: cons, Folds: folds}
	for _, spec := range specs {
		out, err := EvaluateStrategy(ctx, s, folds, spec, riskScales, btCfg, cons, workers)
		if err != nil {
			return nil, err
		}
		sel.Outcomes = append(sel.Outcomes, out)
		if out.Best != nil {
			sel.Ranked = append(sel.Ranked, out)
		}
	}
	sort.SliceStable(sel.Ranked, func(i, j int) bool {
		return sel.Ranked[i].Best.Score().Better(sel.Ranked[j].Best.Score())
	})
	if len(sel.Ranked) > 0 {
		sel.Winner = sel.Ranked[0]
	}
	return sel, nil
}

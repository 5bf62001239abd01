package walkforward

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"golang-backtest/internal/backtest"
	"golang-backtest/internal/series"
	"golang-backtest/internal/strategy"
)

// Window floors below which a fold cannot produce a meaningful result.
const (
	minTrainBars = 252
	minValBars   = 100
)

// Plausibility gates for the in-sample grid search. Parameter sets that
// trade almost never, churn constantly, or sit mostly in cash are
// discarded before scoring, whatever their Calmar says.
const (
	minTradesPerYear = 0.5
	maxTradesPerYear = 50.0
	minTrainExposure = 10.0
)

// FoldOutcome records one fold of per-fold best-param optimization: the
// in-sample winner and how it fared on the validation window.
type FoldOutcome struct {
	Index        int
	Fold         Fold
	BestParams   strategy.Params
	TrainScore   float64
	TrainMetrics backtest.Metrics
	ValMetrics   backtest.Metrics
}

// OptimizeResult aggregates all folds of one strategy's walk-forward run.
type OptimizeResult struct {
	Consensus       strategy.Params
	Folds           []FoldOutcome
	AvgValMetrics   backtest.Metrics
	AvgTrainMetrics backtest.Metrics
}

// Optimize walks the folds re-optimizing per fold: grid-search the train
// window for the best Calmar, then score that winner out-of-sample on the
// validation window. Folds with too little data, no gate-passing
// parameters, or a failing validation run are skipped. The consensus
// parameter set is the per-parameter mode of the fold winners.
func Optimize(ctx context.Context, s *series.Series, fn strategy.SignalFunc, grid []strategy.Params, cfg Config, btCfg backtest.Config, workers int) (*OptimizeResult, error) {
	folds := BuildFolds(s.FirstDate(), cfg)
	if len(folds) == 0 {
		folds = []Fold{FallbackFold(s.FirstDate(), cfg)}
	}

	var outcomes []FoldOutcome
	var selections []strategy.Params

	for fi, fold := range folds {
		train := s.Between(fold.TrainStart, fold.TrainEnd)
		val := s.Between(fold.ValStart, fold.ValEnd)
		if train.Len() < minTrainBars || val.Len() < minValBars {
			continue
		}

		scores, err := searchGrid(ctx, train, fn, grid, cfg.Objective, btCfg, workers)
		if err != nil {
			return nil, err
		}

		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, sc := range scores {
			if sc.ok && sc.score > bestScore {
				bestIdx = i
				bestScore = sc.score
			}
		}
		if bestIdx < 0 {
			continue
		}

		valRes, err := RunCandidate(val, fn, grid[bestIdx], btCfg)
		if err != nil {
			continue
		}

		outcomes = append(outcomes, FoldOutcome{
			Index:        fi,
			Fold:         fold,
			BestParams:   grid[bestIdx],
			TrainScore:   bestScore,
			TrainMetrics: scores[bestIdx].metrics,
			ValMetrics:   valRes.Metrics,
		})
		selections = append(selections, grid[bestIdx])
	}

	valMetrics := make([]backtest.Metrics, len(outcomes))
	trainMetrics := make([]backtest.Metrics, len(outcomes))
	for i, o := range outcomes {
		valMetrics[i] = o.ValMetrics
		trainMetrics[i] = o.TrainMetrics
	}

	return &OptimizeResult{
		Consensus:       consensusParams(selections, grid),
		Folds:           outcomes,
		AvgValMetrics:   averageMetrics(valMetrics),
		AvgTrainMetrics: averageMetrics(trainMetrics),
	}, nil
}

type gridScore struct {
	ok      bool
	score   float64
	metrics backtest.Metrics
}

// searchGrid scores every parameter set on the train window. Results land
// in a pre-sized slice by grid position, so the later argmax resolves ties
// toward the earliest grid entry regardless of worker scheduling.
func searchGrid(ctx context.Context, train *series.Series, fn strategy.SignalFunc, grid []strategy.Params, objective string, btCfg backtest.Config, workers int) ([]gridScore, error) {
	scores := make([]gridScore, len(grid))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeWorkers(workers))
	for i, params := range grid {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := RunCandidate(train, fn, params, btCfg)
			if err != nil {
				// unusable parameter set, not a failure of the search
				return nil
			}
			m := res.Metrics
			if m.TradesPerYear < minTradesPerYear || m.TradesPerYear > maxTradesPerYear {
				return nil
			}
			if m.ExposurePct < minTrainExposure {
				return nil
			}
			scores[i] = gridScore{ok: true, score: objectiveValue(m, objective), metrics: m}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// objectiveValue extracts the optimization target from a train run.
// Non-finite values score 0 so a degenerate run never outranks a real one.
func objectiveValue(m backtest.Metrics, objective string) float64 {
	var score float64
	switch objective {
	case "", "calmar":
		score = m.Calmar
	case "sharpe":
		score = m.Sharpe
	case "sortino":
		score = m.Sortino
	case "cagr":
		score = m.CAGR
	default:
		score = m.Calmar
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		score = 0
	}
	return score
}

// consensusParams takes, per parameter, the value selected most often
// across folds. Ties resolve to the smallest value so reruns are
// deterministic. With no fold winners at all, the first grid entry stands
// in.
func consensusParams(selections []strategy.Params, grid []strategy.Params) strategy.Params {
	if len(selections) == 0 {
		if len(grid) > 0 {
			return grid[0].Clone()
		}
		return strategy.Params{}
	}

	consensus := make(strategy.Params, len(selections[0]))
	for key := range selections[0] {
		counts := make(map[float64]int)
		for _, p := range selections {
			counts[p[key]]++
		}
		values := make([]float64, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		sort.Float64s(values)

		bestVal, bestCount := values[0], counts[values[0]]
		for _, v := range values[1:] {
			if counts[v] > bestCount {
				bestVal, bestCount = v, counts[v]
			}
		}
		consensus[key] = bestVal
	}
	return consensus
}

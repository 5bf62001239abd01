package strategy

import (
	"errors"
	"fmt"
	"sort"

	"golang-backtest/internal/series"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// SignalFunc maps a price window to one target weight per bar.
type SignalFunc func(s *series.Series, p Params) ([]float64, error)

// Spec bundles a generator with its parameter grid. Axes lists the grid
// values per parameter in grid order, which is what the sensitivity pass
// walks when it nudges one parameter a step in each direction.
type Spec struct {
	Name        string
	Description string
	Fractional  bool
	Func        SignalFunc
	Grid        func() []Params
	Axes        map[string][]float64
}

var registry = map[string]Spec{
	"A_ema_crossover": {
		Name:        "A_ema_crossover",
		Description: "EMA fast/slow crossover",
		Func:        EMACrossover,
		Grid:        emaCrossoverGrid,
		Axes: map[string][]float64{
			"fast": {10, 20, 30, 50},
			"slow": {50, 100, 150, 200},
		},
	},
	"B_regime_filter": {
		Name:        "B_regime_filter",
		Description: "Regime filter (price > EMA + slope)",
		Func:        RegimeFilter,
		Grid:        regimeFilterGrid,
		Axes: map[string][]float64{
			"regime_len":   {100, 150, 200},
			"slope_window": {0, 10, 20, 50},
		},
	},
	"C_buy_dip_uptrend": {
		Name:        "C_buy_dip_uptrend",
		Description: "Buy-the-dip inside bullish regime",
		Func:        BuyDipInUptrend,
		Grid:        buyDipInUptrendGrid,
		Axes: map[string][]float64{
			"regime_len": {150, 200},
			"dip_ema":    {20, 50},
			"dip_pct":    {0.0, 1.0, 2.0, 3.0},
		},
	},
	"D_ema_atr_stop": {
		Name:        "D_ema_atr_stop",
		Description: "EMA crossover + ATR trailing stop",
		Func:        EMAATRStop,
		Grid:        emaATRStopGrid,
		Axes: map[string][]float64{
			"fast":     {10, 20, 50},
			"slow":     {100, 150, 200},
			"atr_len":  {14, 20},
			"atr_mult": {2.0, 3.0, 4.0},
		},
	},
	"E_composite": {
		Name:        "E_composite",
		Description: "Composite: regime + dip entry + ATR stop",
		Func:        Composite,
		Grid:        compositeGrid,
		Axes: map[string][]float64{
			"regime_len":     {150, 200},
			"slope_window":   {0, 20},
			"entry_ema":      {20, 50},
			"entry_band_pct": {1.0, 3.0, 5.0},
			"atr_len":        {14, 20},
			"atr_mult":       {2.5, 3.5, 5.0},
		},
	},
	"F_hysteresis_regime": {
		Name:        "F_hysteresis_regime",
		Description: "Regime filter with hysteresis bands (anti-whipsaw)",
		Func:        HysteresisRegime,
		Grid:        hysteresisRegimeGrid,
		Axes: map[string][]float64{
			"regime_len":   {100, 150, 200},
			"upper_pct":    {0.0, 1.0, 2.0},
			"lower_pct":    {1.0, 2.0, 3.0},
			"slope_window": {0, 20},
		},
	},
	"G_sizing_regime": {
		Name:        "G_sizing_regime",
		Description: "Vol-scaled regime sizing (fractional 0..1)",
		Fractional:  true,
		Func:        SizingRegime,
		Grid:        sizingRegimeGrid,
		Axes: map[string][]float64{
			"regime_len":   {100, 150, 200},
			"slope_window": {0, 20},
			"vol_window":   {20, 40, 60},
			"target_vol":   {0.10, 0.15, 0.20},
		},
	},
	"H_atr_dip_addon": {
		Name:        "H_atr_dip_addon",
		Description: "Regime + ATR dip add-on (fractional 0..1)",
		Fractional:  true,
		Func:        ATRDipAddon,
		Grid:        atrDipAddonGrid,
		Axes: map[string][]float64{
			"regime_len":   {150, 200},
			"dip_ema":      {20, 50},
			"atr_len":      {14, 20},
			"dip_atr_mult": {1.0, 1.5, 2.0},
			"base_weight":  {0.5, 0.7},
			"addon_weight": {0.3, 0.5},
		},
	},
	"I_breakout_or_dip": {
		Name:        "I_breakout_or_dip",
		Description: "Dual-mode: breakout OR dip entry + ATR stop",
		Func:        BreakoutOrDip,
		Grid:        breakoutOrDipGrid,
		Axes: map[string][]float64{
			"regime_len":   {150, 200},
			"breakout_len": {20, 50},
			"dip_ema":      {20, 50},
			"dip_pct":      {1.0, 3.0},
			"atr_len":      {14, 20},
			"atr_mult":     {3.0, 4.0, 5.0},
		},
	},
}

// Get looks up a strategy spec by its catalog name.
func Get(name string) (Spec, error) {
	spec, ok := registry[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return spec, nil
}

// Names returns all catalog names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DDCapNames returns the candidate set for drawdown-capped selection: the
// anti-whipsaw and fractional-sizing strategies that can actually live
// under a hard drawdown ceiling.
func DDCapNames() []string {
	return []string{
		"F_hysteresis_regime",
		"G_sizing_regime",
		"H_atr_dip_addon",
		"I_breakout_or_dip",
	}
}

// Grid builders enumerate parameter sets in a fixed nested order: the
// first axis is the outermost loop. Tie-breaks during optimization resolve
// to the earliest grid entry, so this order is part of the contract.

func emaCrossoverGrid() []Params {
	var grid []Params
	for _, fast := range []float64{10, 20, 30, 50} {
		for _, slow := range []float64{50, 100, 150, 200} {
			if fast < slow {
				grid = append(grid, Params{"fast": fast, "slow": slow})
			}
		}
	}
	return grid
}

func regimeFilterGrid() []Params {
	var grid []Params
	for _, regimeLen := range []float64{100, 150, 200} {
		for _, slopeWindow := range []float64{0, 10, 20, 50} {
			grid = append(grid, Params{"regime_len": regimeLen, "slope_window": slopeWindow})
		}
	}
	return grid
}

func buyDipInUptrendGrid() []Params {
	var grid []Params
	for _, regimeLen := range []float64{150, 200} {
		for _, dipEMA := range []float64{20, 50} {
			for _, dipPct := range []float64{0.0, 1.0, 2.0, 3.0} {
				grid = append(grid, Params{
					"regime_len": regimeLen,
					"dip_ema":    dipEMA,
					"dip_pct":    dipPct,
				})
			}
		}
	}
	return grid
}

func emaATRStopGrid() []Params {
	var grid []Params
	for _, fast := range []float64{10, 20, 50} {
		for _, slow := range []float64{100, 150, 200} {
			if fast >= slow {
				continue
			}
			for _, atrLen := range []float64{14, 20} {
				for _, atrMult := range []float64{2.0, 3.0, 4.0} {
					grid = append(grid, Params{
						"fast":     fast,
						"slow":     slow,
						"atr_len":  atrLen,
						"atr_mult": atrMult,
					})
				}
			}
		}
	}
	return grid
}

func compositeGrid() []Params {
	var grid []Params
	for _, regimeLen := range []float64{150, 200} {
		for _, slopeWindow := range []float64{0, 20} {
			for _, entryEMA := range []float64{20, 50} {
				for _, entryBandPct := range []float64{1.0, 3.0, 5.0} {
					for _, atrLen := range []float64{14, 20} {
						for _, atrMult := range []float64{2.5, 3.5, 5.0} {
							grid = append(grid, Params{
								"regime_len":     regimeLen,
								"slope_window":   slopeWindow,
								"entry_ema":      entryEMA,
								"entry_band_pct": entryBandPct,
								"atr_len":        atrLen,
								"atr_mult":       atrMult,
							})
						}
					}
				}
			}
		}
	}
	return grid
}

func hysteresisRegimeGrid() []Params {
	var grid []Params
	for _, regimeLen := range []float64{100, 150, 200} {
		for _, upperPct := range []float64{0.0, 1.0, 2.0} {
			for _, lowerPct := range []float64{1.0, 2.0, 3.0} {
				for _, slopeWindow := range []float64{0, 20} {
					grid = append(grid, Params{
						"regime_len":   regimeLen,
						"upper_pct":    upperPct,
						"lower_pct":    lowerPct,
						"slope_window": slopeWindow,
					})
				}
			}
		}
	}
	return grid
}

func sizingRegimeGrid() []Params {
	var grid []Params
	for _, regimeLen := range []float64{100, 150, 200} {
		for _, slopeWindow := range []float64{0, 20} {
			for _, volWindow := range []float64{20, 40, 60} {
				for _, targetVol := range []float64{0.10, 0.15, 0.20} {
					grid = append(grid, Params{
						"regime_len":   regimeLen,
						"slope_window": slopeWindow,
						"vol_window":   volWindow,
						"target_vol":   targetVol,
					})
				}
			}
		}
	}
	return grid
}

func atrDipAddonGrid() []Params {
	var grid []Params
	for _, regimeLen := range []float64{150, 200} {
		for _, dipEMA := range []float64{20, 50} {
			for _, atrLen := range []float64{14, 20} {
				for _, dipATRMult := range []float64{1.0, 1.5, 2.0} {
					for _, baseWeight := range []float64{0.5, 0.7} {
						for _, addonWeight := range []float64{0.3, 0.5} {
							grid = append(grid, Params{
								"regime_len":   regimeLen,
								"dip_ema":      dipEMA,
								"atr_len":      atrLen,
								"dip_atr_mult": dipATRMult,
								"base_weight":  baseWeight,
								"addon_weight": addonWeight,
							})
						}
					}
				}
			}
		}
	}
	return grid
}

func breakoutOrDipGrid() []Params {
	var grid []Params
	for _, regimeLen := range []float64{150, 200} {
		for _, breakoutLen := range []float64{20, 50} {
			for _, dipEMA := range []float64{20, 50} {
				for _, dipPct := range []float64{1.0, 3.0} {
					for _, atrLen := range []float64{14, 20} {
						for _, atrMult := range []float64{3.0, 4.0, 5.0} {
							grid = append(grid, Params{
								"regime_len":   regimeLen,
								"breakout_len": breakoutLen,
								"dip_ema":      dipEMA,
								"dip_pct":      dipPct,
								"atr_len":      atrLen,
								"atr_mult":     atrMult,
							})
						}
					}
				}
			}
		}
	}
	return grid
}

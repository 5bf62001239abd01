package strategy

import (
	"math"

	"golang-backtest/internal/series"
)

// Signal generators map a price window to target weights, one per bar.
// Binary strategies emit 0 or 1; sizing strategies emit fractions in [0,1].
// Weights are computed from the close and lagging indicators only; the
// simulator applies the one-day execution delay.
//
// Indicators are computed from the window the generator is given, so EMA
// warmup is local to that window. That mirrors how the walk-forward folds
// evaluate candidates: each train or validation slice stands on its own.

// EMACrossover is long while EMA(fast) > EMA(slow).
func EMACrossover(s *series.Series, p Params) ([]float64, error) {
	fast, err := p.span("fast")
	if err != nil {
		return nil, err
	}
	slow, err := p.span("slow")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	emaF := series.EMA(closes, fast)
	emaS := series.EMA(closes, slow)

	sig := make([]float64, len(closes))
	for i := range closes {
		if emaF[i] > emaS[i] {
			sig[i] = 1
		}
	}
	return sig, nil
}

// RegimeFilter is long while the close sits above EMA(regime_len), with an
// optional requirement that the EMA rose over the last slope_window days.
func RegimeFilter(s *series.Series, p Params) ([]float64, error) {
	regimeLen, err := p.span("regime_len")
	if err != nil {
		return nil, err
	}
	slopeWindow, err := p.window("slope_window")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	ema := series.EMA(closes, regimeLen)
	slopeOK := slopePositive(ema, slopeWindow)

	sig := make([]float64, len(closes))
	for i := range closes {
		if closes[i] > ema[i] && slopeOK[i] {
			sig[i] = 1
		}
	}
	return sig, nil
}

// BuyDipInUptrend enters when the close pulls back near a short EMA while
// the long-EMA regime holds, then stays in until the regime breaks.
func BuyDipInUptrend(s *series.Series, p Params) ([]float64, error) {
	regimeLen, err := p.span("regime_len")
	if err != nil {
		return nil, err
	}
	dipEMA, err := p.span("dip_ema")
	if err != nil {
		return nil, err
	}
	dipPct, err := p.float("dip_pct")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	emaRegime := series.EMA(closes, regimeLen)
	emaDip := series.EMA(closes, dipEMA)

	sig := make([]float64, len(closes))
	inPosition := false
	for i := range closes {
		inRegime := closes[i] > emaRegime[i]
		nearDip := closes[i] <= emaDip[i]*(1+dipPct/100)

		if !inPosition {
			if inRegime && nearDip {
				inPosition = true
				sig[i] = 1
			}
		} else {
			if !inRegime {
				inPosition = false
			} else {
				sig[i] = 1
			}
		}
	}
	return sig, nil
}

// EMAATRStop enters on an EMA crossover and exits when the close falls
// below highest-close-since-entry minus atr_mult ATRs, or the crossover
// flips back.
func EMAATRStop(s *series.Series, p Params) ([]float64, error) {
	fast, err := p.span("fast")
	if err != nil {
		return nil, err
	}
	slow, err := p.span("slow")
	if err != nil {
		return nil, err
	}
	atrLen, err := p.span("atr_len")
	if err != nil {
		return nil, err
	}
	atrMult, err := p.float("atr_mult")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	emaF := series.EMA(closes, fast)
	emaS := series.EMA(closes, slow)
	atr := series.ATR(s.Highs(), s.Lows(), closes, atrLen)

	sig := make([]float64, len(closes))
	inPosition := false
	highestClose := 0.0
	for i := range closes {
		bullish := emaF[i] > emaS[i]

		if !inPosition {
			if bullish {
				inPosition = true
				highestClose = closes[i]
				sig[i] = 1
			}
		} else {
			highestClose = math.Max(highestClose, closes[i])
			stop := highestClose - atrMult*atr[i]
			if closes[i] < stop || !bullish {
				inPosition = false
			} else {
				sig[i] = 1
			}
		}
	}
	return sig, nil
}

// Composite combines the regime filter, a pullback entry band, and an ATR
// trailing stop.
func Composite(s *series.Series, p Params) ([]float64, error) {
	regimeLen, err := p.span("regime_len")
	if err != nil {
		return nil, err
	}
	slopeWindow, err := p.window("slope_window")
	if err != nil {
		return nil, err
	}
	entryEMA, err := p.span("entry_ema")
	if err != nil {
		return nil, err
	}
	entryBandPct, err := p.float("entry_band_pct")
	if err != nil {
		return nil, err
	}
	atrLen, err := p.span("atr_len")
	if err != nil {
		return nil, err
	}
	atrMult, err := p.float("atr_mult")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	emaRegime := series.EMA(closes, regimeLen)
	emaEntry := series.EMA(closes, entryEMA)
	atr := series.ATR(s.Highs(), s.Lows(), closes, atrLen)
	slopeOK := slopePositive(emaRegime, slopeWindow)

	sig := make([]float64, len(closes))
	inPosition := false
	highestClose := 0.0
	for i := range closes {
		inRegime := closes[i] > emaRegime[i] && slopeOK[i]
		entryTrigger := inRegime && closes[i] <= emaEntry[i]*(1+entryBandPct/100)

		if !inPosition {
			if entryTrigger {
				inPosition = true
				highestClose = closes[i]
				sig[i] = 1
			}
		} else {
			highestClose = math.Max(highestClose, closes[i])
			stop := highestClose - atrMult*atr[i]
			if closes[i] < stop || !inRegime {
				inPosition = false
			} else {
				sig[i] = 1
			}
		}
	}
	return sig, nil
}

// HysteresisRegime goes long when the close crosses above the upper band
// EMA*(1+upper_pct%) and flat when it crosses below EMA*(1-lower_pct%).
// Between the bands the previous state persists, which suppresses whipsaw
// round-trips near the EMA itself.
func HysteresisRegime(s *series.Series, p Params) ([]float64, error) {
	regimeLen, err := p.span("regime_len")
	if err != nil {
		return nil, err
	}
	upperPct, err := p.float("upper_pct")
	if err != nil {
		return nil, err
	}
	lowerPct, err := p.float("lower_pct")
	if err != nil {
		return nil, err
	}
	slopeWindow, err := p.window("slope_window")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	ema := series.EMA(closes, regimeLen)
	slopeOK := slopePositive(ema, slopeWindow)

	sig := make([]float64, len(closes))
	inPosition := false
	for i := range closes {
		upper := ema[i] * (1 + upperPct/100)
		lower := ema[i] * (1 - lowerPct/100)

		if !inPosition {
			if closes[i] > upper && slopeOK[i] {
				inPosition = true
				sig[i] = 1
			}
		} else {
			if closes[i] < lower {
				inPosition = false
			} else {
				sig[i] = 1
			}
		}
	}
	return sig, nil
}

// SizingRegime holds a fractional weight clamp(target_vol/realized_vol, 0, 1)
// while in regime, so calm uptrends get a fuller allocation than choppy ones.
func SizingRegime(s *series.Series, p Params) ([]float64, error) {
	regimeLen, err := p.span("regime_len")
	if err != nil {
		return nil, err
	}
	slopeWindow, err := p.window("slope_window")
	if err != nil {
		return nil, err
	}
	volWindow, err := p.span("vol_window")
	if err != nil {
		return nil, err
	}
	targetVol, err := p.float("target_vol")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	ema := series.EMA(closes, regimeLen)
	slopeOK := slopePositive(ema, slopeWindow)

	// Zero vol readings are treated as gaps: carry the last usable value
	// forward, and fall back to the target itself during warmup.
	rawVol := series.RealizedVol(closes, volWindow)
	vol := make([]float64, len(rawVol))
	last := math.NaN()
	for i, v := range rawVol {
		if v == 0 {
			v = math.NaN()
		}
		if !math.IsNaN(v) {
			last = v
		}
		if math.IsNaN(last) {
			vol[i] = targetVol
		} else {
			vol[i] = last
		}
	}

	sig := make([]float64, len(closes))
	for i := range closes {
		if closes[i] > ema[i] && slopeOK[i] {
			sig[i] = clamp01(targetVol / vol[i])
		}
	}
	return sig, nil
}

// ATRDipAddon holds base_weight while in regime and raises the weight to
// min(1, base+addon) during an ATR-deep dip below the short EMA. The add-on
// persists until the close recovers above the short EMA.
func ATRDipAddon(s *series.Series, p Params) ([]float64, error) {
	regimeLen, err := p.span("regime_len")
	if err != nil {
		return nil, err
	}
	dipEMA, err := p.span("dip_ema")
	if err != nil {
		return nil, err
	}
	atrLen, err := p.span("atr_len")
	if err != nil {
		return nil, err
	}
	dipATRMult, err := p.float("dip_atr_mult")
	if err != nil {
		return nil, err
	}
	baseWeight, err := p.float("base_weight")
	if err != nil {
		return nil, err
	}
	addonWeight, err := p.float("addon_weight")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	emaRegime := series.EMA(closes, regimeLen)
	emaDip := series.EMA(closes, dipEMA)
	atr := series.ATR(s.Highs(), s.Lows(), closes, atrLen)

	sig := make([]float64, len(closes))
	holdingAddon := false
	for i := range closes {
		if !(closes[i] > emaRegime[i]) {
			holdingAddon = false
			continue
		}

		w := baseWeight
		if closes[i] <= emaDip[i]-dipATRMult*atr[i] {
			holdingAddon = true
		}
		if holdingAddon {
			if closes[i] > emaDip[i] {
				holdingAddon = false
			} else {
				w = math.Min(1.0, baseWeight+addonWeight)
			}
		}
		sig[i] = w
	}
	return sig, nil
}

// BreakoutOrDip enters on either a breakout_len-day high or a pullback to
// the dip EMA band, provided the regime holds. Exits on an ATR trailing
// stop or a regime break.
func BreakoutOrDip(s *series.Series, p Params) ([]float64, error) {
	regimeLen, err := p.span("regime_len")
	if err != nil {
		return nil, err
	}
	breakoutLen, err := p.span("breakout_len")
	if err != nil {
		return nil, err
	}
	dipEMA, err := p.span("dip_ema")
	if err != nil {
		return nil, err
	}
	dipPct, err := p.float("dip_pct")
	if err != nil {
		return nil, err
	}
	atrLen, err := p.span("atr_len")
	if err != nil {
		return nil, err
	}
	atrMult, err := p.float("atr_mult")
	if err != nil {
		return nil, err
	}

	closes := s.Closes()
	highs := s.Highs()
	emaRegime := series.EMA(closes, regimeLen)
	emaDip := series.EMA(closes, dipEMA)
	highestN := series.RollingMax(highs, breakoutLen)
	atr := series.ATR(highs, s.Lows(), closes, atrLen)

	sig := make([]float64, len(closes))
	inPosition := false
	highestClose := 0.0
	for i := range closes {
		inRegime := closes[i] > emaRegime[i]
		breakout := closes[i] >= highestN[i] // false during rolling-max warmup
		dip := closes[i] <= emaDip[i]*(1+dipPct/100)
		entryTrigger := inRegime && (breakout || dip)

		if !inPosition {
			if entryTrigger {
				inPosition = true
				highestClose = closes[i]
				sig[i] = 1
			}
		} else {
			highestClose = math.Max(highestClose, closes[i])
			stop := highestClose - atrMult*atr[i]
			if closes[i] < stop || !inRegime {
				inPosition = false
			} else {
				sig[i] = 1
			}
		}
	}
	return sig, nil
}

// slopePositive reports whether an EMA rose over the trailing window.
// window <= 0 disables the check. During the diff warmup the comparison
// against NaN is false, so early bars never pass.
func slopePositive(ema []float64, window int) []bool {
	out := make([]bool, len(ema))
	if window <= 0 {
		for i := range out {
			out[i] = true
		}
		return out
	}
	d := series.Diff(ema, window)
	for i := range out {
		out[i] = d[i] > 0
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package series

import "math"

// Indicator helpers operate on raw float slices so strategies can run them
// on any window without re-slicing the series. Positions that do not have
// enough history yet are NaN; comparisons against NaN are false, which is
// exactly the warmup behavior the signal rules rely on.

// EMA computes an exponential moving average with alpha = 2/(span+1),
// seeded at the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// TrueRange computes max(high-low, |high-prevClose|, |low-prevClose|).
// The first bar has no prior close, so it falls back to high-low.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		hl := highs[i] - lows[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR smooths the true range with the same span-form EMA the trend filters
// use, not the Wilder form.
func ATR(highs, lows, closes []float64, span int) []float64 {
	return EMA(TrueRange(highs, lows, closes), span)
}

// RSI computes the Wilder relative strength index (alpha = 1/period).
func RSI(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 1.0 / float64(period)
	out[0] = math.NaN()

	var avgGain, avgLoss float64
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}
		if avgLoss == 0 {
			out[i] = 100
		} else {
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// Diff returns values[i] - values[i-lag], NaN where no lagged value exists.
func Diff(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < lag {
			out[i] = math.NaN()
		} else {
			out[i] = values[i] - values[i-lag]
		}
	}
	return out
}

// RollingMax returns the maximum over the trailing window ending at each
// position, NaN until a full window is available.
func RollingMax(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		m := values[i]
		for j := i - window + 1; j < i; j++ {
			if values[j] > m {
				m = values[j]
			}
		}
		out[i] = m
	}
	return out
}

// RealizedVol computes the annualized rolling standard deviation of
// day-over-day returns (sample std, sqrt(252) scaling). Positions without
// a full window of returns are NaN; the return at index 0 is undefined,
// so the first valid output is at index window.
func RealizedVol(closes []float64, window int) []float64 {
	out := make([]float64, len(closes))
	rets := make([]float64, len(closes))
	for i := range closes {
		out[i] = math.NaN()
		if i == 0 {
			rets[i] = math.NaN()
		} else {
			rets[i] = closes[i]/closes[i-1] - 1
		}
	}
	if window < 2 {
		return out
	}
	for i := window; i < len(closes); i++ {
		var sum float64
		for j := i - window + 1; j <= i; j++ {
			sum += rets[j]
		}
		mean := sum / float64(window)
		var ss float64
		for j := i - window + 1; j <= i; j++ {
			d := rets[j] - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(window-1))
		out[i] = std * math.Sqrt(252)
	}
	return out
}

package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-backtest/internal/series"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

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

// waveSeries is a drifting sine wave, enough texture to swing every
// strategy through entries and exits.
func waveSeries(n int) *series.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 * (1 + 0.0004*float64(i)) * (1 + 0.05*math.Sin(float64(i)/25))
	}
	return dailySeries(day(2015, 1, 1), closes...)
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestEMACrossover(t *testing.T) {
	t.Run("rising closes go long after the first bar", func(t *testing.T) {
		s := dailySeries(day(2020, 1, 1), ramp(100, 1, 30)...)
		sig, err := EMACrossover(s, Params{"fast": 3, "slow": 10})
		require.NoError(t, err)

		assert.Equal(t, 0.0, sig[0], "both EMAs seed at the first close")
		for i := 1; i < len(sig); i++ {
			assert.Equal(t, 1.0, sig[i], "bar %d", i)
		}
	})

	t.Run("falling closes stay flat", func(t *testing.T) {
		s := dailySeries(day(2020, 1, 1), ramp(200, -1, 30)...)
		sig, err := EMACrossover(s, Params{"fast": 3, "slow": 10})
		require.NoError(t, err)

		for i, v := range sig {
			assert.Equal(t, 0.0, v, "bar %d", i)
		}
	})
}

func TestRegimeFilter_SlopeWindowGatesEarlyBars(t *testing.T) {
	s := dailySeries(day(2020, 1, 1), ramp(100, 1, 30)...)

	sig, err := RegimeFilter(s, Params{"regime_len": 5, "slope_window": 10})
	require.NoError(t, err)

	// The slope diff is undefined for the first slope_window bars, and an
	// undefined slope never passes.
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0.0, sig[i], "bar %d inside slope warmup", i)
	}
	for i := 10; i < len(sig); i++ {
		assert.Equal(t, 1.0, sig[i], "bar %d", i)
	}

	noSlope, err := RegimeFilter(s, Params{"regime_len": 5, "slope_window": 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, noSlope[1], "slope_window=0 disables the gate")
}

func TestBuyDipInUptrend(t *testing.T) {
	// Steep ramp keeps the close well above the dip EMA, so with a zero
	// band there is no entry until the price actually pulls back to it.
	closes := ramp(100, 1, 60)         // bars 0..59: 100..159
	closes = append(closes, 149)       // bar 60: pullback to the dip EMA
	closes = append(closes, 150, 151, 152, 153)
	closes = append(closes, 100, 100, 100, 100, 100) // bar 65: regime break

	s := dailySeries(day(2020, 1, 1), closes...)
	sig, err := BuyDipInUptrend(s, Params{"regime_len": 150, "dip_ema": 20, "dip_pct": 0})
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		assert.Equal(t, 0.0, sig[i], "bar %d before the pullback", i)
	}
	assert.Equal(t, 1.0, sig[60], "enters on the pullback")
	assert.Equal(t, 1.0, sig[64], "holds through the recovery")
	assert.Equal(t, 0.0, sig[65], "exits when the regime breaks")
	assert.Equal(t, 0.0, sig[69])
}

func TestEMAATRStop_ExitsOnStopNotCrossover(t *testing.T) {
	closes := ramp(100, 1, 40)   // bars 0..39: 100..139
	closes = append(closes, 130) // bar 40: sharp drop through the trail
	closes = append(closes, 131) // bar 41: crossover still bullish

	s := dailySeries(day(2020, 1, 1), closes...)
	sig, err := EMAATRStop(s, Params{"fast": 5, "slow": 20, "atr_len": 14, "atr_mult": 2.0})
	require.NoError(t, err)

	assert.Equal(t, 0.0, sig[0])
	assert.Equal(t, 1.0, sig[1], "enters once the fast EMA pulls ahead")
	assert.Equal(t, 1.0, sig[39])
	assert.Equal(t, 0.0, sig[40], "a 9-point drop breaches highest-close minus 2 ATRs")
	assert.Equal(t, 1.0, sig[41], "re-enters immediately while the crossover holds")
}

func TestHysteresisRegime(t *testing.T) {
	closes := make([]float64, 0, 53)
	for i := 0; i < 50; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 105, 100, 95)

	s := dailySeries(day(2020, 1, 1), closes...)
	sig, err := HysteresisRegime(s, Params{
		"regime_len":   50,
		"upper_pct":    1.0,
		"lower_pct":    2.0,
		"slope_window": 0,
	})
	require.NoError(t, err)

	// Flat at the EMA: never above the upper band.
	for i := 0; i < 50; i++ {
		assert.Equal(t, 0.0, sig[i], "bar %d", i)
	}
	assert.Equal(t, 1.0, sig[50], "105 clears EMA*(1+1%)")
	assert.Equal(t, 1.0, sig[51], "100 sits between the bands, state persists")
	assert.Equal(t, 0.0, sig[52], "95 breaks EMA*(1-2%)")
}

func TestSizingRegime(t *testing.T) {
	t.Run("zero-vol ramp sizes to full weight", func(t *testing.T) {
		// Constant geometric growth has zero realized vol, which the
		// generator treats as missing and fills with the target itself.
		closes := make([]float64, 80)
		for i := range closes {
			closes[i] = 100 * math.Pow(1.001, float64(i))
		}
		s := dailySeries(day(2020, 1, 1), closes...)

		sig, err := SizingRegime(s, Params{
			"regime_len":   20,
			"slope_window": 0,
			"vol_window":   20,
			"target_vol":   0.15,
		})
		require.NoError(t, err)

		assert.Equal(t, 0.0, sig[0])
		for i := 1; i < len(sig); i++ {
			assert.Equal(t, 1.0, sig[i], "bar %d", i)
		}
	})

	t.Run("choppy uptrend gets a fractional weight", func(t *testing.T) {
		closes := make([]float64, 80)
		for i := range closes {
			closes[i] = 100*(1+0.002*float64(i)) + 2*float64(i%2)
		}
		s := dailySeries(day(2020, 1, 1), closes...)

		sig, err := SizingRegime(s, Params{
			"regime_len":   20,
			"slope_window": 0,
			"vol_window":   20,
			"target_vol":   0.15,
		})
		require.NoError(t, err)

		sawFraction := false
		for i, v := range sig {
			assert.GreaterOrEqual(t, v, 0.0, "bar %d", i)
			assert.LessOrEqual(t, v, 1.0, "bar %d", i)
			if i >= 30 && v > 0 && v < 1 {
				sawFraction = true
			}
		}
		assert.True(t, sawFraction, "a two-point daily swing annualizes far above the target vol")
	})
}

func TestATRDipAddon(t *testing.T) {
	closes := ramp(100, 0.2, 100) // bars 0..99: 100..119.8
	closes = append(closes, 112)  // bar 100: dip an ATR below the short EMA
	closes = append(closes, 113)  // bar 101: still below the short EMA
	closes = append(closes, 119)  // bar 102: recovers above it

	s := dailySeries(day(2020, 1, 1), closes...)
	sig, err := ATRDipAddon(s, Params{
		"regime_len":   150,
		"dip_ema":      20,
		"atr_len":      14,
		"dip_atr_mult": 1.0,
		"base_weight":  0.7,
		"addon_weight": 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, sig[0], "seed bar is not above its own EMA")
	for i := 1; i < 100; i++ {
		assert.Equal(t, 0.7, sig[i], "bar %d rides the base weight", i)
	}
	assert.Equal(t, 1.0, sig[100], "dip add-on caps at full weight")
	assert.Equal(t, 1.0, sig[101], "add-on persists below the short EMA")
	assert.Equal(t, 0.7, sig[102], "recovery sheds the add-on")
}

func TestBreakoutOrDip(t *testing.T) {
	t.Run("dip entry and regime-break exit", func(t *testing.T) {
		closes := make([]float64, 0, 90)
		for i := 0; i < 60; i++ {
			closes = append(closes, 100)
		}
		closes = append(closes, ramp(100.5, 0.5, 20)...) // bars 60..79 rising
		for i := 0; i < 10; i++ {
			closes = append(closes, 85) // bars 80..89 regime break
		}

		s := dailySeries(day(2020, 1, 1), closes...)
		sig, err := BreakoutOrDip(s, Params{
			"regime_len":   150,
			"breakout_len": 20,
			"dip_ema":      20,
			"dip_pct":      1.0,
			"atr_len":      14,
			"atr_mult":     3.0,
		})
		require.NoError(t, err)

		for i := 0; i < 60; i++ {
			assert.Equal(t, 0.0, sig[i], "flat bar %d is not a regime", i)
		}
		for i := 60; i < 80; i++ {
			assert.Equal(t, 1.0, sig[i], "bar %d", i)
		}
		for i := 80; i < 90; i++ {
			assert.Equal(t, 0.0, sig[i], "bar %d after the regime break", i)
		}
	})

	t.Run("breakout entry waits out the rolling-max warmup", func(t *testing.T) {
		// Highs equal to closes make every new bar of a rising series a
		// breakout, so the first defined rolling max is the entry bar.
		bars := make([]series.Bar, 30)
		for i := range bars {
			c := 100 + float64(i)
			bars[i] = series.Bar{
				Date:  day(2020, 1, 1).AddDate(0, 0, i),
				Open:  c,
				High:  c,
				Low:   c * 0.99,
				Close: c,
			}
		}
		s := series.New("TEST", bars)

		sig, err := BreakoutOrDip(s, Params{
			"regime_len":   150,
			"breakout_len": 20,
			"dip_ema":      20,
			"dip_pct":      1.0,
			"atr_len":      14,
			"atr_mult":     3.0,
		})
		require.NoError(t, err)

		for i := 0; i < 19; i++ {
			assert.Equal(t, 0.0, sig[i], "bar %d inside the 20-day warmup", i)
		}
		for i := 19; i < 30; i++ {
			assert.Equal(t, 1.0, sig[i], "bar %d", i)
		}
	})
}

func TestWeightsStayInRange(t *testing.T) {
	s := waveSeries(400)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			spec, err := Get(name)
			require.NoError(t, err)

			sig, err := spec.Func(s, spec.Grid()[0])
			require.NoError(t, err)
			require.Len(t, sig, s.Len())

			for i, v := range sig {
				if spec.Fractional {
					assert.GreaterOrEqual(t, v, 0.0, "bar %d", i)
					assert.LessOrEqual(t, v, 1.0, "bar %d", i)
				} else {
					assert.True(t, v == 0 || v == 1, "bar %d: binary strategy emitted %v", i, v)
				}
			}
		})
	}
}

func TestMissingParameters(t *testing.T) {
	s := waveSeries(50)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			spec, err := Get(name)
			require.NoError(t, err)

			_, err = spec.Func(s, Params{})
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

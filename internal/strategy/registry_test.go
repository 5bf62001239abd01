package strategy

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	spec, err := Get("A_ema_crossover")
	require.NoError(t, err)
	assert.Equal(t, "A_ema_crossover", spec.Name)
	assert.NotNil(t, spec.Func)
	assert.NotNil(t, spec.Grid)

	_, err = Get("Z_does_not_exist")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Len(t, names, 9)
	assert.True(t, sort.StringsAreSorted(names))
}

func TestDDCapNames(t *testing.T) {
	for _, name := range DDCapNames() {
		_, err := Get(name)
		assert.NoError(t, err, "dd-cap candidate %s must be registered", name)
	}
}

func TestGridSizes(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"A_ema_crossover", 15}, // 16 pairs minus the fast==slow==50 combination
		{"B_regime_filter", 12},
		{"C_buy_dip_uptrend", 16},
		{"D_ema_atr_stop", 54},
		{"E_composite", 144},
		{"F_hysteresis_regime", 54},
		{"G_sizing_regime", 54},
		{"H_atr_dip_addon", 96},
		{"I_breakout_or_dip", 96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Get(tt.name)
			require.NoError(t, err)
			assert.Len(t, spec.Grid(), tt.want)
		})
	}
}

func TestAxesCoverGridParameters(t *testing.T) {
	for _, name := range Names() {
		spec, err := Get(name)
		require.NoError(t, err)

		grid := spec.Grid()
		require.NotEmpty(t, grid)

		for key := range grid[0] {
			values, ok := spec.Axes[key]
			assert.True(t, ok, "%s: grid parameter %s missing from Axes", name, key)
			assert.NotEmpty(t, values)
		}
	}
}

func TestGridValuesOnAxes(t *testing.T) {
	// Every value a grid enumerates must sit on the declared axis, or the
	// sensitivity pass would nudge toward values the optimizer never saw.
	for _, name := range Names() {
		spec, err := Get(name)
		require.NoError(t, err)

		for _, p := range spec.Grid() {
			for key, v := range p {
				assert.Contains(t, spec.Axes[key], v, "%s: %s=%v not on axis", name, key, v)
			}
		}
	}
}

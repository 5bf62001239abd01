package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams_Key(t *testing.T) {
	p := Params{"slow": 200, "fast": 20}
	assert.Equal(t, "fast=20,slow=200", p.Key(), "keys are sorted")

	withFraction := Params{"target_vol": 0.15}
	assert.Equal(t, "target_vol=0.15", withFraction.Key())

	assert.Equal(t, "", Params{}.Key())
}

func TestParams_Clone(t *testing.T) {
	p := Params{"a": 1}
	c := p.Clone()
	c["a"] = 2
	c["b"] = 3

	assert.Equal(t, 1.0, p["a"], "clone does not write through")
	_, ok := p["b"]
	assert.False(t, ok)
}

func TestParams_Without(t *testing.T) {
	p := Params{"fast": 10, RiskScaleKey: 0.5}
	got := p.Without(RiskScaleKey)

	_, ok := got[RiskScaleKey]
	assert.False(t, ok)
	assert.Equal(t, 10.0, got["fast"])
	assert.Equal(t, 0.5, p[RiskScaleKey], "original untouched")
}

func TestParams_Accessors(t *testing.T) {
	p := Params{"len": 20, "off": 0, "neg": -1}

	n, err := p.span("len")
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	_, err = p.span("missing")
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = p.span("off")
	assert.ErrorIs(t, err, ErrInvalidParameter, "a span must be at least 1")

	w, err := p.window("off")
	require.NoError(t, err)
	assert.Equal(t, 0, w, "zero disables a window filter")

	_, err = p.window("neg")
	assert.ErrorIs(t, err, ErrInvalidParameter)

	v, err := p.float("len")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)

	_, err = p.float("missing")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidParameter reports a parameter set a generator cannot run with:
// a missing key or a lookback that is not a usable length.
var ErrInvalidParameter = errors.New("invalid strategy parameter")

// RiskScaleKey marks the post-signal exposure multiplier in an expanded
// grid. Generators never see it; the runner strips it and scales the raw
// weights instead.
const RiskScaleKey = "risk_scale"

// Params is one point in a strategy's parameter grid. Values are float64
// across the board; period-like parameters are truncated on read.
type Params map[string]float64

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Without returns a copy with one key removed.
func (p Params) Without(key string) Params {
	out := make(Params, len(p))
	for k, v := range p {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// Key renders the params as a stable "k=v" string, sorted by key. Used as
// a map key when aggregating results for the same parameter set across
// folds, and as the human-readable form in reports.
func (p Params) Key() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatFloat(p[k], 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

// span reads a lookback length parameter, which must be at least 1.
func (p Params) span(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidParameter, key)
	}
	n := int(v)
	if n < 1 {
		return 0, fmt.Errorf("%w: %q must be >= 1, got %v", ErrInvalidParameter, key, v)
	}
	return n, nil
}

// window reads a lookback where 0 means the filter is disabled.
func (p Params) window(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidParameter, key)
	}
	n := int(v)
	if n < 0 {
		return 0, fmt.Errorf("%w: %q must be >= 0, got %v", ErrInvalidParameter, key, v)
	}
	return n, nil
}

func (p Params) float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidParameter, key)
	}
	return v, nil
}

package series

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrMalformedSeries reports a series whose bars violate the ordering or
	// positivity guarantees that the simulator depends on.
	ErrMalformedSeries = errors.New("malformed price series")

	// ErrEmptySeries reports an operation that needs at least one bar.
	ErrEmptySeries = errors.New("empty price series")
)

// Bar is one daily OHLCV observation. Date is normalized to midnight UTC.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Series is a chronologically ordered run of daily bars for one instrument.
// The zero value is an empty series.
type Series struct {
	Symbol string
	Bars   []Bar
}

func New(symbol string, bars []Bar) *Series {
	return &Series{Symbol: symbol, Bars: bars}
}

func (s *Series) Len() int {
	return len(s.Bars)
}

// Clean normalizes raw bars into simulator-ready form: sorts ascending by
// date, keeps the first bar of any duplicated date, and then drops bars
// whose close is non-positive or NaN.
func (s *Series) Clean() *Series {
	bars := make([]Bar, len(s.Bars))
	copy(bars, s.Bars)

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})

	deduped := bars[:0]
	for i, b := range bars {
		if i > 0 && b.Date.Equal(deduped[len(deduped)-1].Date) {
			continue
		}
		deduped = append(deduped, b)
	}

	cleaned := make([]Bar, 0, len(deduped))
	for _, b := range deduped {
		if !(b.Close > 0) { // also rejects NaN
			continue
		}
		cleaned = append(cleaned, b)
	}

	return &Series{Symbol: s.Symbol, Bars: cleaned}
}

// Validate confirms the invariants Clean establishes: strictly increasing
// dates and positive closes.
func (s *Series) Validate() error {
	for i, b := range s.Bars {
		if !(b.Close > 0) {
			return ErrMalformedSeries
		}
		if i > 0 && !s.Bars[i-1].Date.Before(b.Date) {
			return ErrMalformedSeries
		}
	}
	return nil
}

// Between returns the sub-series with start <= date < end. The slice shares
// backing storage with the parent; callers must not mutate bars.
func (s *Series) Between(start, end time.Time) *Series {
	lo := sort.Search(len(s.Bars), func(i int) bool {
		return !s.Bars[i].Date.Before(start)
	})
	hi := sort.Search(len(s.Bars), func(i int) bool {
		return !s.Bars[i].Date.Before(end)
	})
	return &Series{Symbol: s.Symbol, Bars: s.Bars[lo:hi]}
}

// From returns the sub-series with date >= start.
func (s *Series) From(start time.Time) *Series {
	lo := sort.Search(len(s.Bars), func(i int) bool {
		return !s.Bars[i].Date.Before(start)
	})
	return &Series{Symbol: s.Symbol, Bars: s.Bars[lo:]}
}

func (s *Series) FirstDate() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[0].Date
}

func (s *Series) LastDate() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[len(s.Bars)-1].Date
}

func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

func (s *Series) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

func (s *Series) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Date
	}
	return out
}

// CloseReturns computes day-over-day close-to-close percentage changes.
// The first element is 0 since there is no prior close.
func (s *Series) CloseReturns() []float64 {
	out := make([]float64, len(s.Bars))
	for i := 1; i < len(s.Bars); i++ {
		out[i] = s.Bars[i].Close/s.Bars[i-1].Close - 1
	}
	return out
}

package utils

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for trading dates. Daily bars carry no
// intraday component, so everything is normalized to midnight UTC.
const DateLayout = "2006-01-02"

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t.UTC(), nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// YearsBetween measures the calendar span between two dates in years,
// using the 365.25-day year that annualized growth rates are quoted in.
func YearsBetween(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24.0 / 365.25
}

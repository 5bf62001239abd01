package utils

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"

	"golang-backtest/pkg/logger"
)

// GoSafe runs the given function in a new goroutine and recovers from any panic.
func GoSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Panic Recovered] %v", r)
			}
		}()
		fn()
	}()
}

func ShouldContinue(ctx context.Context, log *logger.Logger) bool {
	select {
	case <-ctx.Done():
		pc, _, _, ok := runtime.Caller(1)
		funcName := "unknown"
		if ok {
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				parts := strings.Split(fn.Name(), "/")
				funcName = parts[len(parts)-1]
			}
		}

		log.Warn("Context cancelled",
			logger.StringField("caller", funcName),
		)
		return false
	default:
		return true
	}
}

// FormatPercentage renders a fractional value (0.12 -> "+12.0%").
func FormatPercentage(value float64) string {
	return fmt.Sprintf("%+.1f%%", value*100)
}

// FormatRatio renders a unitless ratio metric with two decimals.
func FormatRatio(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

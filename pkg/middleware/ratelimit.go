package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"golang-backtest/pkg/ratelimit"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRateLimiter throttles API clients per IP. Triggering a research run is
// expensive, and the status endpoints are meant for polling, so the budget
// allows a steady poll loop but not a hammering client.
func NewRateLimiter() echo.MiddlewareFunc {
	config := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store:   ratelimit.NewLimiterStore(rate.Limit(10), 20),

		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},

		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, errorResponse{
				Code:    http.StatusForbidden,
				Message: "could not identify client for rate limiting",
			})
		},

		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, errorResponse{
				Code:    http.StatusTooManyRequests,
				Message: "rate limit exceeded, slow down the poll loop",
			})
		},
	}

	return middleware.RateLimiterWithConfig(config)
}

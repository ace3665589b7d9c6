package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/pscheid92/syncpulse/internal/adapter/metrics"
	apperrors "github.com/pscheid92/syncpulse/internal/platform/errors"
)

const (
	rateLimiterExpiry = 5 * time.Minute

	notificationRate  = 10
	notificationBurst = 20
)

// newRateLimiter limits plain request routes per client IP. Refusals are
// written here: echo's rate limiter hands the deny result to the router's
// error handler, bypassing ErrorHandlingMiddleware. httpMetrics may be nil.
func newRateLimiter(ratePerSecond float64, burst int, httpMetrics *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return renderError(c, httpMetrics, apperrors.RateLimitedError("rate limit exceeded"))
		},
	})
}

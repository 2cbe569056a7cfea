package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/logger"
)

const codeRateLimited = "rate_limited"

// LoggingMiddleware logs every request with its outcome and latency.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			GetLogger().Debug("API request",
				logger.String("method", req.Method),
				logger.String("path", req.URL.Path),
				logger.String("query", req.URL.RawQuery),
				logger.Int("status", ctx.Response().Status),
				logger.String("ip", ctx.RealIP()),
				logger.Int64("latency_ms", time.Since(start).Milliseconds()))
			return err
		}
	}
}

// rateLimiter builds the per-client limiter from settings.
func rateLimiter(settings *conf.RateLimitSettings) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(settings.Rate),
				Burst:     settings.Burst,
				ExpiresIn: settings.ExpiresIn,
			},
		),
		IdentifierExtractor: middleware.DefaultRateLimiterConfig.IdentifierExtractor,
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, NewErrorResponse(err, "Unable to identify client"))
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			resp := NewErrorResponse(err, "Rate limit exceeded")
			resp.Code = codeRateLimited
			return ctx.JSON(http.StatusTooManyRequests, resp)
		},
	})
}

func corsMiddleware(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		return middleware.CORS()
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	})
}

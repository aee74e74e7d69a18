package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one line per admin API request. The request id is read from
// the response header set by echo's RequestID middleware.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// Render now so the logged status matches the response.
				c.Error(err)
			}

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("request_id", requestID(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

func requestID(c echo.Context) string {
	if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
		return rid
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}

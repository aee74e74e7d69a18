package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const stackSize = 4 << 10

// Recovery turns a handler panic in the admin API into a 500 whose body
// carries the request id, so an operator can find the matching log line.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	log := logger.With().Str("component", "admin-api").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				err = panicError(log, c, r)
			}()
			return next(c)
		}
	}
}

func panicError(log zerolog.Logger, c echo.Context, r any) error {
	stack := make([]byte, stackSize)
	stack = stack[:runtime.Stack(stack, false)]

	rid := requestID(c)
	log.Error().
		Str("request_id", rid).
		Str("method", c.Request().Method).
		Str("route", c.Path()).
		Str("panic", fmt.Sprint(r)).
		Bytes("stack", stack).
		Msg("admin handler panicked")

	body := map[string]string{"error": "internal server error"}
	if rid != "" {
		body["request_id"] = rid
	}
	return echo.NewHTTPError(http.StatusInternalServerError, body)
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AdminAuth requires "Authorization: Bearer <token>" on every request. An
// empty token disables the check, which config only permits outside
// production.
func AdminAuth(token string, logger zerolog.Logger) echo.MiddlewareFunc {
	if token == "" {
		logger.Warn().Msg("admin API authentication disabled: ADMIN_TOKEN is empty")
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	want := []byte(token)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, got, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="admin"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				logger.Warn().
					Str("remote_ip", c.RealIP()).
					Str("path", c.Request().URL.Path).
					Msg("rejected admin request")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			return next(c)
		}
	}
}

package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// ledgerListResponse is the response for GET /tokens.
type ledgerListResponse struct {
	Count   int           `json:"count"`
	Entries []LedgerEntry `json:"entries"`
}

// RegisterLedgerRoutes mounts the issued-token endpoints on an already
// authenticated admin group.
func RegisterLedgerRoutes(g *echo.Group, ledger *Ledger, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	g.GET("/tokens", handleListTokens(ledger, now))
	g.DELETE("/tokens/:id", handleRevokeToken(ledger))
}

func handleListTokens(ledger *Ledger, now func() time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := ledger.Active(now())
		return c.JSON(http.StatusOK, ledgerListResponse{
			Count:   len(entries),
			Entries: entries,
		})
	}
}

func handleRevokeToken(ledger *Ledger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "token id is required")
		}
		if err := ledger.Revoke(id); err != nil {
			if errors.Is(err, ErrUnknownToken) {
				return echo.NewHTTPError(http.StatusNotFound, "token not found")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

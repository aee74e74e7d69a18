package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// Check is one named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
	// Details, when set, adds extra fields to the response (e.g. pool stats).
	Details func() any
}

// PoolCheck probes the database pool.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{
		Name:  "database",
		Probe: pool.Ping,
		Details: func() any {
			stat := pool.Stat()
			return &PoolStats{
				TotalConns:    stat.TotalConns(),
				IdleConns:     stat.IdleConns(),
				AcquiredConns: stat.AcquiredConns(),
				MaxConns:      stat.MaxConns(),
			}
		},
	}
}

type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// HealthHandler runs every check with a shared 5 second budget and returns
// 503 if any of them fails.
func HealthHandler(checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]checkResult, len(checks))
		for _, chk := range checks {
			res := checkResult{Status: "healthy"}
			if err := chk.Probe(ctx); err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
				status = http.StatusServiceUnavailable
			}
			if chk.Details != nil {
				res.Details = chk.Details()
			}
			results[chk.Name] = res
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		return c.JSON(status, map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns settings suited to an operator-facing API.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
	}
}

type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimitConfig
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)
		s.limiters[key] = lim
	}
	return lim
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := &limiterStore{limiters: make(map[string]*rate.Limiter), cfg: cfg}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := store.get(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			now := time.Now()
			r := lim.ReserveN(now, 1)
			if !r.OK() {
				h.Set("Retry-After", "1")
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := r.DelayFrom(now); delay > 0 {
				r.CancelAt(now)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

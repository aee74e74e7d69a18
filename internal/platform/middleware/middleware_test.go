package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLogger_RecordsRequestID(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(echomw.RequestID())
	e.Use(Logger(zerolog.New(&buf)))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	rid := rec.Header().Get(echo.HeaderXRequestID)
	if rid == "" || line["request_id"] != rid {
		t.Errorf("expected request_id %q in log, got %v", rid, line["request_id"])
	}
	if line["status"].(float64) != 200 {
		t.Errorf("expected status 200 logged, got %v", line["status"])
	}
}

func TestLogger_LogsErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(Logger(zerolog.New(&buf)))
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "error" || line["status"].(float64) != 404 {
		t.Errorf("unexpected log line %v", line)
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(echomw.RequestID())
	e.Use(Recovery(zerolog.New(&buf)))
	e.GET("/admin/rooms/:key", func(c echo.Context) error { panic("kaboom") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/admin/rooms/abc", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%q)", err, rec.Body.String())
	}
	rid := rec.Header().Get(echo.HeaderXRequestID)
	if rid == "" || body["request_id"] != rid {
		t.Errorf("expected request_id %q in body, got %v", rid, body)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["panic"] != "kaboom" || line["route"] != "/admin/rooms/:key" || line["component"] != "admin-api" {
		t.Errorf("unexpected log line %v", line)
	}
}

func adminServer(token string) *echo.Echo {
	e := echo.New()
	g := e.Group("/admin", AdminAuth(token, zerolog.Nop()))
	g.GET("/bindings", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	return e
}

func TestAdminAuth(t *testing.T) {
	e := adminServer("s3cret")
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusNoContent},
		{"lowercase scheme", "bearer s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/bindings", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			if rec := serve(e, req); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAdminAuth_EmptyTokenDisablesCheck(t *testing.T) {
	rec := serve(adminServer(""), httptest.NewRequest(http.MethodGet, "/admin/bindings", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		last = serve(e, req)
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	other := httptest.NewRequest(http.MethodGet, "/x", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	if rec := serve(e, other); rec.Code != http.StatusOK {
		t.Errorf("expected separate bucket per IP, got %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/x", func(c echo.Context) error { return errors.New("fail") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected no-store header")
	}
}

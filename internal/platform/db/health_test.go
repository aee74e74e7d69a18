package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runHealth(t *testing.T, checks ...Check) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	rec, body := runHealth(t,
		Check{Name: "database", Probe: func(context.Context) error { return nil }},
		Check{Name: "audit", Probe: func(context.Context) error { return nil }},
	)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestHealthHandler_OneFailing(t *testing.T) {
	rec, body := runHealth(t,
		Check{Name: "database", Probe: func(context.Context) error { return errors.New("connection refused") }},
		Check{Name: "audit", Probe: func(context.Context) error { return nil }},
	)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	checks, _ := body["checks"].(map[string]interface{})
	dbCheck, _ := checks["database"].(map[string]interface{})
	if dbCheck["error"] != "connection refused" {
		t.Errorf("expected error to be reported, got %v", dbCheck)
	}
}

func TestHealthHandler_Details(t *testing.T) {
	_, body := runHealth(t, Check{
		Name:    "database",
		Probe:   func(context.Context) error { return nil },
		Details: func() any { return &PoolStats{MaxConns: 10} },
	})
	checks := body["checks"].(map[string]interface{})
	details := checks["database"].(map[string]interface{})["details"].(map[string]interface{})
	if details["max_conns"].(float64) != 10 {
		t.Errorf("expected max_conns 10, got %v", details["max_conns"])
	}
}

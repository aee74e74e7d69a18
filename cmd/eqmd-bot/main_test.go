package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/config"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/binding"
	"github.com/carlosapgomes/eqmd-sub012/internal/domain/dmroom"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/audit"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/db"
)

func localConfig() *config.Config {
	return &config.Config{
		Env:             "test",
		StoreDriver:     "memory",
		TokenMode:       "local",
		TokenSigningKey: strings.Repeat("ab", 32),
		TokenIssuer:     "eqmd-bot",
		TokenAudience:   "eqmd-directory",
		BotClientID:     "eqmd-bot",
		BotMaxScopes:    "patient:search,patient:read",
		TokenLifetime:   5 * time.Minute,
		AuditDir:        os.TempDir(),
	}
}

func TestNewTokenService_Local(t *testing.T) {
	svc, err := newTokenService(localConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("newTokenService: %v", err)
	}
	tok, err := svc.Issue(context.Background(), auth.PatientSearch)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !tok.Allows(auth.PatientSearch) || tok.Allows(auth.PatientRead) {
		t.Errorf("unexpected scopes %s", tok.Scopes)
	}
	if err := svc.Check(tok); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
}

func TestNewIssuer_UnknownMode(t *testing.T) {
	cfg := localConfig()
	cfg.TokenMode = "magic"
	if _, err := newIssuer(cfg); err == nil {
		t.Fatal("expected error for unknown token mode")
	}
}

func TestOpenStores_Memory(t *testing.T) {
	st, err := openStores(context.Background(), localConfig())
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer st.Close()
	if st.pool != nil {
		t.Error("memory driver should not open a pool")
	}
	if st.bindings == nil || st.rooms == nil {
		t.Error("expected repositories")
	}
}

func newTestAdmin(t *testing.T, token string) http.Handler {
	t.Helper()
	cfg := localConfig()
	cfg.AdminToken = token
	cfg.AuditDir = t.TempDir()

	st, err := openStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	svc := binding.NewService(st.bindings, zerolog.Nop())
	registry := dmroom.NewRegistry(st.rooms, svc, nil, zerolog.Nop())
	return newAdminServer(cfg, zerolog.Nop(), st, svc, registry, auth.NewLedger())
}

func TestAdminServer_Health(t *testing.T) {
	h := newTestAdmin(t, "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"audit"`) {
		t.Errorf("expected audit check in body, got %s", rec.Body.String())
	}
}

func TestAdminServer_RequiresToken(t *testing.T) {
	h := newTestAdmin(t, "s3cret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/bindings", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/bindings", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
}

func TestAdminServer_TokenLedger(t *testing.T) {
	h := newTestAdmin(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tokens", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPrintBindings(t *testing.T) {
	var buf bytes.Buffer
	b := &binding.Binding{
		ChatUserID:   "@maria:hosp.local",
		SurrogateKey: uuid.MustParse("6f1c2f5e-7d0a-4a53-9b1e-2f1d0c3a4b5c"),
		Verified:     true,
		Active:       true,
		UpdatedAt:    time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	if err := printBindings(&buf, []*binding.Binding{b}); err != nil {
		t.Fatalf("printBindings: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"CHAT USER", "@maria:hosp.local", "6f1c2f5e-7d0a-4a53-9b1e-2f1d0c3a4b5c", "2026-03-10T14:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintMigrations(t *testing.T) {
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := printMigrations(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_identity_bindings.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_dm_rooms.sql"},
	})
	if err != nil {
		t.Fatalf("printMigrations: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "applied") || !strings.Contains(lines[1], "2026-03-10 14:00:00") {
		t.Errorf("unexpected applied row %q", lines[1])
	}
	if !strings.Contains(lines[2], "pending") {
		t.Errorf("unexpected pending row %q", lines[2])
	}
}

func TestAuditPruneCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUDIT_DIR", dir)
	t.Setenv("AUDIT_RETENTION_DAYS", "60")
	t.Setenv("TIMEZONE", "UTC")

	now := time.Now().UTC()
	old := audit.SegmentName(now.AddDate(0, 0, -90))
	fresh := audit.SegmentName(now)
	for _, name := range []string{old, fresh} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	cmd := auditCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"prune"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("audit prune: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Errorf("expected %s to be pruned", old)
	}
	if _, err := os.Stat(filepath.Join(dir, fresh)); err != nil {
		t.Errorf("expected %s to survive: %v", fresh, err)
	}
	if !strings.Contains(out.String(), "Removed 1 segment(s).") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestWithPostgres_RejectsMemoryDriver(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TIMEZONE", "UTC")

	err := withPostgres(context.Background(), func(*config.Config, *stores) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "STORE_DRIVER=postgres") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

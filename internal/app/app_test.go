package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")
	t.Setenv("COMPLETION_LOCK_TTL", "45s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.True(t, cfg.AllowNegativeStock)
	require.Equal(t, 45*time.Second, cfg.CompletionLockTTL)
	require.Equal(t, "json", cfg.LogFormat)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{AppEnv: "production", PGDSN: "postgres://x", AllowNegativeStock: true}
	require.ErrorContains(t, cfg.Validate(), "ALLOW_NEGATIVE_STOCK")

	cfg.AllowNegativeStock = false
	require.NoError(t, cfg.Validate())

	cfg.PGDSN = ""
	require.ErrorContains(t, cfg.Validate(), "PG_DSN")

	cfg = &Config{PGDSN: "postgres://x", CompletionLockTTL: -time.Second}
	require.Error(t, cfg.Validate())
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.Int64("tenant_id", 4))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	require.Equal(t, "shown", record["msg"])
	require.EqualValues(t, 4, record["tenant_id"])

	require.Equal(t, slog.LevelInfo, parseLevel(nil))
	require.Equal(t, slog.LevelDebug, parseLevel(&Config{LogLevel: "DEBUG"}))
}

func TestTenantScope(t *testing.T) {
	var gotTenant, gotActor int64
	h := TenantScope(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = shared.TenantFromContext(r.Context())
		gotActor = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		tenant string
		actor  string
		status int
	}{
		{name: "missing tenant", status: http.StatusBadRequest},
		{name: "non numeric tenant", tenant: "acme", status: http.StatusBadRequest},
		{name: "zero tenant", tenant: "0", status: http.StatusBadRequest},
		{name: "bad actor", tenant: "7", actor: "x", status: http.StatusBadRequest},
		{name: "tenant only", tenant: "7", status: http.StatusNoContent},
		{name: "tenant and actor", tenant: "7", actor: "42", status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotTenant, gotActor = 0, 0
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.tenant != "" {
				req.Header.Set(HeaderTenantID, tc.tenant)
			}
			if tc.actor != "" {
				req.Header.Set(HeaderActorID, tc.actor)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusNoContent {
				require.Equal(t, int64(7), gotTenant)
				if tc.actor != "" {
					require.Equal(t, int64(42), gotActor)
				}
			}
		})
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:  &Config{AppEnv: "development"},
		Metrics: metrics,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `odyssey_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestMiddlewareStackRecoversPanics(t *testing.T) {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Config: &Config{}}) {
		r.Use(mw)
	}
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestShouldMigrate(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	require.False(t, ShouldMigrate(&Config{RunMigrations: true}))

	t.Setenv(TestModeEnv, "0")
	RefreshTestMode()
	require.True(t, ShouldMigrate(&Config{RunMigrations: true}))
	require.False(t, ShouldMigrate(nil))
}

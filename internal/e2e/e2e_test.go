//go:build e2e

// Package e2e drives the full stack over HTTP against a real postgres
// database. Run with: go test -tags e2e ./internal/e2e/...
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/quotaguard/internal/admin"
	"github.com/smallbiznis/quotaguard/internal/audit"
	"github.com/smallbiznis/quotaguard/internal/blocking"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/enforcement"
	"github.com/smallbiznis/quotaguard/internal/limits"
	"github.com/smallbiznis/quotaguard/internal/metering"
	"github.com/smallbiznis/quotaguard/internal/migration"
	"github.com/smallbiznis/quotaguard/internal/notification"
	"github.com/smallbiznis/quotaguard/internal/observability"
	"github.com/smallbiznis/quotaguard/internal/protection"
	"github.com/smallbiznis/quotaguard/internal/quota"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"github.com/smallbiznis/quotaguard/internal/scheduler"
	schedulertesting "github.com/smallbiznis/quotaguard/internal/scheduler/testing"
	"github.com/smallbiznis/quotaguard/internal/server"
	"github.com/smallbiznis/quotaguard/internal/usage"
	"github.com/smallbiznis/quotaguard/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	baseURL   string
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_AutoBlockOnDailyLimit(t *testing.T) {
	resetDatabase(t, env.db)
	identity := "e2e-alice@example.com"
	provisionQuota(t, identity, 3)

	for i := 0; i < 3; i++ {
		ingest(t, identity, http.StatusAccepted)
	}

	status := getStatus(t, identity)
	if status["status"] != "BLOCKED" || status["block_type"] != "AUTO" {
		t.Fatalf("expected AUTO block, got %v", status)
	}
	if allowed := checkAccess(t, identity); allowed {
		t.Fatalf("expected access revoked for %s", identity)
	}

	// Events keep being recorded while blocked.
	ingest(t, identity, http.StatusAccepted)
	if got := countRows(t, env.db, "usage_events", "identity_key = ?", identity); got != 4 {
		t.Fatalf("expected 4 usage events, got %d", got)
	}
}

func TestE2E_ManualUnblockProtectsUntilSweep(t *testing.T) {
	resetDatabase(t, env.db)
	identity := "e2e-bob@example.com"
	provisionQuota(t, identity, 2)

	ingest(t, identity, http.StatusAccepted)
	ingest(t, identity, http.StatusAccepted)
	if status := getStatus(t, identity); status["status"] != "BLOCKED" {
		t.Fatalf("expected BLOCKED, got %v", status)
	}

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/admin/unblock", map[string]any{
		"identity":     identity,
		"reason":       "customer upgraded",
		"performed_by": "ops@example.com",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for unblock, got %d: %s", resp.StatusCode, string(body))
	}

	ingest(t, identity, http.StatusAccepted)
	status := getStatus(t, identity)
	if status["status"] != "PROTECTED" || status["administrative_protection"] != true {
		t.Fatalf("expected PROTECTED after unblock, got %v", status)
	}
	if allowed := checkAccess(t, identity); !allowed {
		t.Fatalf("expected access restored for %s", identity)
	}

	if _, err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	status = getStatus(t, identity)
	if status["status"] != "ACTIVE" || status["administrative_protection"] != false {
		t.Fatalf("expected ACTIVE after sweep, got %v", status)
	}
}

func TestE2E_ManualBlockReleasedAfterExpiry(t *testing.T) {
	resetDatabase(t, env.db)
	identity := "e2e-carol@example.com"

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/admin/block", map[string]any{
		"identity":     identity,
		"reason":       "abuse report",
		"performed_by": "ops@example.com",
		"duration":     "1day",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for block, got %d: %s", resp.StatusCode, string(body))
	}
	if allowed := checkAccess(t, identity); allowed {
		t.Fatalf("expected access revoked for %s", identity)
	}

	accelerator := schedulertesting.NewTimeAccelerator(env.db)
	if err := accelerator.ExpireBlock(context.Background(), identity, time.Now()); err != nil {
		t.Fatalf("expire block: %v", err)
	}

	summary, err := env.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run sweep: %v", err)
	}
	if summary.Unblocked != 1 {
		t.Fatalf("expected one unblock, got %+v", summary)
	}
	if allowed := checkAccess(t, identity); !allowed {
		t.Fatalf("expected access restored for %s", identity)
	}
}

func TestE2E_AuditLog(t *testing.T) {
	resetDatabase(t, env.db)
	identity := "e2e-dave@example.com"

	for _, path := range []string{"/v1/admin/block", "/v1/admin/unblock"} {
		resp, body := doJSON(t, http.MethodPost, env.baseURL+path, map[string]any{
			"identity":     identity,
			"performed_by": "ops@example.com",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200 for %s, got %d: %s", path, resp.StatusCode, string(body))
		}
	}

	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/v1/admin/audit?identity="+identity, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for audit, got %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Data []struct {
			Operation   string `json:"operation"`
			PerformedBy string `json:"performed_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(payload.Data) < 2 {
		t.Fatalf("expected at least 2 audit entries, got %d", len(payload.Data))
	}
	for _, entry := range payload.Data {
		if entry.PerformedBy != "ops@example.com" {
			t.Fatalf("unexpected performer %q", entry.PerformedBy)
		}
	}
}

func TestE2E_FilteredTrafficIsNotStored(t *testing.T) {
	resetDatabase(t, env.db)

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/usage/events", map[string]any{
		"identity":    "unknown",
		"group":       "unknown",
		"kind":        "completion",
		"timestamp":   time.Now().UTC(),
		"resource_id": "model-small",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for filtered event, got %d: %s", resp.StatusCode, string(body))
	}
	if got := countRows(t, env.db, "usage_events", "1 = 1"); got != 0 {
		t.Fatalf("expected no usage events, got %d", got)
	}
}

func startEnv() (*testEnv, error) {
	var (
		srv         *server.Server
		dbConn      *gorm.DB
		cfg         config.Config
		schedulerSv *scheduler.Scheduler
	)

	app := fx.New(
		observability.Module,
		config.Module,
		db.Module,
		clock.Module,
		migration.Module,
		quota.Module,
		usage.Module,
		limits.Module,
		audit.Module,
		protection.Module,
		enforcement.Module,
		notification.Module,
		blocking.Module,
		metering.Module,
		admin.Module,
		ratelimit.Module,
		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(server.RegisterRoutes),
		fx.Populate(&srv, &dbConn, &cfg, &schedulerSv),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(cfg.DBType)) != "postgres" {
		_ = app.Stop(context.Background())
		return nil, fmt.Errorf("expected postgres db, got %s", cfg.DBType)
	}

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		app:       app,
		db:        dbConn,
		baseURL:   httpSrv.URL,
		scheduler: schedulerSv,
		httpSrv:   httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("OTEL_ENABLED", "false")
	setEnvIfEmpty("RATE_LIMIT_ENABLED", "false")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	setEnvIfEmpty("ENFORCEMENT_BACKEND", "casbin")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	if err := dbConn.Exec(
		`TRUNCATE TABLE usage_events, audit_entries, blocking_states, identity_quotas RESTART IDENTITY CASCADE`,
	).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	if err := dbConn.Exec(`DELETE FROM casbin_rule`).Error; err != nil {
		t.Fatalf("clear policies: %v", err)
	}
}

func provisionQuota(t *testing.T, identity string, dailyLimit int64) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPut, env.baseURL+"/v1/admin/quotas/"+identity, map[string]any{
		"group":         "e2e",
		"daily_limit":   dailyLimit,
		"monthly_limit": dailyLimit * 30,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for quota upsert, got %d: %s", resp.StatusCode, string(body))
	}
}

func ingest(t *testing.T, identity string, wantStatus int) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/v1/usage/events", map[string]any{
		"identity":    identity,
		"group":       "e2e",
		"kind":        "completion",
		"timestamp":   time.Now().UTC(),
		"resource_id": "model-small",
		"quantity_in": 10,
	})
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d for ingest, got %d: %s", wantStatus, resp.StatusCode, string(body))
	}
}

func getStatus(t *testing.T, identity string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/v1/admin/status/"+identity, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for status, got %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return payload.Data
}

func checkAccess(t *testing.T, identity string) bool {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/v1/access/"+identity, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for access, got %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode access: %v", err)
	}
	return payload.Allowed
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func doJSON(t *testing.T, method, reqURL string, payload any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, reqURL, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, reqURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

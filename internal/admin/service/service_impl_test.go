package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	admindomain "github.com/smallbiznis/quotaguard/internal/admin/domain"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	auditrepository "github.com/smallbiznis/quotaguard/internal/audit/repository"
	auditservice "github.com/smallbiznis/quotaguard/internal/audit/service"
	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	blockingrepository "github.com/smallbiznis/quotaguard/internal/blocking/repository"
	blockingservice "github.com/smallbiznis/quotaguard/internal/blocking/service"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	enforcementservice "github.com/smallbiznis/quotaguard/internal/enforcement/service"
	protectionservice "github.com/smallbiznis/quotaguard/internal/protection/service"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	quotarepository "github.com/smallbiznis/quotaguard/internal/quota/repository"
	quotaservice "github.com/smallbiznis/quotaguard/internal/quota/service"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	usagerepository "github.com/smallbiznis/quotaguard/internal/usage/repository"
	usageservice "github.com/smallbiznis/quotaguard/internal/usage/service"
	"github.com/smallbiznis/quotaguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type adminFixture struct {
	svc   admindomain.Service
	usage usagedomain.Service
	quota quotadomain.Service
	clock *clock.FakeClock
}

func setupAdmin(t *testing.T) adminFixture {
	t.Helper()
	db := dbtest.Open(t,
		&quotadomain.QuotaRecord{},
		&usagedomain.UsageEvent{},
		&blockingdomain.State{},
		&auditdomain.Entry{},
	)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	cfg := config.Config{}
	cfg.Metering.Timezone = "Europe/Madrid"
	cfg.Timeouts.Store = 5 * time.Second
	limits := config.NewStaticLimitsHolder(config.DefaultLimitsConfig())

	quotaRepo := quotarepository.Provide()
	quotaSvc := quotaservice.NewService(quotaservice.Params{DB: db, Log: log, Repo: quotaRepo, Limits: limits, Clock: clk})
	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:       db,
		Log:      log,
		GenID:    node,
		Cfg:      cfg,
		Repo:     usagerepository.Provide(),
		QuotaSvc: quotaSvc,
		Limits:   limits,
		Clock:    clk,
	})
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(), Clock: clk})
	registry := protectionservice.NewRegistry(protectionservice.Params{DB: db, Log: log, QuotaSvc: quotaSvc, Repo: quotaRepo, Clock: clk})
	orchestrator := blockingservice.NewService(blockingservice.Params{
		DB:       db,
		Log:      log,
		Cfg:      cfg,
		Repo:     blockingrepository.Provide(),
		AuditSvc: auditSvc,
		Registry: registry,
		Point:    enforcementservice.NewNoop(log),
		Clock:    clk,
	})

	svc := NewService(Params{
		Log:          log,
		Orchestrator: orchestrator,
		QuotaSvc:     quotaSvc,
		UsageSvc:     usageSvc,
		AuditSvc:     auditSvc,
		Clock:        clk,
	})
	return adminFixture{svc: svc, usage: usageSvc, quota: quotaSvc, clock: clk}
}

func TestResolveExpiry(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	custom := now.Add(36 * time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name     string
		duration admindomain.Duration
		until    *time.Time
		want     *time.Time
		wantErr  error
	}{
		{name: "default", duration: "", want: ptr(now.AddDate(0, 0, 1))},
		{name: "one day", duration: admindomain.Duration1Day, want: ptr(now.AddDate(0, 0, 1))},
		{name: "thirty days", duration: admindomain.Duration30Days, want: ptr(now.AddDate(0, 0, 30))},
		{name: "ninety days", duration: "90DAYS", want: ptr(now.AddDate(0, 0, 90))},
		{name: "indefinite", duration: admindomain.DurationIndefinite, want: nil},
		{name: "custom", duration: admindomain.DurationCustom, until: &custom, want: &custom},
		{name: "custom missing", duration: admindomain.DurationCustom, wantErr: admindomain.ErrInvalidDuration},
		{name: "custom past", duration: admindomain.DurationCustom, until: &past, wantErr: blockingdomain.ErrInvalidExpiry},
		{name: "unknown", duration: "forever", wantErr: admindomain.ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := admindomain.ResolveExpiry(tc.duration, tc.until, now)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tc.want.Equal(*got))
		})
	}
}

func TestManualBlockThenCheckStatus(t *testing.T) {
	f := setupAdmin(t)
	ctx := context.Background()

	result, err := f.svc.ManualBlock(ctx, admindomain.BlockRequest{
		IdentityKey: "alice@example.com",
		Reason:      "abuse report",
		PerformedBy: "ops@example.com",
		Duration:    admindomain.Duration30Days,
	})
	require.NoError(t, err)
	assert.Equal(t, admindomain.ResultApplied, result.Status)

	status, err := f.svc.CheckStatus(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, status.IsBlocked)
	assert.Equal(t, blockingdomain.BlockTypeManual, status.BlockType)
	assert.Equal(t, "ops@example.com", status.PerformedBy)
	assert.Equal(t, "abuse report", status.Reason)
	require.NotNil(t, status.BlockedUntil)
	assert.True(t, status.BlockedUntil.Equal(f.clock.Now().AddDate(0, 0, 30)))
}

func TestManualBlockIndefiniteHasNoExpiry(t *testing.T) {
	f := setupAdmin(t)
	ctx := context.Background()

	_, err := f.svc.ManualBlock(ctx, admindomain.BlockRequest{
		IdentityKey: "bob",
		Duration:    admindomain.DurationIndefinite,
	})
	require.NoError(t, err)

	status, err := f.svc.CheckStatus(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, status.IsBlocked)
	assert.Nil(t, status.BlockedUntil)
	assert.Equal(t, admindomain.DefaultActor, status.PerformedBy)
	assert.Equal(t, admindomain.DefaultBlockReason, status.Reason)
}

func TestManualUnblockSetsProtectionInStatus(t *testing.T) {
	f := setupAdmin(t)
	ctx := context.Background()

	_, err := f.svc.ManualBlock(ctx, admindomain.BlockRequest{IdentityKey: "carol"})
	require.NoError(t, err)

	result, err := f.svc.ManualUnblock(ctx, admindomain.UnblockRequest{IdentityKey: "carol", PerformedBy: "ops@example.com"})
	require.NoError(t, err)
	assert.Equal(t, admindomain.ResultApplied, result.Status)

	status, err := f.svc.CheckStatus(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, status.IsBlocked)
	assert.True(t, status.AdministrativeProtection)
	assert.Equal(t, blockingdomain.StatusProtected, status.Status)
}

func TestCheckStatusReportsUsagePercentages(t *testing.T) {
	f := setupAdmin(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		result, err := f.usage.Ingest(ctx, usagedomain.Event{
			IdentityRef: "dave",
			GroupRef:    "research",
			Timestamp:   f.clock.Now(),
			ResourceID:  "model-small",
		})
		require.NoError(t, err)
		require.True(t, result.Accepted)
	}

	status, err := f.svc.CheckStatus(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, status.IsBlocked)
	assert.Equal(t, blockingdomain.BlockTypeNone, status.BlockType)
	assert.Equal(t, int64(7), status.DailyUsed)
	assert.Equal(t, int64(350), status.DailyLimit)
	assert.Equal(t, 2.0, status.DailyPercent)
	assert.Equal(t, 0.1, status.MonthlyPercent)
}

func TestCheckStatusUnknownIdentity(t *testing.T) {
	f := setupAdmin(t)

	status, err := f.svc.CheckStatus(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, status.IsBlocked)
	assert.Equal(t, blockingdomain.StatusActive, status.Status)
	assert.Zero(t, status.DailyLimit)

	_, err = f.svc.CheckStatus(context.Background(), " ")
	require.ErrorIs(t, err, admindomain.ErrInvalidIdentity)
}

func TestSetProtectionReportsUnchanged(t *testing.T) {
	f := setupAdmin(t)
	ctx := context.Background()

	result, err := f.svc.SetProtection(ctx, admindomain.ProtectionRequest{IdentityKey: "erin", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, admindomain.ResultApplied, result.Status)

	result, err = f.svc.SetProtection(ctx, admindomain.ProtectionRequest{IdentityKey: "erin", Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, admindomain.ResultUnchanged, result.Status)
}

func TestManualBlockRejectsBadDuration(t *testing.T) {
	f := setupAdmin(t)

	_, err := f.svc.ManualBlock(context.Background(), admindomain.BlockRequest{IdentityKey: "frank", Duration: "2weeks"})
	require.ErrorIs(t, err, admindomain.ErrInvalidDuration)

	_, err = f.svc.ManualBlock(context.Background(), admindomain.BlockRequest{})
	require.ErrorIs(t, err, admindomain.ErrInvalidIdentity)
}

func ptr(t time.Time) *time.Time { return &t }

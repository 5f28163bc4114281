package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/internal/quota/repository"
	"github.com/smallbiznis/quotaguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupQuotaService(t *testing.T) (quotadomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &quotadomain.QuotaRecord{})
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Repo:   repository.Provide(),
		Limits: config.NewStaticLimitsHolder(config.DefaultLimitsConfig()),
		Clock:  clk,
	})
	return svc, db, clk
}

func ptr[T any](v T) *T { return &v }

func TestEnsureProvisionedCreatesDefaultsOnce(t *testing.T) {
	svc, db, _ := setupQuotaService(t)
	ctx := context.Background()

	first, err := svc.EnsureProvisioned(ctx, "alice", "research")
	require.NoError(t, err)
	assert.Equal(t, int64(350), first.DailyLimit)
	assert.Equal(t, int64(5000), first.MonthlyLimit)
	assert.Equal(t, float64(85), first.CriticalThreshold)
	assert.Equal(t, "research", first.GroupKey)
	assert.False(t, first.AdministrativeProtection)

	second, err := svc.EnsureProvisioned(ctx, "alice", "other")
	require.NoError(t, err)
	assert.Equal(t, "research", second.GroupKey)

	var count int64
	require.NoError(t, db.Model(&quotadomain.QuotaRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsureProvisionedRejectsBlankIdentity(t *testing.T) {
	svc, _, _ := setupQuotaService(t)
	_, err := svc.EnsureProvisioned(context.Background(), "  ", "")
	require.ErrorIs(t, err, quotadomain.ErrInvalidIdentity)
}

func TestGetUnknownIdentity(t *testing.T) {
	svc, _, _ := setupQuotaService(t)
	_, err := svc.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, quotadomain.ErrQuotaNotFound)
}

func TestUpsertKeepsUnsetFields(t *testing.T) {
	svc, _, clk := setupQuotaService(t)
	ctx := context.Background()

	created, err := svc.Upsert(ctx, quotadomain.UpsertRequest{
		IdentityKey: "bob",
		Email:       ptr("bob@example.com"),
		DailyLimit:  ptr(int64(100)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), created.DailyLimit)
	assert.Equal(t, int64(5000), created.MonthlyLimit)

	clk.Advance(time.Hour)
	updated, err := svc.Upsert(ctx, quotadomain.UpsertRequest{
		IdentityKey:       "bob",
		CriticalThreshold: ptr(90.0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.DailyLimit)
	assert.Equal(t, 90.0, updated.CriticalThreshold)

	stored, err := svc.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", stored.Email)
	assert.True(t, stored.UpdatedAt.Equal(clk.Now()))
}

func TestUpsertValidation(t *testing.T) {
	svc, _, _ := setupQuotaService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, quotadomain.UpsertRequest{IdentityKey: "bob", DailyLimit: ptr(int64(-1))})
	require.ErrorIs(t, err, quotadomain.ErrInvalidLimit)

	_, err = svc.Upsert(ctx, quotadomain.UpsertRequest{IdentityKey: "bob", CriticalThreshold: ptr(120.0)})
	require.ErrorIs(t, err, quotadomain.ErrInvalidThresholds)

	_, err = svc.Upsert(ctx, quotadomain.UpsertRequest{IdentityKey: "bob", WarningThreshold: ptr(95.0)})
	require.ErrorIs(t, err, quotadomain.ErrInvalidThresholds)

	_, err = svc.Upsert(ctx, quotadomain.UpsertRequest{IdentityKey: "bob", Email: ptr("not an email")})
	require.ErrorIs(t, err, quotadomain.ErrInvalidEmail)

	_, err = svc.Get(ctx, "bob")
	require.ErrorIs(t, err, quotadomain.ErrQuotaNotFound)
}

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
)

func TestSetProtectionAndListProtected(t *testing.T) {
	db := dbtest.Open(t, &domain.QuotaRecord{})
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		inserted, err := repo.InsertIfAbsent(ctx, db, &domain.QuotaRecord{
			IdentityKey:       fmt.Sprintf("user-%d", i),
			DailyLimit:        350,
			MonthlyLimit:      5000,
			WarningThreshold:  60,
			CriticalThreshold: 85,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	inserted, err := repo.InsertIfAbsent(ctx, db, &domain.QuotaRecord{IdentityKey: "user-0", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	require.False(t, inserted)

	for _, id := range []string{"user-1", "user-3", "user-4"} {
		rows, err := repo.SetProtection(ctx, db, domain.ProtectionUpdate{IdentityKey: id, Enabled: true, SetBy: "admin", At: now})
		require.NoError(t, err)
		require.Equal(t, int64(1), rows)
	}

	page, err := repo.ListProtected(ctx, db, "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"user-1", "user-3"}, page)

	page, err = repo.ListProtected(ctx, db, "user-3", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"user-4"}, page)

	rows, err := repo.SetProtection(ctx, db, domain.ProtectionUpdate{IdentityKey: "user-1", Enabled: false, At: now})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	record, err := repo.FindByIdentity(ctx, db, "user-1")
	require.NoError(t, err)
	require.False(t, record.AdministrativeProtection)
	require.Nil(t, record.ProtectionSetBy)

	missing, err := repo.FindByIdentity(ctx, db, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)
}

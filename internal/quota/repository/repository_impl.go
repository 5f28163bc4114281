package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/quotaguard/internal/quota/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByIdentity(ctx context.Context, db *gorm.DB, identity string) (*domain.QuotaRecord, error) {
	var record domain.QuotaRecord
	err := db.WithContext(ctx).
		Where("identity_key = ?", identity).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// InsertIfAbsent reports whether the row was created; a concurrent
// provisioner winning the race is not an error.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, record *domain.QuotaRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, record *domain.QuotaRecord) error {
	return db.WithContext(ctx).Exec(
		`UPDATE identity_quotas
		 SET group_key = ?,
		     email = ?,
		     daily_limit = ?,
		     monthly_limit = ?,
		     warning_threshold = ?,
		     critical_threshold = ?,
		     updated_at = ?
		 WHERE identity_key = ?`,
		record.GroupKey,
		record.Email,
		record.DailyLimit,
		record.MonthlyLimit,
		record.WarningThreshold,
		record.CriticalThreshold,
		record.UpdatedAt,
		record.IdentityKey,
	).Error
}

func (r *repo) SetProtection(ctx context.Context, db *gorm.DB, update domain.ProtectionUpdate) (int64, error) {
	var setBy any
	var setAt any
	if update.Enabled {
		setBy = update.SetBy
		setAt = update.At
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE identity_quotas
		 SET administrative_protection = ?,
		     protection_set_by = ?,
		     protection_set_at = ?,
		     updated_at = ?
		 WHERE identity_key = ?`,
		update.Enabled,
		setBy,
		setAt,
		update.At,
		update.IdentityKey,
	)
	return result.RowsAffected, result.Error
}

// ListProtected pages through protected identities in key order.
func (r *repo) ListProtected(ctx context.Context, db *gorm.DB, afterIdentity string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var identities []string
	err := db.WithContext(ctx).
		Model(&domain.QuotaRecord{}).
		Where("administrative_protection = ? AND identity_key > ?", true, afterIdentity).
		Order("identity_key ASC").
		Limit(limit).
		Pluck("identity_key", &identities).Error
	if err != nil {
		return nil, err
	}
	return identities, nil
}

package repository

import (
	"context"
	"time"

	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageEvent) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) CountByDay(ctx context.Context, db *gorm.DB, identity, day string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM usage_events WHERE identity_key = ? AND usage_date = ?`,
		identity,
		day,
	).Scan(&count).Error
	return count, err
}

func (r *repo) CountByMonth(ctx context.Context, db *gorm.DB, identity, month string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM usage_events WHERE identity_key = ? AND usage_month = ?`,
		identity,
		month,
	).Scan(&count).Error
	return count, err
}

func (r *repo) DeleteBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM usage_events WHERE occurred_at < ?`, before.UTC())
	return result.RowsAffected, result.Error
}

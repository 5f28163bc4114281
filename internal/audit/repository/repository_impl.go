package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/quotaguard/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_entries (
			id, identity_key, operation, reason, performed_by, block_type, expires_at,
			outcome, enforcement_outcome, error_message, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.IdentityKey,
		entry.Operation,
		entry.Reason,
		entry.PerformedBy,
		entry.BlockType,
		entry.ExpiresAt,
		entry.Outcome,
		entry.EnforcementOutcome,
		entry.ErrorMessage,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

// List returns up to Limit+1 rows, newest first, so callers can detect another page.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{})

	if identity := strings.TrimSpace(filter.IdentityKey); identity != "" {
		stmt = stmt.Where("identity_key = ?", identity)
	}
	if filter.Operation != "" {
		stmt = stmt.Where("operation = ?", filter.Operation)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}

	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) DeleteBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM audit_entries WHERE created_at < ?`, before.UTC())
	return result.RowsAffected, result.Error
}

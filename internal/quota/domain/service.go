package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// UpsertRequest carries provisioning values. Nil fields keep the current
// value, or the system default for a new record.
type UpsertRequest struct {
	IdentityKey       string   `json:"identity"`
	GroupKey          *string  `json:"group"`
	Email             *string  `json:"email"`
	DailyLimit        *int64   `json:"daily_limit"`
	MonthlyLimit      *int64   `json:"monthly_limit"`
	WarningThreshold  *float64 `json:"warning_threshold"`
	CriticalThreshold *float64 `json:"critical_threshold"`
}

type Repository interface {
	FindByIdentity(ctx context.Context, db *gorm.DB, identity string) (*QuotaRecord, error)
	InsertIfAbsent(ctx context.Context, db *gorm.DB, record *QuotaRecord) (bool, error)
	Save(ctx context.Context, db *gorm.DB, record *QuotaRecord) error
	SetProtection(ctx context.Context, db *gorm.DB, update ProtectionUpdate) (int64, error)
	ListProtected(ctx context.Context, db *gorm.DB, afterIdentity string, limit int) ([]string, error)
}

type Service interface {
	// EnsureProvisioned returns the record for identity, creating it with the
	// system defaults when absent.
	EnsureProvisioned(ctx context.Context, identity, group string) (*QuotaRecord, error)
	Get(ctx context.Context, identity string) (*QuotaRecord, error)
	Upsert(ctx context.Context, req UpsertRequest) (*QuotaRecord, error)
	WithTx(tx *gorm.DB) Service
}

var (
	ErrInvalidIdentity   = errors.New("invalid_identity")
	ErrInvalidLimit      = errors.New("invalid_limit")
	ErrInvalidThresholds = errors.New("invalid_thresholds")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrQuotaNotFound     = errors.New("quota_not_found")
)

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordRequest struct {
	IdentityKey        string
	Operation          Operation
	Reason             string
	PerformedBy        string
	BlockType          string
	ExpiresAt          *time.Time
	Outcome            Outcome
	EnforcementOutcome EnforcementOutcome
	Err                error
	Metadata           map[string]any
}

type ListRequest struct {
	pagination.Pagination
	IdentityKey string
	Operation   string
	StartAt     *time.Time
	EndAt       *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
}

type Service interface {
	// Record appends an entry. A non-nil tx makes the entry part of the caller's transaction.
	Record(ctx context.Context, tx *gorm.DB, req RecordRequest) (*Entry, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

var (
	ErrInvalidIdentity  = errors.New("invalid_identity")
	ErrInvalidOperation = errors.New("invalid_operation")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)

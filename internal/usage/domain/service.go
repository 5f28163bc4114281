package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
	"gorm.io/gorm"
)

// Aggregate is the request count of an identity for one local day and month.
type Aggregate struct {
	IdentityKey string `json:"identity"`
	Day         string `json:"day"`
	Month       string `json:"month"`
	DailyUsed   int64  `json:"daily_used"`
	MonthlyUsed int64  `json:"monthly_used"`
}

type ListUsageRequest struct {
	pagination.Pagination
	IdentityKey string
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageEvents []UsageEvent `json:"usage_events"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageEvent) error
	CountByDay(ctx context.Context, db *gorm.DB, identity, day string) (int64, error)
	CountByMonth(ctx context.Context, db *gorm.DB, identity, month string) (int64, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
}

type Service interface {
	// Ingest validates and appends an event. Validation failures are reported
	// in the result; only store failures are returned as errors.
	Ingest(ctx context.Context, event Event) (IngestResult, error)
	// Aggregate counts usage for the local day and month containing at.
	Aggregate(ctx context.Context, identity string, at time.Time) (Aggregate, error)
	List(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

var (
	ErrInvalidIdentity  = errors.New("invalid_identity")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)

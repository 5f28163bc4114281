// Package domain defines the administrative control operations: manual
// block and unblock, status projection and the provisioning helpers the
// dashboard relies on.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
)

type Duration string

const (
	Duration1Day       Duration = "1day"
	Duration30Days     Duration = "30days"
	Duration90Days     Duration = "90days"
	DurationIndefinite Duration = "indefinite"
	DurationCustom     Duration = "custom"
)

const (
	DefaultBlockReason   = "Manual admin block"
	DefaultUnblockReason = "Manual admin unblock"
	DefaultActor         = "admin"
)

// ResolveExpiry turns a block duration into blocked_until. A nil result means
// indefinite. An empty duration is one day.
func ResolveExpiry(d Duration, until *time.Time, now time.Time) (*time.Time, error) {
	var expiry time.Time
	switch Duration(strings.ToLower(strings.TrimSpace(string(d)))) {
	case "", Duration1Day:
		expiry = now.AddDate(0, 0, 1)
	case Duration30Days:
		expiry = now.AddDate(0, 0, 30)
	case Duration90Days:
		expiry = now.AddDate(0, 0, 90)
	case DurationIndefinite:
		return nil, nil
	case DurationCustom:
		if until == nil {
			return nil, ErrInvalidDuration
		}
		if !until.After(now) {
			return nil, blockingdomain.ErrInvalidExpiry
		}
		expiry = *until
	default:
		return nil, ErrInvalidDuration
	}
	expiry = expiry.UTC()
	return &expiry, nil
}

type BlockRequest struct {
	IdentityKey string     `json:"identity"`
	Reason      string     `json:"reason"`
	PerformedBy string     `json:"performed_by"`
	Duration    Duration   `json:"duration"`
	Until       *time.Time `json:"until,omitempty"`
}

type UnblockRequest struct {
	IdentityKey string `json:"identity"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performed_by"`
}

type ProtectionRequest struct {
	IdentityKey string `json:"identity"`
	Enabled     bool   `json:"enabled"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performed_by"`
}

type ResultStatus string

const (
	ResultApplied                   ResultStatus = "applied"
	ResultAppliedEnforcementPending ResultStatus = "applied_enforcement_pending"
	ResultUnchanged                 ResultStatus = "unchanged"
)

// ActionResult tells operators whether a transition took effect and whether
// the enforcement point still has to catch up.
type ActionResult struct {
	Status  ResultStatus          `json:"status"`
	Message string                `json:"message"`
	State   *blockingdomain.State `json:"state,omitempty"`
}

type Status struct {
	IdentityKey              string                   `json:"identity"`
	IsBlocked                bool                     `json:"is_blocked"`
	Status                   blockingdomain.Status    `json:"status"`
	BlockType                blockingdomain.BlockType `json:"block_type"`
	Reason                   string                   `json:"reason,omitempty"`
	PerformedBy              string                   `json:"performed_by,omitempty"`
	BlockedAt                *time.Time               `json:"blocked_at,omitempty"`
	BlockedUntil             *time.Time               `json:"blocked_until,omitempty"`
	EnforcementPending       bool                     `json:"enforcement_pending"`
	DailyUsed                int64                    `json:"daily_used"`
	MonthlyUsed              int64                    `json:"monthly_used"`
	DailyLimit               int64                    `json:"daily_limit"`
	MonthlyLimit             int64                    `json:"monthly_limit"`
	DailyPercent             float64                  `json:"daily_percent"`
	MonthlyPercent           float64                  `json:"monthly_percent"`
	AdministrativeProtection bool                     `json:"administrative_protection"`
	CheckedAt                time.Time                `json:"checked_at"`
}

type Service interface {
	ManualBlock(ctx context.Context, req BlockRequest) (ActionResult, error)
	ManualUnblock(ctx context.Context, req UnblockRequest) (ActionResult, error)
	SetProtection(ctx context.Context, req ProtectionRequest) (ActionResult, error)
	CheckStatus(ctx context.Context, identity string) (Status, error)
	UpsertQuota(ctx context.Context, req quotadomain.UpsertRequest) (*quotadomain.QuotaRecord, error)
	GetQuota(ctx context.Context, identity string) (*quotadomain.QuotaRecord, error)
	ListAudit(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error)
	ListUsage(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error)
}

var (
	ErrInvalidIdentity = errors.New("invalid_identity")
	ErrInvalidDuration = errors.New("invalid_duration")
)

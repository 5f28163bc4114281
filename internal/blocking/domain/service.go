package domain

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	pkgdb "github.com/smallbiznis/quotaguard/pkg/db"
	"gorm.io/gorm"
)

type BlockRequest struct {
	IdentityKey string
	Reason      string
	PerformedBy string
	BlockType   BlockType
	// ExpiresAt nil means the next local midnight for AUTO blocks and
	// indefinite for MANUAL blocks.
	ExpiresAt *time.Time
}

type UnblockRequest struct {
	IdentityKey string
	Reason      string
	PerformedBy string
	// Manual unblocks also set administrative protection.
	Manual bool
	// ExpiredAsOf restricts the unblock to records still BLOCKED with a
	// finite expiry at or before this instant.
	ExpiredAsOf *time.Time
}

type ProtectionRequest struct {
	IdentityKey string
	Enabled     bool
	PerformedBy string
	Reason      string
}

type TransitionResult struct {
	State *State
	Audit *auditdomain.Entry
	// Applied is false when the transition was skipped as no longer eligible.
	Applied bool
	// EnforcementErr is set when the ledger changed but the enforcement point
	// call failed.
	EnforcementErr error
}

func (r TransitionResult) EnforcementPending() bool {
	return r.EnforcementErr != nil
}

type Repository interface {
	EnsureExists(ctx context.Context, db *gorm.DB, state *State) error
	FindForUpdate(ctx context.Context, db *gorm.DB, identity string) (*State, error)
	Find(ctx context.Context, db *gorm.DB, identity string) (*State, error)
	Save(ctx context.Context, db *gorm.DB, state *State) error
	SetEnforcementPending(ctx context.Context, db *gorm.DB, identity string, pending bool) error
	// ClearEnforcementPending clears the flag only while the record is still
	// at version. It reports whether a row was updated.
	ClearEnforcementPending(ctx context.Context, db *gorm.DB, identity string, version int64) (bool, error)
	ListExpired(ctx context.Context, db *gorm.DB, now time.Time, afterIdentity string, limit int) ([]State, error)
	ListEnforcementPending(ctx context.Context, db *gorm.DB, afterIdentity string, limit int) ([]State, error)
}

type Orchestrator interface {
	ExecuteBlock(ctx context.Context, req BlockRequest) (TransitionResult, error)
	ExecuteUnblock(ctx context.Context, req UnblockRequest) (TransitionResult, error)
	SetProtection(ctx context.Context, req ProtectionRequest) (TransitionResult, error)
	// Reconcile re-applies the enforcement matching the ledger state.
	Reconcile(ctx context.Context, identity string) error
	GetState(ctx context.Context, identity string) (*State, error)
	ListExpired(ctx context.Context, now time.Time, afterIdentity string, limit int) ([]State, error)
	ListEnforcementPending(ctx context.Context, afterIdentity string, limit int) ([]State, error)
}

var (
	ErrInvalidIdentity    = errors.New("invalid_identity")
	ErrInvalidExpiry      = errors.New("invalid_expiry")
	ErrInvalidBlockType   = errors.New("invalid_block_type")
	ErrIdentityProtected  = errors.New("identity_protected")
	ErrTransitionConflict = errors.New("transition_conflict")

	// ErrStoreUnavailable aborts a transition with nothing applied.
	ErrStoreUnavailable = pkgdb.ErrStoreUnavailable
)

// internal/scheduler/testing/helper.go
package testing

import (
	"context"
	"time"

	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	"gorm.io/gorm"
)

// TimeAccelerator moves block expiries so a sweep can be exercised without
// waiting for the reset time.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// ExpireBlock moves blocked_until of a finite block to one minute before now.
func (ta *TimeAccelerator) ExpireBlock(ctx context.Context, identity string, now time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE blocking_states
		 SET blocked_until = ?, updated_at = ?
		 WHERE identity_key = ? AND status = ? AND blocked_until IS NOT NULL`,
		now.UTC().Add(-1*time.Minute),
		now.UTC(),
		identity,
		blockingdomain.StatusBlocked,
	).Error
}

// ExpireAllFiniteBlocks expires every block that has an expiry. Indefinite
// blocks are left alone.
func (ta *TimeAccelerator) ExpireAllFiniteBlocks(ctx context.Context, now time.Time) (int64, error) {
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE blocking_states
		 SET blocked_until = ?, updated_at = ?
		 WHERE status = ? AND blocked_until IS NOT NULL AND blocked_until > ?`,
		now.UTC().Add(-1*time.Minute),
		now.UTC(),
		blockingdomain.StatusBlocked,
		now.UTC(),
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// BlockInfo shows the current block of an identity for debugging.
type BlockInfo struct {
	IdentityKey    string
	Status         blockingdomain.Status
	BlockType      blockingdomain.BlockType
	BlockedUntil   *time.Time
	TimeUntilReset time.Duration
	Releasable     bool
}

func (ta *TimeAccelerator) GetBlockInfo(ctx context.Context, identity string, now time.Time) (*BlockInfo, error) {
	var state blockingdomain.State
	err := ta.db.WithContext(ctx).Where("identity_key = ?", identity).Take(&state).Error
	if err != nil {
		return nil, err
	}

	info := &BlockInfo{
		IdentityKey:  state.IdentityKey,
		Status:       state.Status,
		BlockType:    state.BlockType,
		BlockedUntil: state.BlockedUntil,
		Releasable:   state.Expired(now),
	}
	if state.BlockedUntil != nil {
		info.TimeUntilReset = state.BlockedUntil.Sub(now)
	}
	return info, nil
}

package guard

import (
	"errors"
	"time"

	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
)

var (
	ErrNotBlocked      = errors.New("identity_not_blocked")
	ErrIndefiniteBlock = errors.New("block_is_indefinite")
	ErrBlockNotExpired = errors.New("block_not_expired")
	ErrMissingState    = errors.New("blocking_state_missing")
)

// EnsureReleasable reports whether the sweep may unblock the record at now.
// Blocks without an expiry are only ever released by an administrator.
func EnsureReleasable(state *blockingdomain.State, now time.Time) error {
	if state == nil {
		return ErrMissingState
	}
	if state.Status != blockingdomain.StatusBlocked {
		return ErrNotBlocked
	}
	if state.BlockedUntil == nil {
		return ErrIndefiniteBlock
	}
	if state.BlockedUntil.After(now) {
		return ErrBlockNotExpired
	}
	return nil
}

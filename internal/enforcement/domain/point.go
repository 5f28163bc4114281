// Package domain defines the enforcement point: the external system that
// actually grants or revokes the metered capability.
package domain

import (
	"context"
	"errors"
)

// Point revokes and restores an identity's capability. Both calls are
// idempotent and may fail independently of the ledger.
type Point interface {
	Revoke(ctx context.Context, identity string) error
	Restore(ctx context.Context, identity string) error
	Allowed(ctx context.Context, identity string) (bool, error)
}

const (
	BackendCasbin = "casbin"
	BackendNoop   = "noop"
)

var (
	ErrEnforcementFailed = errors.New("enforcement_failed")
	ErrInvalidIdentity   = errors.New("invalid_identity")
)

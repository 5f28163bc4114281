// Package domain defines the administrative protection registry. Protection
// is stored on the identity quota record and suppresses automatic blocking.
package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Registry interface {
	// SetProtection provisions the identity when needed and reports whether
	// the flag changed.
	SetProtection(ctx context.Context, identity string, on bool, setBy string) (bool, error)
	IsProtected(ctx context.Context, identity string) (bool, error)
	ListProtected(ctx context.Context, afterIdentity string, limit int) ([]string, error)
	WithTx(tx *gorm.DB) Registry
}

var ErrInvalidIdentity = errors.New("invalid_identity")

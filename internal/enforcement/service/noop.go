package service

import (
	"context"
	"strings"

	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	"go.uber.org/zap"
)

// Noop records decisions in the log only. Used when no enforcement point is
// configured.
type Noop struct {
	log *zap.Logger
}

func NewNoop(log *zap.Logger) *Noop {
	return &Noop{log: log.Named("enforcement.noop")}
}

func (n *Noop) Revoke(ctx context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return enforcementdomain.ErrInvalidIdentity
	}
	n.log.Debug("revoke skipped", zap.String("identity", identity))
	return nil
}

func (n *Noop) Restore(ctx context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return enforcementdomain.ErrInvalidIdentity
	}
	n.log.Debug("restore skipped", zap.String("identity", identity))
	return nil
}

func (n *Noop) Allowed(ctx context.Context, identity string) (bool, error) {
	return true, nil
}

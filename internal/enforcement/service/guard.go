package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	"go.uber.org/zap"
)

// Guard bounds every call to the wrapped point with its own timeout and
// maps failures onto ErrEnforcementFailed.
type Guard struct {
	next    enforcementdomain.Point
	timeout time.Duration
	log     *zap.Logger
}

func NewGuard(next enforcementdomain.Point, timeout time.Duration, log *zap.Logger) *Guard {
	return &Guard{next: next, timeout: timeout, log: log.Named("enforcement.guard")}
}

func (g *Guard) Revoke(ctx context.Context, identity string) error {
	_, err := g.call(ctx, "revoke", identity, func(ctx context.Context) (bool, error) {
		return true, g.next.Revoke(ctx, identity)
	})
	return err
}

func (g *Guard) Restore(ctx context.Context, identity string) error {
	_, err := g.call(ctx, "restore", identity, func(ctx context.Context) (bool, error) {
		return true, g.next.Restore(ctx, identity)
	})
	return err
}

func (g *Guard) Allowed(ctx context.Context, identity string) (bool, error) {
	return g.call(ctx, "allowed", identity, func(ctx context.Context) (bool, error) {
		return g.next.Allowed(ctx, identity)
	})
}

type callResult struct {
	ok  bool
	err error
}

func (g *Guard) call(ctx context.Context, op, identity string, fn func(context.Context) (bool, error)) (bool, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan callResult, 1)
	go func() {
		ok, err := fn(ctx)
		done <- callResult{ok: ok, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = callResult{err: ctx.Err()}
	}
	if res.err == nil {
		return res.ok, nil
	}
	if errors.Is(res.err, enforcementdomain.ErrInvalidIdentity) {
		return false, res.err
	}

	g.log.Warn("enforcement call failed",
		zap.String("operation", op),
		zap.String("identity", identity),
		zap.Error(res.err),
	)
	return false, fmt.Errorf("%w: %s: %v", enforcementdomain.ErrEnforcementFailed, op, res.err)
}

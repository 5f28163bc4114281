package service

import (
	"context"
	"errors"
	"testing"
	"time"

	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPoint struct {
	delay time.Duration
	err   error
	calls int
}

func (s *stubPoint) wait(ctx context.Context) error {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *stubPoint) Revoke(ctx context.Context, identity string) error  { return s.wait(ctx) }
func (s *stubPoint) Restore(ctx context.Context, identity string) error { return s.wait(ctx) }
func (s *stubPoint) Allowed(ctx context.Context, identity string) (bool, error) {
	return s.err == nil, s.wait(ctx)
}

func TestGuardPassesThroughSuccess(t *testing.T) {
	stub := &stubPoint{}
	guard := NewGuard(stub, time.Second, zap.NewNop())

	require.NoError(t, guard.Revoke(context.Background(), "alice"))
	require.NoError(t, guard.Restore(context.Background(), "alice"))
	allowed, err := guard.Allowed(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 3, stub.calls)
}

func TestGuardWrapsBackendErrors(t *testing.T) {
	guard := NewGuard(&stubPoint{err: errors.New("policy store down")}, time.Second, zap.NewNop())

	err := guard.Revoke(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, enforcementdomain.ErrEnforcementFailed)
	assert.Contains(t, err.Error(), "policy store down")
}

func TestGuardTimesOut(t *testing.T) {
	guard := NewGuard(&stubPoint{delay: time.Second}, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := guard.Restore(context.Background(), "alice")
	assert.ErrorIs(t, err, enforcementdomain.ErrEnforcementFailed)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGuardKeepsValidationErrors(t *testing.T) {
	guard := NewGuard(NewNoop(zap.NewNop()), time.Second, zap.NewNop())

	err := guard.Revoke(context.Background(), "")
	assert.ErrorIs(t, err, enforcementdomain.ErrInvalidIdentity)
	assert.NotErrorIs(t, err, enforcementdomain.ErrEnforcementFailed)
}

package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	"go.uber.org/zap"
)

const sweepLockKey = "quotaguard:scheduler:sweep"

// acquireSweepLock returns a release func and whether this instance owns the
// run. Without a locker every instance sweeps; the per-identity transactions
// keep concurrent sweeps correct, the lock only avoids duplicated work.
func (s *Scheduler) acquireSweepLock(ctx context.Context) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}

	start := time.Now()
	token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
	obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceSweep, time.Since(start))
	if err != nil {
		// Redis being down must not stop blocks from expiring.
		s.logger(ctx).Warn("sweep lock unavailable, running without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, sweepLockKey, token); err != nil {
			s.logger(ctx).Warn("release sweep lock", zap.Error(err))
		}
	}, true
}

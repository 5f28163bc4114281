package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	"github.com/smallbiznis/quotaguard/internal/clock"
	notificationdomain "github.com/smallbiznis/quotaguard/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	protectiondomain "github.com/smallbiznis/quotaguard/internal/protection/domain"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"github.com/smallbiznis/quotaguard/internal/scheduler/guard"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	systemActor        = "system"
	scheduledReason    = "scheduled reset"
	protectionReason   = "protection expired at reset"
	maxSummaryFailures = 50

	jobReleaseExpired  = "release_expired"
	jobClearProtection = "clear_protection"
	jobReconcile       = "reconcile_enforcement"
	jobRetention       = "retention"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log          *zap.Logger
	Orchestrator blockingdomain.Orchestrator
	Registry     protectiondomain.Registry
	UsageSvc     usagedomain.Service
	AuditSvc     auditdomain.Service
	Dispatcher   notificationdomain.Dispatcher `optional:"true"`
	Locker       *ratelimit.Locker              `optional:"true"`
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	orchestrator blockingdomain.Orchestrator
	registry     protectiondomain.Registry
	usageSvc     usagedomain.Service
	auditSvc     auditdomain.Service
	dispatcher   notificationdomain.Dispatcher
	locker       *ratelimit.Locker
}

// Summary describes one sweep. Identities left over by a cancelled run are
// counted in NotProcessed and picked up by the next run.
type Summary struct {
	notificationdomain.SweepSummary

	RunAt           time.Time
	Skipped         bool
	Reconciled      int
	ReconcileFailed int
	UsagePurged     int64
	AuditPurged     int64
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Orchestrator == nil || p.Registry == nil || p.UsageSvc == nil || p.AuditSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		orchestrator: p.Orchestrator,
		registry:     p.Registry,
		usageSvc:     p.UsageSvc,
		auditSvc:     p.AuditSvc,
		dispatcher:   p.Dispatcher,
		locker:       p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Running out of time is not a failure; the rest waits for the next run.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs a full reset sweep. Individual identity failures are
// collected in the summary; the returned error only reports jobs that could
// not run at all.
func (s *Scheduler) RunOnce(parent context.Context) (Summary, error) {
	now := s.clock.Now()
	summary := Summary{RunAt: now.UTC()}

	parent = s.withLogContext(parent, "")
	release, owned := s.acquireSweepLock(parent)
	if !owned {
		obsmetrics.Scheduler().IncBatchDeferred("sweep", obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(parent).Info("sweep skipped, another instance holds the lock")
		summary.Skipped = true
		return summary, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	var err error
	jobs := []struct {
		name string
		run  func(context.Context) error
	}{
		{jobReleaseExpired, func(ctx context.Context) error { return s.ReleaseExpiredJob(ctx, now, &summary) }},
		{jobClearProtection, func(ctx context.Context) error { return s.ClearProtectionJob(ctx, &summary) }},
		{jobReconcile, func(ctx context.Context) error { return s.ReconcileEnforcementJob(ctx, &summary) }},
		{jobRetention, func(ctx context.Context) error { return s.RetentionJob(ctx, now, &summary) }},
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		err = errors.Join(err, s.runJob(ctx, job.name, s.cfg.BatchSize, s.cfg.RunTimeout, job.run))
	}
	if ctx.Err() != nil {
		summary.Cancelled = true
	}

	s.recordSummary(parent, summary)
	return summary, err
}

// RunForever sweeps once per day at the configured local reset time until
// ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	schedMetrics := obsmetrics.Scheduler()
	for {
		next := clock.NextDailyRun(s.clock.Now(), s.cfg.Location, s.cfg.ResetHour, s.cfg.ResetMinute)
		s.logger(ctx).Info("next reset sweep scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		schedMetrics.ObserveRunLoopLag(s.clock.Now().Sub(next))
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}
}

// ReleaseExpiredJob unblocks every BLOCKED identity whose finite expiry has
// passed. The listing is keyset-paged by identity so a failing identity is
// never retried within the same run.
func (s *Scheduler) ReleaseExpiredJob(ctx context.Context, now time.Time, summary *Summary) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobReleaseExpired, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	after := ""
	for {
		if ctx.Err() != nil {
			return s.deferRemaining(ctx, jobReleaseExpired, summary)
		}
		states, err := s.orchestrator.ListExpired(ctx, now, after, s.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return s.deferRemaining(ctx, jobReleaseExpired, summary)
			}
			return err
		}
		if len(states) == 0 {
			return nil
		}

		for i := range states {
			state := states[i]
			if ctx.Err() != nil {
				summary.NotProcessed += len(states) - i
				return s.deferRemaining(ctx, jobReleaseExpired, summary)
			}
			after = state.IdentityKey
			if err := guard.EnsureReleasable(&state, now); err != nil {
				continue
			}

			// An identity that has started its transition finishes it even if
			// the sweep is cancelled meanwhile.
			result, err := s.orchestrator.ExecuteUnblock(context.WithoutCancel(ctx), blockingdomain.UnblockRequest{
				IdentityKey: state.IdentityKey,
				Reason:      scheduledReason,
				PerformedBy: systemActor,
				ExpiredAsOf: &now,
			})
			if err != nil {
				summary.UnblockFailed++
				summary.addFailure(state.IdentityKey, err)
				s.logSchedulerError(ctx, run, "scheduled unblock failed", jobReleaseExpired, state.IdentityKey, err)
				continue
			}
			if result.Applied {
				summary.Unblocked++
				run.AddProcessed(1)
				s.logReleased(ctx, jobReleaseExpired, state.IdentityKey, string(result.State.Status))
			}
		}
		schedMetrics.AddBatchProcessed(jobReleaseExpired, "blocking_state", len(states))
	}
}

// ClearProtectionJob strips administrative protection from every identity;
// protection shields an identity for one reset cycle only.
func (s *Scheduler) ClearProtectionJob(ctx context.Context, summary *Summary) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobClearProtection, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	after := ""
	for {
		if ctx.Err() != nil {
			return s.deferRemaining(ctx, jobClearProtection, summary)
		}
		identities, err := s.registry.ListProtected(ctx, after, s.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return s.deferRemaining(ctx, jobClearProtection, summary)
			}
			return err
		}
		if len(identities) == 0 {
			return nil
		}

		for i, identity := range identities {
			if ctx.Err() != nil {
				summary.NotProcessed += len(identities) - i
				return s.deferRemaining(ctx, jobClearProtection, summary)
			}
			after = identity
			result, err := s.orchestrator.SetProtection(context.WithoutCancel(ctx), blockingdomain.ProtectionRequest{
				IdentityKey: identity,
				Enabled:     false,
				PerformedBy: systemActor,
				Reason:      protectionReason,
			})
			if err != nil {
				summary.ProtectionFailed++
				summary.addFailure(identity, err)
				s.logSchedulerError(ctx, run, "clear protection failed", jobClearProtection, identity, err)
				continue
			}
			if result.Applied {
				summary.ProtectionCleared++
				run.AddProcessed(1)
			}
		}
		obsmetrics.Scheduler().AddBatchProcessed(jobClearProtection, "quota_record", len(identities))
	}
}

// RetentionJob deletes usage events and audit entries past their retention.
func (s *Scheduler) RetentionJob(ctx context.Context, now time.Time, summary *Summary) error {
	var jobErr error
	if s.cfg.UsageRetention > 0 {
		n, err := s.usageSvc.PurgeBefore(ctx, now.Add(-s.cfg.UsageRetention))
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		summary.UsagePurged = n
		obsmetrics.Scheduler().AddBatchProcessed(jobRetention, "usage_event", int(n))
	}
	if s.cfg.AuditRetention > 0 {
		n, err := s.auditSvc.PurgeBefore(ctx, now.Add(-s.cfg.AuditRetention))
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		summary.AuditPurged = n
		obsmetrics.Scheduler().AddBatchProcessed(jobRetention, "audit_entry", int(n))
	}
	return jobErr
}

func (s *Scheduler) deferRemaining(ctx context.Context, job string, summary *Summary) error {
	summary.Cancelled = true
	obsmetrics.Scheduler().IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonCancelled)
	return ctx.Err()
}

func (s *Scheduler) recordSummary(ctx context.Context, summary Summary) {
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddSweepOutcome(obsmetrics.SweepOutcomeUnblocked, summary.Unblocked)
	schedMetrics.AddSweepOutcome(obsmetrics.SweepOutcomeUnblockFailed, summary.UnblockFailed)
	schedMetrics.AddSweepOutcome(obsmetrics.SweepOutcomeProtectionCleared, summary.ProtectionCleared)
	schedMetrics.AddSweepOutcome(obsmetrics.SweepOutcomeProtectionFailed, summary.ProtectionFailed)
	schedMetrics.AddSweepOutcome(obsmetrics.SweepOutcomeNotProcessed, summary.NotProcessed)

	s.logger(ctx).Info("reset sweep finished",
		zap.Int("unblocked", summary.Unblocked),
		zap.Int("unblock_failed", summary.UnblockFailed),
		zap.Int("protection_cleared", summary.ProtectionCleared),
		zap.Int("protection_failed", summary.ProtectionFailed),
		zap.Int("reconciled", summary.Reconciled),
		zap.Int("reconcile_failed", summary.ReconcileFailed),
		zap.Int("not_processed", summary.NotProcessed),
		zap.Int64("usage_purged", summary.UsagePurged),
		zap.Int64("audit_purged", summary.AuditPurged),
		zap.Bool("cancelled", summary.Cancelled),
	)

	if s.dispatcher == nil {
		return
	}
	sweep := summary.SweepSummary
	s.dispatcher.Dispatch(context.WithoutCancel(ctx), notificationdomain.Notification{
		IdentityKey: systemActor,
		Category:    notificationdomain.CategoryAdminAction,
		Initiator:   notificationdomain.InitiatorSystem,
		Reason:      scheduledReason,
		PerformedBy: systemActor,
		Summary:     &sweep,
	})
}

func (s *Summary) addFailure(identity string, err error) {
	if len(s.Failures) >= maxSummaryFailures {
		return
	}
	s.Failures = append(s.Failures, fmt.Sprintf("%s: %v", identity, err))
}

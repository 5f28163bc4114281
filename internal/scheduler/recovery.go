package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
)

// ReconcileEnforcementJob retries enforcement-point calls that failed after
// the ledger had already changed.
func (s *Scheduler) ReconcileEnforcementJob(ctx context.Context, summary *Summary) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobReconcile, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	after := ""
	for {
		if ctx.Err() != nil {
			return s.deferRemaining(ctx, jobReconcile, summary)
		}
		states, err := s.orchestrator.ListEnforcementPending(ctx, after, s.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return s.deferRemaining(ctx, jobReconcile, summary)
			}
			return err
		}
		if len(states) == 0 {
			return nil
		}

		for _, state := range states {
			if ctx.Err() != nil {
				return s.deferRemaining(ctx, jobReconcile, summary)
			}
			after = state.IdentityKey
			if err := s.orchestrator.Reconcile(context.WithoutCancel(ctx), state.IdentityKey); err != nil {
				summary.ReconcileFailed++
				s.logSchedulerError(ctx, run, "enforcement reconcile failed", jobReconcile, state.IdentityKey, err)
				continue
			}
			summary.Reconciled++
			run.AddProcessed(1)
		}
		obsmetrics.Scheduler().AddBatchProcessed(jobReconcile, "blocking_state", len(states))
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	notificationdomain "github.com/smallbiznis/quotaguard/internal/notification/domain"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	protectiondomain "github.com/smallbiznis/quotaguard/internal/protection/domain"
	pkgdb "github.com/smallbiznis/quotaguard/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTransitionRetries = 3
	systemActor          = "system"

	transitionSuccess = "success"
	transitionFailed  = "failed"
	transitionSkipped = "skipped"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Repo       blockingdomain.Repository
	AuditSvc   auditdomain.Service
	Registry   protectiondomain.Registry
	Point      enforcementdomain.Point
	Dispatcher notificationdomain.Dispatcher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
	Clock      clock.Clock                   `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	loc          *time.Location
	storeTimeout time.Duration
	repo         blockingdomain.Repository
	auditSvc     auditdomain.Service
	registry     protectiondomain.Registry
	point        enforcementdomain.Point
	dispatcher   notificationdomain.Dispatcher
	obsMetrics   *obsmetrics.Metrics
	clock        clock.Clock
}

func NewService(p Params) blockingdomain.Orchestrator {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("blocking.orchestrator"),
		loc:          p.Cfg.Location(),
		storeTimeout: p.Cfg.Timeouts.Store,
		repo:         p.Repo,
		auditSvc:     p.AuditSvc,
		registry:     p.Registry,
		point:        p.Point,
		dispatcher:   p.Dispatcher,
		obsMetrics:   p.ObsMetrics,
		clock:        clk,
	}
}

// plan is what a transition decided to do with the locked state.
type plan struct {
	next       *blockingdomain.State
	enforce    func(ctx context.Context) error
	compensate func(ctx context.Context) error
	audit      auditdomain.RecordRequest
	notify     *notificationdomain.Notification
}

type decideFunc func(ctx context.Context, tx *gorm.DB, current *blockingdomain.State, now time.Time) (*plan, error)

func (s *Service) ExecuteBlock(ctx context.Context, req blockingdomain.BlockRequest) (blockingdomain.TransitionResult, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return blockingdomain.TransitionResult{}, blockingdomain.ErrInvalidIdentity
	}
	blockType := req.BlockType
	if blockType == "" {
		blockType = blockingdomain.BlockTypeAuto
	}
	if blockType != blockingdomain.BlockTypeAuto && blockType != blockingdomain.BlockTypeManual {
		return blockingdomain.TransitionResult{}, blockingdomain.ErrInvalidBlockType
	}

	now := s.clock.Now().UTC()
	var expiresAt *time.Time
	switch {
	case req.ExpiresAt != nil:
		until := req.ExpiresAt.UTC()
		if !until.After(now) {
			return blockingdomain.TransitionResult{}, blockingdomain.ErrInvalidExpiry
		}
		expiresAt = &until
	case blockType == blockingdomain.BlockTypeAuto:
		until := clock.NextMidnight(now, s.loc).UTC()
		expiresAt = &until
	}

	performedBy := actorOrSystem(req.PerformedBy)
	reason := strings.TrimSpace(req.Reason)
	initiator := notificationdomain.InitiatorSystem
	if blockType == blockingdomain.BlockTypeManual {
		initiator = notificationdomain.InitiatorAdmin
	}

	return s.transition(ctx, identity, auditdomain.OperationBlock, performedBy, reason,
		func(ctx context.Context, tx *gorm.DB, current *blockingdomain.State, now time.Time) (*plan, error) {
			if blockType == blockingdomain.BlockTypeAuto {
				// An automatic block never replaces a manual one.
				if current.IsBlocked() && current.BlockType == blockingdomain.BlockTypeManual {
					return nil, nil
				}
				protected, err := s.registry.WithTx(tx).IsProtected(ctx, identity)
				if err != nil {
					return nil, err
				}
				if protected {
					return nil, blockingdomain.ErrIdentityProtected
				}
			}

			wasBlocked := current.IsBlocked()
			blockedAt := now
			return &plan{
				next: &blockingdomain.State{
					IdentityKey:  identity,
					Status:       blockingdomain.StatusBlocked,
					BlockType:    blockType,
					Reason:       reason,
					BlockedAt:    &blockedAt,
					BlockedUntil: expiresAt,
					SetBy:        performedBy,
				},
				enforce: func(ctx context.Context) error { return s.point.Revoke(ctx, identity) },
				compensate: func(ctx context.Context) error {
					if wasBlocked {
						return nil
					}
					return s.point.Restore(ctx, identity)
				},
				audit: auditdomain.RecordRequest{
					IdentityKey: identity,
					Operation:   auditdomain.OperationBlock,
					Reason:      reason,
					PerformedBy: performedBy,
					BlockType:   string(blockType),
					ExpiresAt:   expiresAt,
				},
				notify: &notificationdomain.Notification{
					IdentityKey:  identity,
					Category:     notificationdomain.CategoryBlocked,
					Initiator:    initiator,
					Reason:       reason,
					PerformedBy:  performedBy,
					BlockedUntil: expiresAt,
				},
			}, nil
		})
}

func (s *Service) ExecuteUnblock(ctx context.Context, req blockingdomain.UnblockRequest) (blockingdomain.TransitionResult, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return blockingdomain.TransitionResult{}, blockingdomain.ErrInvalidIdentity
	}
	performedBy := actorOrSystem(req.PerformedBy)
	reason := strings.TrimSpace(req.Reason)
	initiator := notificationdomain.InitiatorSystem
	if req.Manual {
		initiator = notificationdomain.InitiatorAdmin
	}

	return s.transition(ctx, identity, auditdomain.OperationUnblock, performedBy, reason,
		func(ctx context.Context, tx *gorm.DB, current *blockingdomain.State, now time.Time) (*plan, error) {
			if req.ExpiredAsOf != nil && !current.Expired(*req.ExpiredAsOf) {
				return nil, nil
			}

			registry := s.registry.WithTx(tx)
			protected := false
			if req.Manual {
				if _, err := registry.SetProtection(ctx, identity, true, performedBy); err != nil {
					return nil, err
				}
				protected = true
			} else {
				var err error
				if protected, err = registry.IsProtected(ctx, identity); err != nil {
					return nil, err
				}
			}

			status := blockingdomain.StatusActive
			if protected {
				status = blockingdomain.StatusProtected
			}
			wasBlocked := current.IsBlocked()
			return &plan{
				next: &blockingdomain.State{
					IdentityKey: identity,
					Status:      status,
					BlockType:   blockingdomain.BlockTypeNone,
					Reason:      reason,
					SetBy:       performedBy,
				},
				enforce: func(ctx context.Context) error { return s.point.Restore(ctx, identity) },
				compensate: func(ctx context.Context) error {
					if !wasBlocked {
						return nil
					}
					return s.point.Revoke(ctx, identity)
				},
				audit: auditdomain.RecordRequest{
					IdentityKey: identity,
					Operation:   auditdomain.OperationUnblock,
					Reason:      reason,
					PerformedBy: performedBy,
					BlockType:   string(current.BlockType),
					Metadata:    map[string]any{"protection_set": req.Manual, "was_blocked": wasBlocked},
				},
				notify: &notificationdomain.Notification{
					IdentityKey: identity,
					Category:    notificationdomain.CategoryUnblocked,
					Initiator:   initiator,
					Reason:      reason,
					PerformedBy: performedBy,
				},
			}, nil
		})
}

func (s *Service) SetProtection(ctx context.Context, req blockingdomain.ProtectionRequest) (blockingdomain.TransitionResult, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return blockingdomain.TransitionResult{}, blockingdomain.ErrInvalidIdentity
	}
	performedBy := actorOrSystem(req.PerformedBy)
	reason := strings.TrimSpace(req.Reason)
	op := auditdomain.OperationUnprotect
	if req.Enabled {
		op = auditdomain.OperationProtect
	}

	return s.transition(ctx, identity, op, performedBy, reason,
		func(ctx context.Context, tx *gorm.DB, current *blockingdomain.State, now time.Time) (*plan, error) {
			changed, err := s.registry.WithTx(tx).SetProtection(ctx, identity, req.Enabled, performedBy)
			if err != nil {
				return nil, err
			}
			if !changed {
				return nil, nil
			}

			next := *current
			if !current.IsBlocked() {
				next.Status = blockingdomain.StatusActive
				if req.Enabled {
					next.Status = blockingdomain.StatusProtected
				}
				next.Reason = reason
				next.SetBy = performedBy
			}
			return &plan{
				next: &next,
				audit: auditdomain.RecordRequest{
					IdentityKey: identity,
					Operation:   op,
					Reason:      reason,
					PerformedBy: performedBy,
				},
			}, nil
		})
}

// transition runs decide against the locked state record inside one store
// transaction and retries the whole unit on serialization failures.
func (s *Service) transition(
	ctx context.Context,
	identity string,
	op auditdomain.Operation,
	performedBy string,
	reason string,
	decide decideFunc,
) (blockingdomain.TransitionResult, error) {
	ctx = obscontext.WithIdentity(ctx, identity)

	var (
		decideErr  error
		compensate func(ctx context.Context) error
		notify     *notificationdomain.Notification
	)
	attempt := func() (blockingdomain.TransitionResult, error) {
		decideErr, compensate, notify = nil, nil, nil
		var result blockingdomain.TransitionResult

		txCtx, cancel := s.withStoreTimeout(ctx)
		defer cancel()

		err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now().UTC()
			if err := s.repo.EnsureExists(txCtx, tx, &blockingdomain.State{
				IdentityKey: identity,
				Status:      blockingdomain.StatusActive,
				BlockType:   blockingdomain.BlockTypeNone,
				CreatedAt:   now,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}

			lockStart := time.Now()
			current, err := s.repo.FindForUpdate(txCtx, tx, identity)
			if err != nil {
				return err
			}
			obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceBlockingState, time.Since(lockStart))
			if current == nil {
				return gorm.ErrRecordNotFound
			}

			p, err := decide(txCtx, tx, current, now)
			if err != nil {
				if isDomainErr(err) {
					decideErr = err
				}
				return err
			}
			if p == nil {
				result = blockingdomain.TransitionResult{State: current}
				return nil
			}

			next := p.next
			next.IdentityKey = identity
			next.Version = current.Version + 1
			next.CreatedAt = current.CreatedAt
			next.UpdatedAt = now
			next.EnforcementPending = p.enforce == nil && current.EnforcementPending
			if err := s.repo.Save(txCtx, tx, next); err != nil {
				return err
			}

			var enforceErr error
			p.audit.EnforcementOutcome = auditdomain.EnforcementNotRequired
			if p.enforce != nil {
				// Bounded by the enforcement point's own timeout. A failure
				// leaves the ledger change in place.
				enforceErr = p.enforce(txCtx)
				if enforceErr != nil {
					p.audit.EnforcementOutcome = auditdomain.EnforcementFailed
					p.audit.Err = enforceErr
					next.EnforcementPending = true
					if err := s.repo.SetEnforcementPending(txCtx, tx, identity, true); err != nil {
						return err
					}
				} else {
					p.audit.EnforcementOutcome = auditdomain.EnforcementApplied
					compensate = p.compensate
				}
			}

			entry, err := s.auditSvc.Record(txCtx, tx, p.audit)
			if err != nil {
				return err
			}

			result = blockingdomain.TransitionResult{
				State:          next,
				Audit:          entry,
				Applied:        true,
				EnforcementErr: enforceErr,
			}
			notify = p.notify
			return nil
		})
		if err == nil {
			return result, nil
		}
		if decideErr != nil {
			return result, backoff.Permanent(decideErr)
		}
		err = pkgdb.Classify(err)
		if errors.Is(err, pkgdb.ErrSerializationFailure) {
			s.log.Debug("transition conflict, retrying", zap.String("identity", identity), zap.Error(err))
			return result, err
		}
		return result, backoff.Permanent(err)
	}

	result, err := backoff.RetryWithData(attempt, backoff.WithContext(s.retryPolicy(), ctx))
	if err != nil {
		if decideErr != nil {
			s.recordTransition(ctx, op, transitionSkipped)
			return blockingdomain.TransitionResult{}, err
		}
		s.compensateEnforcement(ctx, identity, op, compensate)
		if errors.Is(err, pkgdb.ErrSerializationFailure) {
			err = fmt.Errorf("%w: %w", blockingdomain.ErrTransitionConflict, err)
		}
		s.recordFailure(ctx, identity, op, performedBy, reason, err)
		return blockingdomain.TransitionResult{}, err
	}

	if !result.Applied {
		s.recordTransition(ctx, op, transitionSkipped)
		return result, nil
	}
	s.recordTransition(ctx, op, transitionSuccess)
	if result.EnforcementErr != nil && s.obsMetrics != nil {
		s.obsMetrics.RecordEnforcementFailure(ctx, string(op))
	}
	s.log.Info("transition applied",
		zap.String("identity", identity),
		zap.String("operation", string(op)),
		zap.String("status", string(result.State.Status)),
		zap.String("performed_by", performedBy),
		zap.Bool("enforcement_pending", result.EnforcementPending()),
	)
	if notify != nil && s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, *notify)
	}
	return result, nil
}

// Reconcile re-applies the enforcement matching the ledger state. No row lock
// is held across the enforcement call, so the snapshot is re-checked by
// version afterwards; if a transition committed in between, the pass is
// repeated against the new state.
func (s *Service) Reconcile(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return blockingdomain.ErrInvalidIdentity
	}
	ctx = obscontext.WithIdentity(ctx, identity)

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		settled, err := s.reconcileOnce(ctx, identity)
		if err != nil || settled {
			return err
		}
		s.log.Debug("state moved during reconcile, retrying", zap.String("identity", identity), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: reconcile did not settle for %s", blockingdomain.ErrTransitionConflict, identity)
}

// reconcileOnce enforces one snapshot and reports whether that snapshot was
// still current once enforcement returned.
func (s *Service) reconcileOnce(ctx context.Context, identity string) (bool, error) {
	state, err := s.GetState(ctx, identity)
	if err != nil {
		return false, err
	}
	if state == nil {
		return true, nil
	}

	var op auditdomain.Operation
	switch {
	case state.IsBlocked():
		op = auditdomain.OperationBlock
		err = s.point.Revoke(ctx, identity)
	case state.EnforcementPending:
		op = auditdomain.OperationUnblock
		err = s.point.Restore(ctx, identity)
	default:
		return true, nil
	}
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordEnforcementFailure(ctx, string(op))
		}
		return false, err
	}

	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	if state.EnforcementPending {
		cleared, err := s.repo.ClearEnforcementPending(storeCtx, s.db, identity, state.Version)
		if err != nil {
			return false, pkgdb.Classify(err)
		}
		if cleared {
			s.log.Info("enforcement reconciled", zap.String("identity", identity), zap.String("operation", string(op)))
		}
		return cleared, nil
	}

	current, err := s.repo.Find(storeCtx, s.db, identity)
	if err != nil {
		return false, pkgdb.Classify(err)
	}
	return current != nil && current.Version == state.Version, nil
}

func (s *Service) GetState(ctx context.Context, identity string) (*blockingdomain.State, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, blockingdomain.ErrInvalidIdentity
	}
	state, err := s.repo.Find(ctx, s.db, identity)
	if err != nil {
		return nil, pkgdb.Classify(err)
	}
	return state, nil
}

func (s *Service) ListExpired(ctx context.Context, now time.Time, afterIdentity string, limit int) ([]blockingdomain.State, error) {
	states, err := s.repo.ListExpired(ctx, s.db, now, afterIdentity, limit)
	if err != nil {
		return nil, pkgdb.Classify(err)
	}
	return states, nil
}

func (s *Service) ListEnforcementPending(ctx context.Context, afterIdentity string, limit int) ([]blockingdomain.State, error) {
	states, err := s.repo.ListEnforcementPending(ctx, s.db, afterIdentity, limit)
	if err != nil {
		return nil, pkgdb.Classify(err)
	}
	return states, nil
}

func (s *Service) recordFailure(ctx context.Context, identity string, op auditdomain.Operation, performedBy, reason string, cause error) {
	s.recordTransition(ctx, op, transitionFailed)
	s.log.Error("transition not applied",
		zap.String("identity", identity),
		zap.String("operation", string(op)),
		zap.Error(cause),
	)
	if _, err := s.auditSvc.Record(ctx, nil, auditdomain.RecordRequest{
		IdentityKey: identity,
		Operation:   op,
		Reason:      reason,
		PerformedBy: performedBy,
		Outcome:     auditdomain.OutcomeFailed,
		Err:         cause,
	}); err != nil {
		s.log.Warn("failed audit entry not written", zap.String("identity", identity), zap.Error(err))
	}
}

func (s *Service) compensateEnforcement(ctx context.Context, identity string, op auditdomain.Operation, compensate func(context.Context) error) {
	if compensate == nil {
		return
	}
	if err := compensate(ctx); err != nil {
		s.log.Error("enforcement compensation failed",
			zap.String("identity", identity),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
}

func (s *Service) recordTransition(ctx context.Context, op auditdomain.Operation, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordTransition(ctx, string(op), outcome)
	}
}

func (s *Service) retryPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 25 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(eb, maxTransitionRetries)
}

func (s *Service) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// isDomainErr separates validation outcomes of a decision from store
// failures, which are classified and possibly retried.
func isDomainErr(err error) bool {
	return errors.Is(err, blockingdomain.ErrIdentityProtected) ||
		errors.Is(err, protectiondomain.ErrInvalidIdentity)
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return systemActor
	}
	return actor
}

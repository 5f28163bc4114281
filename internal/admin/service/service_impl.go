package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	admindomain "github.com/smallbiznis/quotaguard/internal/admin/domain"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	"github.com/smallbiznis/quotaguard/internal/clock"
	limitsdomain "github.com/smallbiznis/quotaguard/internal/limits/domain"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Orchestrator blockingdomain.Orchestrator
	QuotaSvc     quotadomain.Service
	UsageSvc     usagedomain.Service
	AuditSvc     auditdomain.Service
	Clock        clock.Clock `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	orchestrator blockingdomain.Orchestrator
	quotaSvc     quotadomain.Service
	usageSvc     usagedomain.Service
	auditSvc     auditdomain.Service
	clock        clock.Clock
}

func NewService(p Params) admindomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:          p.Log.Named("admin.service"),
		orchestrator: p.Orchestrator,
		quotaSvc:     p.QuotaSvc,
		usageSvc:     p.UsageSvc,
		auditSvc:     p.AuditSvc,
		clock:        clk,
	}
}

func (s *Service) ManualBlock(ctx context.Context, req admindomain.BlockRequest) (admindomain.ActionResult, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return admindomain.ActionResult{}, admindomain.ErrInvalidIdentity
	}
	performedBy := defaultString(req.PerformedBy, admindomain.DefaultActor)
	ctx = obscontext.WithActor(ctx, "admin", performedBy)

	expiresAt, err := admindomain.ResolveExpiry(req.Duration, req.Until, s.clock.Now())
	if err != nil {
		return admindomain.ActionResult{}, err
	}

	result, err := s.orchestrator.ExecuteBlock(ctx, blockingdomain.BlockRequest{
		IdentityKey: identity,
		Reason:      defaultString(req.Reason, admindomain.DefaultBlockReason),
		PerformedBy: performedBy,
		BlockType:   blockingdomain.BlockTypeManual,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return admindomain.ActionResult{}, err
	}
	return actionResult(result, fmt.Sprintf("identity %s blocked", identity)), nil
}

func (s *Service) ManualUnblock(ctx context.Context, req admindomain.UnblockRequest) (admindomain.ActionResult, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return admindomain.ActionResult{}, admindomain.ErrInvalidIdentity
	}
	performedBy := defaultString(req.PerformedBy, admindomain.DefaultActor)
	ctx = obscontext.WithActor(ctx, "admin", performedBy)

	result, err := s.orchestrator.ExecuteUnblock(ctx, blockingdomain.UnblockRequest{
		IdentityKey: identity,
		Reason:      defaultString(req.Reason, admindomain.DefaultUnblockReason),
		PerformedBy: performedBy,
		Manual:      true,
	})
	if err != nil {
		return admindomain.ActionResult{}, err
	}
	return actionResult(result, fmt.Sprintf("identity %s unblocked", identity)), nil
}

func (s *Service) SetProtection(ctx context.Context, req admindomain.ProtectionRequest) (admindomain.ActionResult, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return admindomain.ActionResult{}, admindomain.ErrInvalidIdentity
	}
	performedBy := defaultString(req.PerformedBy, admindomain.DefaultActor)
	ctx = obscontext.WithActor(ctx, "admin", performedBy)

	result, err := s.orchestrator.SetProtection(ctx, blockingdomain.ProtectionRequest{
		IdentityKey: identity,
		Enabled:     req.Enabled,
		PerformedBy: performedBy,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return admindomain.ActionResult{}, err
	}
	verb := "disabled"
	if req.Enabled {
		verb = "enabled"
	}
	return actionResult(result, fmt.Sprintf("protection %s for identity %s", verb, identity)), nil
}

// CheckStatus is read-only. An identity never seen before reports as
// ACTIVE with zero usage.
func (s *Service) CheckStatus(ctx context.Context, identity string) (admindomain.Status, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return admindomain.Status{}, admindomain.ErrInvalidIdentity
	}
	now := s.clock.Now()
	status := admindomain.Status{
		IdentityKey: identity,
		Status:      blockingdomain.StatusActive,
		BlockType:   blockingdomain.BlockTypeNone,
		CheckedAt:   now.UTC(),
	}

	state, err := s.orchestrator.GetState(ctx, identity)
	if err != nil {
		return admindomain.Status{}, err
	}
	if state != nil {
		status.IsBlocked = state.IsBlocked()
		status.Status = state.Status
		status.BlockType = state.BlockType
		status.Reason = state.Reason
		status.PerformedBy = state.SetBy
		status.BlockedAt = state.BlockedAt
		status.BlockedUntil = state.BlockedUntil
		status.EnforcementPending = state.EnforcementPending
	}

	quota, err := s.quotaSvc.Get(ctx, identity)
	if err != nil && !errors.Is(err, quotadomain.ErrQuotaNotFound) {
		return admindomain.Status{}, err
	}
	if quota == nil {
		return status, nil
	}
	status.DailyLimit = quota.DailyLimit
	status.MonthlyLimit = quota.MonthlyLimit
	status.AdministrativeProtection = quota.AdministrativeProtection

	agg, err := s.usageSvc.Aggregate(ctx, identity, now)
	if err != nil {
		return admindomain.Status{}, err
	}
	status.DailyUsed = agg.DailyUsed
	status.MonthlyUsed = agg.MonthlyUsed
	status.DailyPercent = limitsdomain.Round1(limitsdomain.Percent(agg.DailyUsed, quota.DailyLimit))
	status.MonthlyPercent = limitsdomain.Round1(limitsdomain.Percent(agg.MonthlyUsed, quota.MonthlyLimit))
	return status, nil
}

func (s *Service) UpsertQuota(ctx context.Context, req quotadomain.UpsertRequest) (*quotadomain.QuotaRecord, error) {
	record, err := s.quotaSvc.Upsert(ctx, req)
	if err != nil {
		return nil, err
	}
	s.log.Info("quota updated",
		zap.String("identity", record.IdentityKey),
		zap.Int64("daily_limit", record.DailyLimit),
		zap.Int64("monthly_limit", record.MonthlyLimit),
	)
	return record, nil
}

func (s *Service) GetQuota(ctx context.Context, identity string) (*quotadomain.QuotaRecord, error) {
	return s.quotaSvc.Get(ctx, identity)
}

func (s *Service) ListAudit(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	return s.auditSvc.List(ctx, req)
}

func (s *Service) ListUsage(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	return s.usageSvc.List(ctx, req)
}

func actionResult(result blockingdomain.TransitionResult, message string) admindomain.ActionResult {
	out := admindomain.ActionResult{
		Status:  admindomain.ResultApplied,
		Message: message,
		State:   result.State,
	}
	switch {
	case !result.Applied:
		out.Status = admindomain.ResultUnchanged
		out.Message = "no change"
	case result.EnforcementPending():
		out.Status = admindomain.ResultAppliedEnforcementPending
		out.Message = message + ", enforcement pending"
	}
	return out
}

func defaultString(value, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}

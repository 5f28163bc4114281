package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/quotaguard/internal/clock"
	limitsdomain "github.com/smallbiznis/quotaguard/internal/limits/domain"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	QuotaSvc   quotadomain.Service
	UsageSvc   usagedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Evaluator struct {
	log        *zap.Logger
	quotaSvc   quotadomain.Service
	usageSvc   usagedomain.Service
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewEvaluator(p Params) limitsdomain.Evaluator {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Evaluator{
		log:        p.Log.Named("limits.evaluator"),
		quotaSvc:   p.QuotaSvc,
		usageSvc:   p.UsageSvc,
		obsMetrics: p.ObsMetrics,
		clock:      clk,
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, identity string) (limitsdomain.Decision, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return limitsdomain.Decision{}, limitsdomain.ErrInvalidIdentity
	}

	quota, err := e.quotaSvc.Get(ctx, identity)
	if err != nil {
		return limitsdomain.Decision{}, err
	}
	agg, err := e.usageSvc.Aggregate(ctx, identity, e.clock.Now())
	if err != nil {
		return limitsdomain.Decision{}, err
	}

	decision := limitsdomain.Evaluate(limitsdomain.Input{
		DailyUsed:         agg.DailyUsed,
		MonthlyUsed:       agg.MonthlyUsed,
		DailyLimit:        quota.DailyLimit,
		MonthlyLimit:      quota.MonthlyLimit,
		CriticalThreshold: quota.CriticalThreshold,
		Protected:         quota.AdministrativeProtection,
	})

	if e.obsMetrics != nil {
		e.obsMetrics.RecordDecision(ctx, string(decision.Action), string(decision.Scope))
	}
	if decision.Action != limitsdomain.ActionAllow {
		e.log.Debug("limit evaluated",
			zap.String("identity", identity),
			zap.String("action", string(decision.Action)),
			zap.Float64("daily_percent", decision.DailyPercent),
			zap.Float64("monthly_percent", decision.MonthlyPercent),
		)
	}
	return decision, nil
}

package service

import (
	"context"
	"errors"

	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	limitsdomain "github.com/smallbiznis/quotaguard/internal/limits/domain"
	meteringdomain "github.com/smallbiznis/quotaguard/internal/metering/domain"
	notificationdomain "github.com/smallbiznis/quotaguard/internal/notification/domain"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	UsageSvc     usagedomain.Service
	Evaluator    limitsdomain.Evaluator
	Orchestrator blockingdomain.Orchestrator
	Dispatcher   notificationdomain.Dispatcher `optional:"true"`
}

type Pipeline struct {
	log          *zap.Logger
	usageSvc     usagedomain.Service
	evaluator    limitsdomain.Evaluator
	orchestrator blockingdomain.Orchestrator
	dispatcher   notificationdomain.Dispatcher
}

func NewPipeline(p Params) meteringdomain.Pipeline {
	return &Pipeline{
		log:          p.Log.Named("metering.pipeline"),
		usageSvc:     p.UsageSvc,
		evaluator:    p.Evaluator,
		orchestrator: p.Orchestrator,
		dispatcher:   p.Dispatcher,
	}
}

func (p *Pipeline) Process(ctx context.Context, event usagedomain.Event) (meteringdomain.Outcome, error) {
	result, err := p.usageSvc.Ingest(ctx, event)
	if err != nil {
		return meteringdomain.Outcome{}, err
	}
	outcome := meteringdomain.Outcome{Ingest: result}
	if !result.Accepted || result.Record == nil {
		return outcome, nil
	}

	identity := result.Record.IdentityKey
	ctx = obscontext.WithIdentity(ctx, identity)
	if err := p.evaluate(ctx, identity, &outcome); err != nil {
		outcome.EvaluationError = err.Error()
		p.log.Warn("evaluation after ingest failed",
			zap.String("identity", identity),
			zap.Error(err),
		)
	}
	return outcome, nil
}

func (p *Pipeline) evaluate(ctx context.Context, identity string, outcome *meteringdomain.Outcome) error {
	state, err := p.orchestrator.GetState(ctx, identity)
	if err != nil {
		return err
	}
	if state.IsBlocked() {
		// Ledger state wins; make sure the enforcement point agrees.
		if err := p.orchestrator.Reconcile(ctx, identity); err != nil {
			return err
		}
		outcome.Reconciled = true
		return nil
	}

	decision, err := p.evaluator.Evaluate(ctx, identity)
	if err != nil {
		return err
	}
	outcome.Decision = &decision

	switch decision.Action {
	case limitsdomain.ActionBlock:
		transition, err := p.orchestrator.ExecuteBlock(ctx, blockingdomain.BlockRequest{
			IdentityKey: identity,
			Reason:      decision.Reason,
			BlockType:   blockingdomain.BlockTypeAuto,
		})
		if errors.Is(err, blockingdomain.ErrIdentityProtected) {
			// Protection was set between evaluation and the locked re-check.
			return nil
		}
		if err != nil {
			return err
		}
		outcome.Transition = &transition
	case limitsdomain.ActionWarn:
		if p.dispatcher != nil {
			p.dispatcher.Dispatch(ctx, notificationdomain.Notification{
				IdentityKey:    identity,
				Category:       notificationdomain.CategoryWarn,
				Initiator:      notificationdomain.InitiatorSystem,
				Reason:         decision.Reason,
				DailyPercent:   decision.DailyPercent,
				MonthlyPercent: decision.MonthlyPercent,
			})
		}
	}
	return nil
}

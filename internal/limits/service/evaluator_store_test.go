package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	limitsdomain "github.com/smallbiznis/quotaguard/internal/limits/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	quotarepository "github.com/smallbiznis/quotaguard/internal/quota/repository"
	quotaservice "github.com/smallbiznis/quotaguard/internal/quota/service"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	usagerepository "github.com/smallbiznis/quotaguard/internal/usage/repository"
	usageservice "github.com/smallbiznis/quotaguard/internal/usage/service"
	"github.com/smallbiznis/quotaguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEvaluateAgainstRecordedEvents(t *testing.T) {
	db := dbtest.Open(t, &quotadomain.QuotaRecord{}, &usagedomain.UsageEvent{})
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	cfg := config.Config{}
	cfg.Metering.Timezone = "Europe/Madrid"
	cfg.Timeouts.Store = 5 * time.Second
	limits := config.NewStaticLimitsHolder(config.DefaultLimitsConfig())

	quotaSvc := quotaservice.NewService(quotaservice.Params{
		DB:     db,
		Log:    log,
		Repo:   quotarepository.Provide(),
		Limits: limits,
		Clock:  clk,
	})
	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:       db,
		Log:      log,
		GenID:    node,
		Cfg:      cfg,
		Repo:     usagerepository.Provide(),
		QuotaSvc: quotaSvc,
		Limits:   limits,
		Clock:    clk,
	})
	evaluator := NewEvaluator(Params{Log: log, QuotaSvc: quotaSvc, UsageSvc: usageSvc, Clock: clk})
	ctx := context.Background()

	ingest := func(n int) {
		for i := 0; i < n; i++ {
			result, err := usageSvc.Ingest(ctx, usagedomain.Event{
				IdentityRef: "alice",
				GroupRef:    "research",
				Timestamp:   clk.Now(),
				ResourceID:  "model-large",
			})
			require.NoError(t, err)
			require.True(t, result.Accepted)
		}
	}

	ingest(300)
	decision, err := evaluator.Evaluate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, limitsdomain.ActionWarn, decision.Action)
	assert.Equal(t, limitsdomain.ScopeDaily, decision.Scope)

	ingest(51)
	decision, err = evaluator.Evaluate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, limitsdomain.ActionBlock, decision.Action)
	assert.Equal(t, limitsdomain.ScopeDaily, decision.Scope)
	assert.Contains(t, decision.Reason, "Daily")
	assert.Contains(t, decision.Reason, "351 of 350")
}

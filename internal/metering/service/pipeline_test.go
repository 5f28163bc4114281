package service

import (
	"context"
	"errors"
	"testing"
	"time"

	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	limitsdomain "github.com/smallbiznis/quotaguard/internal/limits/domain"
	notificationdomain "github.com/smallbiznis/quotaguard/internal/notification/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	pkgdb "github.com/smallbiznis/quotaguard/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type usageServiceMock struct {
	mock.Mock
	usagedomain.Service
}

func (m *usageServiceMock) Ingest(ctx context.Context, event usagedomain.Event) (usagedomain.IngestResult, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(usagedomain.IngestResult), args.Error(1)
}

type evaluatorMock struct {
	mock.Mock
}

func (m *evaluatorMock) Evaluate(ctx context.Context, identity string) (limitsdomain.Decision, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(limitsdomain.Decision), args.Error(1)
}

type orchestratorMock struct {
	mock.Mock
	blockingdomain.Orchestrator
}

func (m *orchestratorMock) GetState(ctx context.Context, identity string) (*blockingdomain.State, error) {
	args := m.Called(ctx, identity)
	state, _ := args.Get(0).(*blockingdomain.State)
	return state, args.Error(1)
}

func (m *orchestratorMock) Reconcile(ctx context.Context, identity string) error {
	return m.Called(ctx, identity).Error(0)
}

func (m *orchestratorMock) ExecuteBlock(ctx context.Context, req blockingdomain.BlockRequest) (blockingdomain.TransitionResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(blockingdomain.TransitionResult), args.Error(1)
}

type dispatcherMock struct {
	mock.Mock
}

func (m *dispatcherMock) Dispatch(ctx context.Context, n notificationdomain.Notification) {
	m.Called(ctx, n)
}

type pipelineFixture struct {
	pipeline     *Pipeline
	usage        *usageServiceMock
	evaluator    *evaluatorMock
	orchestrator *orchestratorMock
	dispatcher   *dispatcherMock
}

func newPipelineFixture() pipelineFixture {
	f := pipelineFixture{
		usage:        &usageServiceMock{},
		evaluator:    &evaluatorMock{},
		orchestrator: &orchestratorMock{},
		dispatcher:   &dispatcherMock{},
	}
	f.pipeline = NewPipeline(Params{
		Log:          zap.NewNop(),
		UsageSvc:     f.usage,
		Evaluator:    f.evaluator,
		Orchestrator: f.orchestrator,
		Dispatcher:   f.dispatcher,
	}).(*Pipeline)
	return f
}

func acceptedFor(identity string) usagedomain.IngestResult {
	return usagedomain.IngestResult{
		Accepted: true,
		Record:   &usagedomain.UsageEvent{IdentityKey: identity},
	}
}

func testEvent(identity string) usagedomain.Event {
	return usagedomain.Event{
		IdentityRef: identity,
		GroupRef:    "research",
		Timestamp:   time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		ResourceID:  "model-large",
	}
}

func TestProcessBlocksWhenLimitExceeded(t *testing.T) {
	f := newPipelineFixture()
	event := testEvent("alice")
	decision := limitsdomain.Decision{
		Action: limitsdomain.ActionBlock,
		Reason: "Daily limit exceeded: 351 of 350 requests (100.3%)",
		Scope:  limitsdomain.ScopeDaily,
	}

	f.usage.On("Ingest", mock.Anything, event).Return(acceptedFor("alice"), nil)
	f.orchestrator.On("GetState", mock.Anything, "alice").Return(nil, nil)
	f.evaluator.On("Evaluate", mock.Anything, "alice").Return(decision, nil)
	f.orchestrator.On("ExecuteBlock", mock.Anything, blockingdomain.BlockRequest{
		IdentityKey: "alice",
		Reason:      decision.Reason,
		BlockType:   blockingdomain.BlockTypeAuto,
	}).Return(blockingdomain.TransitionResult{Applied: true}, nil)

	outcome, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	require.NotNil(t, outcome.Decision)
	assert.Equal(t, limitsdomain.ActionBlock, outcome.Decision.Action)
	require.NotNil(t, outcome.Transition)
	assert.True(t, outcome.Transition.Applied)
	assert.Empty(t, outcome.EvaluationError)
	f.orchestrator.AssertExpectations(t)
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestProcessWarnsNearLimit(t *testing.T) {
	f := newPipelineFixture()
	event := testEvent("bob")
	decision := limitsdomain.Decision{
		Action:       limitsdomain.ActionWarn,
		Reason:       "Daily usage at 90.0%",
		Scope:        limitsdomain.ScopeDaily,
		DailyPercent: 90,
	}

	f.usage.On("Ingest", mock.Anything, event).Return(acceptedFor("bob"), nil)
	f.orchestrator.On("GetState", mock.Anything, "bob").Return(&blockingdomain.State{Status: blockingdomain.StatusActive}, nil)
	f.evaluator.On("Evaluate", mock.Anything, "bob").Return(decision, nil)
	f.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(n notificationdomain.Notification) bool {
		return n.IdentityKey == "bob" && n.Category == notificationdomain.CategoryWarn && n.DailyPercent == 90
	})).Return()

	outcome, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Nil(t, outcome.Transition)
	f.dispatcher.AssertExpectations(t)
	f.orchestrator.AssertNotCalled(t, "ExecuteBlock", mock.Anything, mock.Anything)
}

func TestProcessReconcilesAlreadyBlockedIdentity(t *testing.T) {
	f := newPipelineFixture()
	event := testEvent("carol")

	f.usage.On("Ingest", mock.Anything, event).Return(acceptedFor("carol"), nil)
	f.orchestrator.On("GetState", mock.Anything, "carol").Return(&blockingdomain.State{Status: blockingdomain.StatusBlocked}, nil)
	f.orchestrator.On("Reconcile", mock.Anything, "carol").Return(nil)

	outcome, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, outcome.Reconciled)
	assert.Nil(t, outcome.Decision)
	f.evaluator.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}

func TestProcessSkipsEvaluationForFilteredEvents(t *testing.T) {
	f := newPipelineFixture()
	event := usagedomain.Event{IdentityRef: "unknown", GroupRef: "unknown"}

	f.usage.On("Ingest", mock.Anything, event).Return(usagedomain.Rejected(usagedomain.RejectUnresolvableIdentity), nil)

	outcome, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, outcome.Ingest.Filtered())
	f.orchestrator.AssertNotCalled(t, "GetState", mock.Anything, mock.Anything)
}

func TestProcessReturnsStoreFailure(t *testing.T) {
	f := newPipelineFixture()
	event := testEvent("dave")

	f.usage.On("Ingest", mock.Anything, event).Return(usagedomain.IngestResult{}, pkgdb.ErrStoreUnavailable)

	_, err := f.pipeline.Process(context.Background(), event)
	require.ErrorIs(t, err, pkgdb.ErrStoreUnavailable)
}

func TestProcessReportsEvaluationFailureWithoutError(t *testing.T) {
	f := newPipelineFixture()
	event := testEvent("erin")

	f.usage.On("Ingest", mock.Anything, event).Return(acceptedFor("erin"), nil)
	f.orchestrator.On("GetState", mock.Anything, "erin").Return(nil, nil)
	f.evaluator.On("Evaluate", mock.Anything, "erin").Return(limitsdomain.Decision{}, errors.New("quota lookup failed"))

	outcome, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, outcome.Ingest.Accepted)
	assert.Contains(t, outcome.EvaluationError, "quota lookup failed")
}

func TestProcessIgnoresProtectionRace(t *testing.T) {
	f := newPipelineFixture()
	event := testEvent("frank")

	f.usage.On("Ingest", mock.Anything, event).Return(acceptedFor("frank"), nil)
	f.orchestrator.On("GetState", mock.Anything, "frank").Return(nil, nil)
	f.evaluator.On("Evaluate", mock.Anything, "frank").Return(limitsdomain.Decision{Action: limitsdomain.ActionBlock}, nil)
	f.orchestrator.On("ExecuteBlock", mock.Anything, mock.Anything).Return(blockingdomain.TransitionResult{}, blockingdomain.ErrIdentityProtected)

	outcome, err := f.pipeline.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, outcome.EvaluationError)
	assert.Nil(t, outcome.Transition)
}

// Package domain defines the metering pipeline: one usage event flows through
// ingestion, limit evaluation and, when a threshold is crossed, the blocking
// orchestrator.
package domain

import (
	"context"

	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	limitsdomain "github.com/smallbiznis/quotaguard/internal/limits/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
)

// Outcome reports what the pipeline did with one event.
type Outcome struct {
	Ingest     usagedomain.IngestResult         `json:"ingest"`
	Decision   *limitsdomain.Decision           `json:"decision,omitempty"`
	Transition *blockingdomain.TransitionResult `json:"-"`
	// Reconciled is set when the identity was already blocked and the
	// revoke was re-issued instead of evaluating.
	Reconciled bool `json:"reconciled,omitempty"`
	// EvaluationError carries a failure after the event was stored. The
	// event is not retried for it.
	EvaluationError string `json:"evaluation_error,omitempty"`
}

type Pipeline interface {
	// Process returns an error only when the event was not stored.
	Process(ctx context.Context, event usagedomain.Event) (Outcome, error)
}

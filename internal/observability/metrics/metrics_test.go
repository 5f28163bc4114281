package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("identity", "alice@example.com"),
		attribute.String("kind", "invoke"),
		attribute.String("reason", "missing_identity"),
	)
	require.Len(t, attrs, 2)
	for _, attr := range attrs {
		require.NotEqual(t, attribute.Key("identity"), attr.Key)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordUsageIngest(context.Background(), "invoke")
		m.RecordDecision(context.Background(), "BLOCK", "daily")
		m.RecordRateLimitDenied(context.Background(), "/v1/usage/events", "identity")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "quotaguard"}, noop.NewMeterProvider())
	require.NoError(t, err)
	require.NotNil(t, m)
	m.RecordTransition(context.Background(), "BLOCK", "SUCCESS")
}

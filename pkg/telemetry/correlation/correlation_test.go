package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "req-1")
	ctx, cid := EnsureCorrelationID(ctx)
	require.Equal(t, "req-1", cid)
	require.Equal(t, "req-1", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.Len(t, cid, 26)
	require.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestFieldsWithRemoteSpan(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	ctx = ContextWithCorrelationID(ctx, "req-2")

	fields := Fields(ctx)
	require.Equal(t, "req-2", fields["correlation_id"])
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	require.Equal(t, "00f067aa0ba902b7", fields["span_id"])
}

func TestFieldsEmpty(t *testing.T) {
	require.Empty(t, Fields(context.Background()))
}

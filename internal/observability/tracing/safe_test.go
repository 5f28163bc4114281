package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPersonalData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/admin/status/:identity"),
		attribute.String("identity", "alice@example.com"),
		attribute.String("source_ip", "10.0.0.1"),
	)
	require.Len(t, attrs, 1)
	require.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	require.Nil(t, SafeError(nil))

	err := SafeError(errors.New("first line\nSELECT * FROM identity_quotas"))
	require.Equal(t, "first line", err.Error())

	long := SafeError(errors.New(strings.Repeat("x", 1000)))
	require.Len(t, long.Error(), 256)
}

func TestIdentityHashIsStableAndCaseInsensitive(t *testing.T) {
	h := IdentityHash("Alice@Example.com ")
	require.Len(t, h, 12)
	require.Equal(t, h, IdentityHash("alice@example.com"))
	require.NotEqual(t, h, IdentityHash("bob@example.com"))
}

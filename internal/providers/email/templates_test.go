package email

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSummary struct {
	Unblocked         int
	UnblockFailed     int
	ProtectionCleared int
	ProtectionFailed  int
	NotProcessed      int
	Cancelled         bool
	Failures          []string
}

type testData struct {
	DisplayName    string
	PerformedBy    string
	Reason         string
	BlockedUntil   string
	DailyPercent   float64
	MonthlyPercent float64
	SentAt         string
	Summary        *testSummary
}

func TestRenderAllTemplates(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	data := testData{
		DisplayName:    "alice",
		PerformedBy:    "admin@example.com",
		Reason:         "Daily limit exceeded <350>",
		DailyPercent:   86.25,
		MonthlyPercent: 10,
		SentAt:         "2026-05-04 10:00 CEST",
		Summary:        &testSummary{Unblocked: 3, Failures: []string{"bob: timeout"}},
	}

	for name := range subjects {
		subject, body, err := renderer.Render(name, data)
		require.NoError(t, err, name)
		assert.NotEmpty(t, subject)
		assert.True(t, strings.HasPrefix(body, "<!DOCTYPE html>"), name)
	}

	_, body, err := renderer.Render(TemplateWarning, data)
	require.NoError(t, err)
	assert.Contains(t, body, "86.2%")
	assert.Contains(t, body, "&lt;350&gt;")

	_, body, err = renderer.Render(TemplateAdminBlocked, data)
	require.NoError(t, err)
	assert.Contains(t, body, "no expiry")

	_, body, err = renderer.Render(TemplateSweepSummary, data)
	require.NoError(t, err)
	assert.Contains(t, body, "Unblocked: 3")
	assert.Contains(t, body, "bob: timeout")
}

func TestRenderUnknownTemplate(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	_, _, err = renderer.Render("invoice_new", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestBuildMessageHeaders(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	msg := string(buildMessage("quotaguard@localhost", []string{"a@example.com", "b@example.com"}, "Access restored", "<p>hi</p>", at))

	assert.Contains(t, msg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, msg, "Subject: Access restored\r\n")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\n<p>hi</p>"))
}

func TestSendWithoutRecipients(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)
	provider := NewSMTP(Config{Host: "localhost", Port: 2525}, renderer)

	err = provider.Send(t.Context(), []string{" "}, "s", "b")
	assert.ErrorIs(t, err, ErrNoRecipients)
}

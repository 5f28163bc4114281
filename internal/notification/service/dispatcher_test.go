package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	notificationdomain "github.com/smallbiznis/quotaguard/internal/notification/domain"
	"github.com/smallbiznis/quotaguard/internal/providers/email"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentMail struct {
	to       []string
	template string
	data     any
}

type fakeProvider struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (p *fakeProvider) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	return p.err
}

func (p *fakeProvider) SendTemplate(ctx context.Context, to []string, templateName string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMail{to: to, template: templateName, data: data})
	return nil
}

func (p *fakeProvider) messages() []sentMail {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMail(nil), p.sent...)
}

type fakeQuotaService struct {
	quotadomain.Service
	records map[string]*quotadomain.QuotaRecord
}

func (f *fakeQuotaService) Get(ctx context.Context, identity string) (*quotadomain.QuotaRecord, error) {
	if record, ok := f.records[identity]; ok {
		return record, nil
	}
	return nil, quotadomain.ErrQuotaNotFound
}

func (f *fakeQuotaService) WithTx(*gorm.DB) quotadomain.Service { return f }

func newTestDispatcher(provider email.Provider, clk clock.Clock) *EmailDispatcher {
	cfg := config.Config{}
	cfg.Metering.Timezone = "UTC"
	cfg.Email.AdminEmail = "ops@example.com"
	cfg.Timeouts.Notification = time.Second
	return NewDispatcher(Params{
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Provider: provider,
		QuotaSvc: &fakeQuotaService{records: map[string]*quotadomain.QuotaRecord{
			"alice": {IdentityKey: "alice", Email: "alice@example.com"},
		}},
		Clock: clk,
	})
}

func waitDrained(t *testing.T, d *EmailDispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDispatchResolvesRecipientAndTemplate(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(provider, clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)))
	until := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)

	d.Dispatch(context.Background(), notificationdomain.Notification{
		IdentityKey:  "alice",
		Category:     notificationdomain.CategoryBlocked,
		Initiator:    notificationdomain.InitiatorSystem,
		Reason:       "Daily limit exceeded",
		BlockedUntil: &until,
	})
	d.Dispatch(context.Background(), notificationdomain.Notification{
		IdentityKey: "bob@example.com",
		Category:    notificationdomain.CategoryUnblocked,
		Initiator:   notificationdomain.InitiatorAdmin,
		PerformedBy: "root",
	})
	waitDrained(t, d)

	sent := provider.messages()
	require.Len(t, sent, 2)
	byTemplate := map[string]sentMail{}
	for _, m := range sent {
		byTemplate[m.template] = m
	}
	require.Contains(t, byTemplate, email.TemplateBlocked)
	assert.Equal(t, []string{"alice@example.com"}, byTemplate[email.TemplateBlocked].to)
	data := byTemplate[email.TemplateBlocked].data.(templateData)
	assert.Equal(t, "2026-05-05 00:00 UTC", data.BlockedUntil)

	require.Contains(t, byTemplate, email.TemplateAdminUnblocked)
	assert.Equal(t, []string{"bob@example.com"}, byTemplate[email.TemplateAdminUnblocked].to)
}

func TestDispatchWarnOncePerDay(t *testing.T) {
	provider := &fakeProvider{}
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	d := newTestDispatcher(provider, clk)
	warn := notificationdomain.Notification{IdentityKey: "alice", Category: notificationdomain.CategoryWarn}

	d.Dispatch(context.Background(), warn)
	d.Dispatch(context.Background(), warn)
	waitDrained(t, d)
	assert.Len(t, provider.messages(), 1)

	clk.Advance(24 * time.Hour)
	d.Dispatch(context.Background(), warn)
	waitDrained(t, d)
	assert.Len(t, provider.messages(), 2)
}

func TestDeliverSkipsWithoutRecipient(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(provider, clock.NewFakeClock(time.Now()))

	err := d.Deliver(context.Background(), notificationdomain.Notification{
		IdentityKey: "svc-account-7",
		Category:    notificationdomain.CategoryBlocked,
	})
	require.NoError(t, err)
	assert.Empty(t, provider.messages())
}

func TestDeliverSummaryGoesToAdmin(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(provider, clock.NewFakeClock(time.Now()))

	err := d.Deliver(context.Background(), notificationdomain.Notification{
		Category: notificationdomain.CategoryAdminAction,
		Summary:  &notificationdomain.SweepSummary{Unblocked: 2},
	})
	require.NoError(t, err)
	sent := provider.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, sent[0].to)
	assert.Equal(t, email.TemplateSweepSummary, sent[0].template)
}

func TestDeliverWrapsProviderFailure(t *testing.T) {
	d := newTestDispatcher(&fakeProvider{err: errors.New("smtp down")}, clock.NewFakeClock(time.Now()))

	err := d.Deliver(context.Background(), notificationdomain.Notification{
		IdentityKey: "alice",
		Category:    notificationdomain.CategoryUnblocked,
	})
	assert.ErrorIs(t, err, notificationdomain.ErrNotificationFailed)
}

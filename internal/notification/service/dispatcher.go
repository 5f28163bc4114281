package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/quotaguard/internal/cache"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	notificationdomain "github.com/smallbiznis/quotaguard/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	"github.com/smallbiznis/quotaguard/internal/providers/email"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	warnDedupeTTL = 24 * time.Hour

	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Provider   email.Provider
	QuotaSvc   quotadomain.Service
	Dedupe     cache.Dedupe        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type EmailDispatcher struct {
	log        *zap.Logger
	provider   email.Provider
	quotaSvc   quotadomain.Service
	dedupe     cache.Dedupe
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
	loc        *time.Location
	adminEmail string
	timeout    time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(p Params) *EmailDispatcher {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	dedupe := p.Dedupe
	if dedupe == nil {
		dedupe = cache.NewDedupe(0)
	}
	return &EmailDispatcher{
		log:        p.Log.Named("notification.dispatcher"),
		provider:   p.Provider,
		quotaSvc:   p.QuotaSvc,
		dedupe:     dedupe,
		obsMetrics: p.ObsMetrics,
		clock:      clk,
		loc:        p.Cfg.Location(),
		adminEmail: strings.TrimSpace(p.Cfg.Email.AdminEmail),
		timeout:    p.Cfg.Timeouts.Notification,
	}
}

// Dispatch sends n in the background. Warnings go out at most once per
// identity per local day.
func (d *EmailDispatcher) Dispatch(ctx context.Context, n notificationdomain.Notification) {
	if n.Category == notificationdomain.CategoryWarn {
		day := d.clock.Now().In(d.loc).Format(clock.DayLayout)
		if !d.dedupe.FirstSeen(cache.Key("warn", n.IdentityKey, day), warnDedupeTTL) {
			return
		}
	}

	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		if err := d.Deliver(sendCtx, n); err != nil {
			d.log.Warn("notification failed",
				zap.String("identity", n.IdentityKey),
				zap.String("category", string(n.Category)),
				zap.Error(err),
			)
		}
	}()
}

// Deliver sends n synchronously.
func (d *EmailDispatcher) Deliver(ctx context.Context, n notificationdomain.Notification) error {
	recipient := d.recipient(ctx, n)
	if recipient == "" {
		d.record(ctx, n.Category, outcomeSkipped)
		d.log.Debug("notification skipped, no recipient",
			zap.String("identity", n.IdentityKey),
			zap.String("category", string(n.Category)),
		)
		return nil
	}

	if err := d.provider.SendTemplate(ctx, []string{recipient}, templateFor(n), d.templateData(n)); err != nil {
		d.record(ctx, n.Category, outcomeFailed)
		return fmt.Errorf("%w: %v", notificationdomain.ErrNotificationFailed, err)
	}
	d.record(ctx, n.Category, outcomeSent)
	return nil
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (d *EmailDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *EmailDispatcher) recipient(ctx context.Context, n notificationdomain.Notification) string {
	if r := strings.TrimSpace(n.Recipient); r != "" {
		return r
	}
	if n.Category == notificationdomain.CategoryAdminAction && n.Summary != nil {
		return d.adminEmail
	}
	if strings.TrimSpace(n.IdentityKey) == "" {
		return ""
	}
	if d.quotaSvc != nil {
		record, err := d.quotaSvc.Get(ctx, n.IdentityKey)
		if err == nil && record != nil && strings.TrimSpace(record.Email) != "" {
			return strings.TrimSpace(record.Email)
		}
	}
	// Identities are often the user's address already.
	if addr, err := mail.ParseAddress(n.IdentityKey); err == nil {
		return addr.Address
	}
	return ""
}

type templateData struct {
	DisplayName    string
	PerformedBy    string
	Reason         string
	BlockedUntil   string
	DailyPercent   float64
	MonthlyPercent float64
	SentAt         string
	Summary        *notificationdomain.SweepSummary
}

func (d *EmailDispatcher) templateData(n notificationdomain.Notification) templateData {
	data := templateData{
		DisplayName:    displayName(n.IdentityKey),
		PerformedBy:    n.PerformedBy,
		Reason:         n.Reason,
		DailyPercent:   n.DailyPercent,
		MonthlyPercent: n.MonthlyPercent,
		SentAt:         d.clock.Now().In(d.loc).Format("2006-01-02 15:04 MST"),
		Summary:        n.Summary,
	}
	if n.BlockedUntil != nil {
		data.BlockedUntil = n.BlockedUntil.In(d.loc).Format("2006-01-02 15:04 MST")
	}
	if data.Summary == nil {
		data.Summary = &notificationdomain.SweepSummary{}
	}
	return data
}

func (d *EmailDispatcher) record(ctx context.Context, category notificationdomain.Category, outcome string) {
	if d.obsMetrics != nil {
		d.obsMetrics.RecordNotification(ctx, string(category), outcome)
	}
}

func templateFor(n notificationdomain.Notification) string {
	admin := n.Initiator == notificationdomain.InitiatorAdmin
	switch n.Category {
	case notificationdomain.CategoryWarn:
		return email.TemplateWarning
	case notificationdomain.CategoryBlocked:
		if admin {
			return email.TemplateAdminBlocked
		}
		return email.TemplateBlocked
	case notificationdomain.CategoryUnblocked:
		if admin {
			return email.TemplateAdminUnblocked
		}
		return email.TemplateUnblocked
	default:
		return email.TemplateSweepSummary
	}
}

func displayName(identity string) string {
	identity = strings.TrimSpace(identity)
	if local, _, found := strings.Cut(identity, "@"); found && local != "" {
		return local
	}
	return identity
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	pkgdb "github.com/smallbiznis/quotaguard/pkg/db"
	"github.com/smallbiznis/quotaguard/pkg/db/option"
	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
	"github.com/smallbiznis/quotaguard/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Repo       usagedomain.Repository
	QuotaSvc   quotadomain.Service
	Limits     *config.LimitsConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics        `optional:"true"`
	Clock      clock.Clock                `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	loc          *time.Location
	storeTimeout time.Duration
	repo         usagedomain.Repository
	usagerepo    repository.Repository[usagedomain.UsageEvent]
	quotaSvc     quotadomain.Service
	limits       *config.LimitsConfigHolder
	obsMetrics   *obsmetrics.Metrics
	clock        clock.Clock
}

func NewService(p ServiceParam) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:        p.GenID,
		loc:          p.Cfg.Location(),
		storeTimeout: p.Cfg.Timeouts.Store,
		repo:         p.Repo,
		usagerepo:    repository.ProvideStore[usagedomain.UsageEvent](p.DB),
		quotaSvc:     p.QuotaSvc,
		limits:       p.Limits,
		obsMetrics:   p.ObsMetrics,
		clock:        clk,
	}
}

func (s *Service) Ingest(ctx context.Context, event usagedomain.Event) (usagedomain.IngestResult, error) {
	if event.Unresolvable() {
		s.reject(ctx, usagedomain.RejectUnresolvableIdentity)
		return usagedomain.Rejected(usagedomain.RejectUnresolvableIdentity), nil
	}

	identity := strings.TrimSpace(event.IdentityRef)
	if identity == "" {
		s.reject(ctx, usagedomain.RejectMissingIdentity)
		return usagedomain.Rejected(usagedomain.RejectMissingIdentity), nil
	}
	kind, ok := usagedomain.ParseRequestKind(event.Kind)
	if !ok {
		s.reject(ctx, usagedomain.RejectInvalidKind)
		return usagedomain.Rejected(usagedomain.RejectInvalidKind), nil
	}
	if reason, ok := validateEvent(event); !ok {
		s.reject(ctx, reason)
		return usagedomain.Rejected(reason), nil
	}

	now := s.clock.Now().UTC()
	occurredAt := event.Timestamp.UTC()
	resourceID := strings.TrimSpace(event.ResourceID)
	group := slug.Make(event.GroupRef)

	record := &usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		IdentityKey:    identity,
		GroupKey:       group,
		Kind:           kind,
		ResourceID:     resourceID,
		Region:         strings.TrimSpace(event.Region),
		QuantityIn:     event.QuantityIn,
		QuantityOut:    event.QuantityOut,
		Cost:           s.limits.Get().Cost(resourceID, event.QuantityIn, event.QuantityOut),
		SourceIP:       strings.TrimSpace(event.SourceIP),
		UserAgent:      strings.TrimSpace(event.UserAgent),
		CorrelationID:  strings.TrimSpace(event.CorrelationID),
		StatusCode:     event.StatusCode,
		ErrorMessage:   strings.TrimSpace(event.ErrorMessage),
		ResponseTimeMs: event.ResponseTimeMs,
		OccurredAt:     occurredAt,
		UsageDate:      clock.UsageDay(occurredAt, s.loc),
		UsageMonth:     clock.UsageMonth(occurredAt, s.loc),
		CreatedAt:      now,
	}

	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	err := s.db.WithContext(storeCtx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.quotaSvc.WithTx(tx).EnsureProvisioned(storeCtx, identity, group); err != nil {
			return err
		}
		return s.repo.Insert(storeCtx, tx, record)
	})
	if err != nil {
		err = pkgdb.Classify(err)
		s.log.Warn("usage ingest failed",
			zap.String("identity", identity),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return usagedomain.IngestResult{}, fmt.Errorf("ingest usage: %w", err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsageIngest(ctx, string(kind))
	}

	return usagedomain.IngestResult{Accepted: true, Record: record}, nil
}

func (s *Service) Aggregate(ctx context.Context, identity string, at time.Time) (usagedomain.Aggregate, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return usagedomain.Aggregate{}, usagedomain.ErrInvalidIdentity
	}

	agg := usagedomain.Aggregate{
		IdentityKey: identity,
		Day:         clock.UsageDay(at, s.loc),
		Month:       clock.UsageMonth(at, s.loc),
	}

	storeCtx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	daily, err := s.repo.CountByDay(storeCtx, s.db, identity, agg.Day)
	if err != nil {
		return usagedomain.Aggregate{}, pkgdb.Classify(err)
	}
	monthly, err := s.repo.CountByMonth(storeCtx, s.db, identity, agg.Month)
	if err != nil {
		return usagedomain.Aggregate{}, pkgdb.Classify(err)
	}

	agg.DailyUsed = daily
	agg.MonthlyUsed = monthly
	return agg, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidIdentity
	}

	pageSize := req.Limit()
	opts := []option.QueryOption{
		option.WithSortBy("id", true),
		option.WithLimit(pageSize + 1),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidPageToken
		}
		beforeID, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || beforeID == 0 {
			return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidPageToken
		}
		opts = append(opts, option.WithWhere("id < ?", beforeID))
	}

	items, err := s.usagerepo.Find(ctx, &usagedomain.UsageEvent{IdentityKey: identity}, opts...)
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *usagedomain.UsageEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	records := make([]usagedomain.UsageEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := usagedomain.ListUsageResponse{UsageEvents: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := s.repo.DeleteBefore(ctx, s.db, before)
	if err != nil {
		return 0, pkgdb.Classify(err)
	}
	if deleted > 0 {
		s.log.Info("purged usage events", zap.Int64("deleted", deleted), zap.Time("before", before))
	}
	return deleted, nil
}

func (s *Service) reject(ctx context.Context, reason usagedomain.RejectReason) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsageRejected(ctx, string(reason))
	}
	if reason == usagedomain.RejectUnresolvableIdentity {
		return
	}
	s.log.Debug("usage event rejected", zap.String("reason", string(reason)))
}

func (s *Service) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func validateEvent(event usagedomain.Event) (usagedomain.RejectReason, bool) {
	if event.Timestamp.IsZero() {
		return usagedomain.RejectMissingTimestamp, false
	}
	if strings.TrimSpace(event.ResourceID) == "" {
		return usagedomain.RejectMissingResource, false
	}
	if event.QuantityIn < 0 || event.QuantityOut < 0 {
		return usagedomain.RejectInvalidQuantity, false
	}
	return "", true
}

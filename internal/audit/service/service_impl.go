package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/internal/clock"
	obscontext "github.com/smallbiznis/quotaguard/internal/observability/context"
	"github.com/smallbiznis/quotaguard/pkg/db/pagination"
	"github.com/smallbiznis/quotaguard/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxErrorMessageLen = 1024

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, req auditdomain.RecordRequest) (*auditdomain.Entry, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return nil, auditdomain.ErrInvalidIdentity
	}
	if !req.Operation.Valid() {
		return nil, auditdomain.ErrInvalidOperation
	}

	outcome := req.Outcome
	if outcome == "" {
		outcome = auditdomain.OutcomeSuccess
	}
	enforcement := req.EnforcementOutcome
	if enforcement == "" {
		enforcement = auditdomain.EnforcementNotRequired
	}
	performedBy := strings.TrimSpace(req.PerformedBy)
	if performedBy == "" {
		performedBy = "system"
	}

	payload := map[string]any{}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}
	for key, value := range correlation.Fields(ctx) {
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.Entry{
		ID:                 s.genID.Generate(),
		IdentityKey:        identity,
		Operation:          req.Operation,
		Reason:             strings.TrimSpace(req.Reason),
		PerformedBy:        performedBy,
		BlockType:          req.BlockType,
		ExpiresAt:          utcPointer(req.ExpiresAt),
		Outcome:            outcome,
		EnforcementOutcome: enforcement,
		ErrorMessage:       errorMessage(req.Err),
		CreatedAt:          s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if len(payload) > 0 {
		entry.Metadata = datatypes.JSONMap(payload)
	}

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &entry); err != nil {
		s.log.Warn("failed to write audit entry",
			zap.String("identity", identity),
			zap.String("operation", string(req.Operation)),
			zap.Error(err),
		)
		return nil, err
	}
	return &entry, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	operation := auditdomain.Operation(strings.ToUpper(strings.TrimSpace(req.Operation)))
	if operation != "" && !operation.Valid() {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidOperation
	}

	var beforeID snowflake.ID
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		beforeID = id
	}

	pageSize := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		IdentityKey: req.IdentityKey,
		Operation:   operation,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		BeforeID:    beforeID,
		Limit:       pageSize,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *auditdomain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	entries := make([]auditdomain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := auditdomain.ListResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := s.repo.DeleteBefore(ctx, s.db, before)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("purged audit entries", zap.Int64("deleted", deleted), zap.Time("before", before))
	}
	return deleted, nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}

func utcPointer(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}

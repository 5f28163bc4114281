package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Repo   quotadomain.Repository
	Limits *config.LimitsConfigHolder `optional:"true"`
	Clock  clock.Clock                `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   quotadomain.Repository
	limits *config.LimitsConfigHolder
	clock  clock.Clock
}

func NewService(p Params) quotadomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("quota.service"),
		repo:   p.Repo,
		limits: p.Limits,
		clock:  clk,
	}
}

func (s *Service) WithTx(tx *gorm.DB) quotadomain.Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	return &clone
}

func (s *Service) EnsureProvisioned(ctx context.Context, identity, group string) (*quotadomain.QuotaRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, quotadomain.ErrInvalidIdentity
	}

	existing, err := s.repo.FindByIdentity(ctx, s.db, identity)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	record := s.newRecord(identity, strings.TrimSpace(group))
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.log.Info("quota provisioned with defaults",
			zap.String("identity", identity),
			zap.Int64("daily_limit", record.DailyLimit),
			zap.Int64("monthly_limit", record.MonthlyLimit),
		)
		return record, nil
	}

	existing, err = s.repo.FindByIdentity(ctx, s.db, identity)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, quotadomain.ErrQuotaNotFound
	}
	return existing, nil
}

func (s *Service) Get(ctx context.Context, identity string) (*quotadomain.QuotaRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, quotadomain.ErrInvalidIdentity
	}
	record, err := s.repo.FindByIdentity(ctx, s.db, identity)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, quotadomain.ErrQuotaNotFound
	}
	return record, nil
}

func (s *Service) Upsert(ctx context.Context, req quotadomain.UpsertRequest) (*quotadomain.QuotaRecord, error) {
	identity := strings.TrimSpace(req.IdentityKey)
	if identity == "" {
		return nil, quotadomain.ErrInvalidIdentity
	}
	if err := validateUpsert(req); err != nil {
		return nil, err
	}

	var result *quotadomain.QuotaRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group := ""
		if req.GroupKey != nil {
			group = strings.TrimSpace(*req.GroupKey)
		}
		record, err := s.WithTx(tx).EnsureProvisioned(ctx, identity, group)
		if err != nil {
			return err
		}

		updated := *record
		applyUpsert(&updated, req)
		if updated.WarningThreshold > updated.CriticalThreshold {
			return quotadomain.ErrInvalidThresholds
		}
		updated.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Save(ctx, tx, &updated); err != nil {
			return err
		}
		result = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("quota updated",
		zap.String("identity", identity),
		zap.Int64("daily_limit", result.DailyLimit),
		zap.Int64("monthly_limit", result.MonthlyLimit),
	)
	return result, nil
}

func (s *Service) newRecord(identity, group string) *quotadomain.QuotaRecord {
	defaults := s.limits.Get().Defaults
	now := s.clock.Now().UTC()
	return &quotadomain.QuotaRecord{
		IdentityKey:       identity,
		GroupKey:          group,
		DailyLimit:        defaults.DailyLimit,
		MonthlyLimit:      defaults.MonthlyLimit,
		WarningThreshold:  defaults.WarningThreshold,
		CriticalThreshold: defaults.CriticalThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func validateUpsert(req quotadomain.UpsertRequest) error {
	if req.DailyLimit != nil && *req.DailyLimit < 0 {
		return quotadomain.ErrInvalidLimit
	}
	if req.MonthlyLimit != nil && *req.MonthlyLimit < 0 {
		return quotadomain.ErrInvalidLimit
	}
	for _, threshold := range []*float64{req.WarningThreshold, req.CriticalThreshold} {
		if threshold != nil && (*threshold <= 0 || *threshold > 100) {
			return quotadomain.ErrInvalidThresholds
		}
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return quotadomain.ErrInvalidEmail
			}
		}
	}
	return nil
}

func applyUpsert(record *quotadomain.QuotaRecord, req quotadomain.UpsertRequest) {
	if req.GroupKey != nil {
		record.GroupKey = strings.TrimSpace(*req.GroupKey)
	}
	if req.Email != nil {
		record.Email = strings.TrimSpace(*req.Email)
	}
	if req.DailyLimit != nil {
		record.DailyLimit = *req.DailyLimit
	}
	if req.MonthlyLimit != nil {
		record.MonthlyLimit = *req.MonthlyLimit
	}
	if req.WarningThreshold != nil {
		record.WarningThreshold = *req.WarningThreshold
	}
	if req.CriticalThreshold != nil {
		record.CriticalThreshold = *req.CriticalThreshold
	}
}

package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/quotaguard/internal/clock"
	protectiondomain "github.com/smallbiznis/quotaguard/internal/protection/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	QuotaSvc quotadomain.Service
	Repo     quotadomain.Repository
	Clock    clock.Clock `optional:"true"`
}

type Registry struct {
	db       *gorm.DB
	log      *zap.Logger
	quotaSvc quotadomain.Service
	repo     quotadomain.Repository
	clock    clock.Clock
}

func NewRegistry(p Params) protectiondomain.Registry {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Registry{
		db:       p.DB,
		log:      p.Log.Named("protection.registry"),
		quotaSvc: p.QuotaSvc,
		repo:     p.Repo,
		clock:    clk,
	}
}

func (r *Registry) WithTx(tx *gorm.DB) protectiondomain.Registry {
	if tx == nil {
		return r
	}
	clone := *r
	clone.db = tx
	clone.quotaSvc = r.quotaSvc.WithTx(tx)
	return &clone
}

func (r *Registry) SetProtection(ctx context.Context, identity string, on bool, setBy string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, protectiondomain.ErrInvalidIdentity
	}

	record, err := r.quotaSvc.EnsureProvisioned(ctx, identity, "")
	if err != nil {
		return false, err
	}
	if record.AdministrativeProtection == on {
		return false, nil
	}

	if _, err := r.repo.SetProtection(ctx, r.db, quotadomain.ProtectionUpdate{
		IdentityKey: identity,
		Enabled:     on,
		SetBy:       strings.TrimSpace(setBy),
		At:          r.clock.Now().UTC(),
	}); err != nil {
		return false, err
	}

	r.log.Info("protection flag changed",
		zap.String("identity", identity),
		zap.Bool("enabled", on),
		zap.String("set_by", setBy),
	)
	return true, nil
}

func (r *Registry) IsProtected(ctx context.Context, identity string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, protectiondomain.ErrInvalidIdentity
	}
	record, err := r.repo.FindByIdentity(ctx, r.db, identity)
	if err != nil {
		return false, err
	}
	return record != nil && record.AdministrativeProtection, nil
}

func (r *Registry) ListProtected(ctx context.Context, afterIdentity string, limit int) ([]string, error) {
	return r.repo.ListProtected(ctx, r.db, afterIdentity, limit)
}

package enforcement

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaguard/internal/config"
	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	"github.com/smallbiznis/quotaguard/internal/enforcement/policy"
	"github.com/smallbiznis/quotaguard/internal/enforcement/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("enforcement",
	fx.Provide(NewPoint),
)

type Params struct {
	fx.In

	Lc    fx.Lifecycle
	DB    *gorm.DB
	Cfg   config.Config
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// NewPoint builds the configured enforcement backend behind a timeout guard.
func NewPoint(p Params) (enforcementdomain.Point, error) {
	var backend enforcementdomain.Point
	switch strings.ToLower(strings.TrimSpace(p.Cfg.Enforcement.Backend)) {
	case enforcementdomain.BackendNoop:
		backend = service.NewNoop(p.Log)
	default:
		enforcer, err := policy.NewEnforcer(p.DB)
		if err != nil {
			return nil, err
		}
		if err := syncPolicy(p, enforcer); err != nil {
			return nil, err
		}
		store, err := policy.NewStore(enforcer, policy.ParseCapability(p.Cfg.Enforcement.Capability), p.Log)
		if err != nil {
			return nil, err
		}
		backend = store
	}
	return service.NewGuard(backend, p.Cfg.Timeouts.Enforcement, p.Log), nil
}

// syncPolicy keeps this process's in-memory policy in step with changes
// made by other api and scheduler instances: a Redis watcher for prompt
// propagation and a periodic reload for anything the watcher missed.
func syncPolicy(p Params, enforcer *casbin.SyncedEnforcer) error {
	log := p.Log.Named("enforcement")
	reload := p.Cfg.Enforcement.PolicyReload

	var watcher *policy.Watcher
	if p.Redis != nil {
		watcher = policy.NewWatcher(p.Redis, p.Cfg.Enforcement.WatchChannel, p.Log)
		if err := enforcer.SetWatcher(watcher); err != nil {
			return err
		}
	} else if reload <= 0 {
		log.Warn("policy changes from other instances are not picked up: no redis and periodic reload disabled")
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if watcher != nil {
				if err := watcher.Start(ctx); err != nil {
					log.Warn("policy watcher not started, relying on periodic reload", zap.Error(err))
				}
			}
			if reload > 0 {
				enforcer.StartAutoLoadPolicy(reload)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			if reload > 0 {
				enforcer.StopAutoLoadPolicy()
			}
			if watcher != nil {
				watcher.Close()
			}
			return nil
		},
	})
	return nil
}

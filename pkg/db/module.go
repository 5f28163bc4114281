package db

import (
	"context"
	"time"

	"github.com/smallbiznis/quotaguard/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(NewConfig),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lc    fx.Lifecycle
	DBCfg Config
	Log   *zap.Logger
}

// New opens the gorm connection with tracing and pool metrics attached.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.DBCfg)
	if err != nil {
		return nil, err
	}

	logCfg := logger.DefaultGormLoggerConfig()
	logCfg.SlowThreshold = p.DBCfg.SlowQuery
	logCfg.Retryable = func(err error) bool {
		return IsSerializationErr(err) || IsLockTimeoutErr(err)
	}
	gormLog := logger.NewGormLogger(logCfg)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	name := p.DBCfg.Name
	if err := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(name))); err != nil {
		return nil, err
	}
	if err := db.Use(gormprom.New(gormprom.Config{
		DBName:          name,
		RefreshInterval: 15,
		StartServer:     false,
	})); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if p.DBCfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(p.DBCfg.MaxIdleConn)
	}
	if p.DBCfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(p.DBCfg.MaxOpenConn)
	}
	if p.DBCfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.DBCfg.ConnMaxLifetime)
	}
	if p.DBCfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(p.DBCfg.ConnMaxIdleTime)
	}

	log := p.Log.Named("db")
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				log.Error("database ping failed", zap.Error(err))
				return err
			}
			log.Info("database connected", zap.Stringer("target", p.DBCfg))
			return nil
		},
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})

	return db, nil
}

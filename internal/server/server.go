package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	admindomain "github.com/smallbiznis/quotaguard/internal/admin/domain"
	"github.com/smallbiznis/quotaguard/internal/config"
	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	meteringdomain "github.com/smallbiznis/quotaguard/internal/metering/domain"
	"github.com/smallbiznis/quotaguard/internal/observability"
	obsmiddleware "github.com/smallbiznis/quotaguard/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quotaguard/internal/observability/metrics"
	obstracing "github.com/smallbiznis/quotaguard/internal/observability/tracing"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module serves the HTTP surface. Domain modules are composed by the app.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	pipeline   meteringdomain.Pipeline
	adminSvc   admindomain.Service
	point      enforcementdomain.Point
	obsMetrics *obsmetrics.Metrics
	limiter    *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Pipeline   meteringdomain.Pipeline
	AdminSvc   admindomain.Service
	Point      enforcementdomain.Point
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
	Limiter    *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("http.server"),
		pipeline:   p.Pipeline,
		adminSvc:   p.AdminSvc,
		point:      p.Point,
		obsMetrics: p.ObsMetrics,
		limiter:    p.Limiter,
	}
}

// RegisterRoutes mounts every route group on the engine.
func RegisterRoutes(s *Server) {
	s.RegisterIngestRoutes()
	s.RegisterAccessRoutes()
	s.RegisterAdminRoutes()
	s.RegisterFallback()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterIngestRoutes() {
	v1 := s.engine.Group("/v1")
	v1.POST("/usage/events", s.UsageIngestRateLimit(), s.IngestUsage)

	if s.cfg.IsDevelopment() {
		v1.POST("/test/cleanup", s.TestCleanup)
	}
}

func (s *Server) RegisterAccessRoutes() {
	v1 := s.engine.Group("/v1")
	v1.GET("/access/:identity", s.CheckAccess)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/v1/admin")
	admin.Use(s.AdminAuthRequired())

	admin.POST("/block", s.ManualBlock)
	admin.POST("/unblock", s.ManualUnblock)
	admin.POST("/protection", s.SetProtection)
	admin.GET("/status/:identity", s.CheckStatus)

	admin.GET("/quotas/:identity", s.GetQuota)
	admin.PUT("/quotas/:identity", s.UpsertQuota)

	admin.GET("/usage/:identity", s.ListUsage)
	admin.GET("/audit", s.ListAuditLogs)
}

func (s *Server) RegisterFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sabihub/tokenledger/internal/cache"
	"github.com/sabihub/tokenledger/internal/config"
	"github.com/sabihub/tokenledger/internal/ratelimit"
	"github.com/sabihub/tokenledger/internal/token"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
	"github.com/sabihub/tokenledger/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	cache.Module,
	ratelimit.Module,
	token.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, metrics *telemetry.Metrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(telemetry.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	tokensvc       tokendomain.Service
	consumeLimiter *ratelimit.ConsumeLimiter
	credentials    []apiCredential
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	Tokensvc       tokendomain.Service
	ConsumeLimiter *ratelimit.ConsumeLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		tokensvc:       p.Tokensvc,
		consumeLimiter: p.ConsumeLimiter,
		credentials:    parseAPICredentials(p.Cfg.APITokens, p.Log),
	}

	svc.registerTokenRoutes()

	return svc
}

func (s *Server) registerTokenRoutes() {
	v1 := s.engine.Group("/v1/tokens", s.AuthRequired())
	v1.GET("/balance", s.GetTokenBalance)
	v1.POST("/authorize", s.AuthorizeTokens)
	v1.POST("/consume", s.ConsumeTokens)
	v1.POST("/credit", s.CreditTokens)
	v1.GET("/transactions", s.ListTokenTransactions)
}

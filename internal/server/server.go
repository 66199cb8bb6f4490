package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/quotameter/internal/config"
	gatedomain "github.com/smallbiznis/quotameter/internal/gate/domain"
	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
	refreshdomain "github.com/smallbiznis/quotameter/internal/refresh/domain"
	sessiondomain "github.com/smallbiznis/quotameter/internal/session/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	holder     *config.QuotaConfigHolder
	ledgerSvc  ledgerdomain.Service
	sessionSvc sessiondomain.Service
	gateSvc    gatedomain.Service
	refreshSvc refreshdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Holder     *config.QuotaConfigHolder
	LedgerSvc  ledgerdomain.Service
	SessionSvc sessiondomain.Service
	GateSvc    gatedomain.Service
	RefreshSvc refreshdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		holder:     p.Holder,
		ledgerSvc:  p.LedgerSvc,
		sessionSvc: p.SessionSvc,
		gateSvc:    p.GateSvc,
		refreshSvc: p.RefreshSvc,
	}
}

func registerRoutes(s *Server) {
	v1 := s.engine.Group("/v1")

	v1.GET("/accounts", s.ListAccounts)
	v1.GET("/accounts/:username", s.GetAccount)
	v1.GET("/accounts/:username/transactions", s.ListTransactions)
	v1.POST("/accounts/:username/balance", s.UpdateBalance)

	v1.POST("/gate/check", s.CheckQuota)

	v1.POST("/sessions", s.StartSession)
	v1.POST("/sessions/:id/end", s.EndSession)
	v1.GET("/sessions/active", s.ActiveSessions)

	v1.POST("/refresh", s.RunRefresh)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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

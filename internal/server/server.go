package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/boxoffice/internal/authorization"
	"github.com/smallbiznis/boxoffice/internal/config"
	"github.com/smallbiznis/boxoffice/internal/observability"
	obslogger "github.com/smallbiznis/boxoffice/internal/observability/logger"
	obstracing "github.com/smallbiznis/boxoffice/internal/observability/tracing"
	payoutdomain "github.com/smallbiznis/boxoffice/internal/payout/domain"
	refunddomain "github.com/smallbiznis/boxoffice/internal/refund/domain"
	"github.com/smallbiznis/boxoffice/internal/scheduler"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	authzSvc  authorization.Service
	ticketSvc ticketingdomain.Service
	refundSvc refunddomain.Service
	payouts   payoutdomain.Engine
	scheduler *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	AuthzSvc  authorization.Service
	TicketSvc ticketingdomain.Service
	RefundSvc refunddomain.Service
	Payouts   payoutdomain.Engine
	Scheduler *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http"),
		authzSvc:  p.AuthzSvc,
		ticketSvc: p.TicketSvc,
		refundSvc: p.RefundSvc,
		payouts:   p.Payouts,
		scheduler: p.Scheduler,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorRequired())

	// -------- Ticket groups --------
	api.POST("/ticket-groups", s.CreateTicketGroup)
	api.GET("/ticket-groups/:id", s.GetTicketGroup)
	api.POST("/ticket-groups/:id/payment", s.ConfirmPayment)
	api.POST("/ticket-groups/:id/payment/fail", s.MarkPaymentFailed)

	// -------- Refunds --------
	api.POST("/ticket-groups/:id/refund", s.RequestRefund)
	api.POST("/ticket-groups/:id/refund/decision", s.ProcessRefund)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", ActorRequired())

	// -------- Payouts --------
	admin.POST("/payouts/run", s.authorizeAction(authorization.ObjectPayout, authorization.ActionPayoutRun), s.RunPayouts)
	admin.POST("/ticket-groups/:id/payout/requeue", s.RequeuePayout)

	// -------- Scheduler --------
	manage := s.authorizeAction(authorization.ObjectScheduler, authorization.ActionSchedulerManage)
	admin.GET("/scheduler", manage, s.SchedulerStatus)
	admin.POST("/scheduler/start", manage, s.StartScheduler)
	admin.POST("/scheduler/stop", manage, s.StopScheduler)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

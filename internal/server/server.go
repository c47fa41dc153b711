package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/versiful/versiful/internal/billing/domain"
	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/config"
	ledgerdomain "github.com/versiful/versiful/internal/ledger/domain"
	"github.com/versiful/versiful/internal/notify"
	"github.com/versiful/versiful/internal/observability"
	"github.com/versiful/versiful/internal/responder"
	"github.com/versiful/versiful/internal/transport"
	usagedomain "github.com/versiful/versiful/internal/usage/domain"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, metrics *observability.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.GinLogger(log))
	r.Use(observability.GinMetrics(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	cfg        *config.Config
	usage      usagedomain.Service
	users      userdomain.Service
	userRepo   userdomain.Repository
	ledger     ledgerdomain.Service
	billing    billingdomain.Service
	billingAdp billingdomain.Adapter
	gateway    transport.Gateway
	responder  responder.Responder
	notify     *notify.Service
	clock      clock.Clock
}

type ServerParams struct {
	fx.In

	Engine         *gin.Engine
	Log            *zap.Logger
	Cfg            *config.Config
	Usage          usagedomain.Service
	Users          userdomain.Service
	UserRepo       userdomain.Repository
	Ledger         ledgerdomain.Service
	Billing        billingdomain.Service
	BillingAdapter billingdomain.Adapter
	Gateway        transport.Gateway
	Responder      responder.Responder
	Notify         *notify.Service
	Clock          clock.Clock
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Engine,
		log:        p.Log.Named("server"),
		cfg:        p.Cfg,
		usage:      p.Usage,
		users:      p.Users,
		userRepo:   p.UserRepo,
		ledger:     p.Ledger,
		billing:    p.Billing,
		billingAdp: p.BillingAdapter,
		gateway:    p.Gateway,
		responder:  p.Responder,
		notify:     p.Notify,
		clock:      p.Clock,
	}
}

func registerRoutes(s *Server) {
	s.engine.POST("/sms", s.handleInboundSMS)
	s.engine.POST("/sms/callback", s.handleDeliveryCallback)
	s.engine.POST("/webhooks/stripe", s.handleStripeWebhook)
}

func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Fatal("http server failed", zap.Error(err))
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

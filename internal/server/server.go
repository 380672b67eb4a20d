package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clavis/internal/config"
	membershipdomain "github.com/smallbiznis/clavis/internal/membership/domain"
	"github.com/smallbiznis/clavis/internal/payment/webhook"
	plandomain "github.com/smallbiznis/clavis/internal/plan/domain"
	"github.com/smallbiznis/clavis/internal/rolesync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	planSvc       plandomain.Service
	membershipSvc membershipdomain.Service
	webhookSvc    *webhook.Service
	roleSvc       *rolesync.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	PlanSvc       plandomain.Service
	MembershipSvc membershipdomain.Service
	WebhookSvc    *webhook.Service
	RoleSvc       *rolesync.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		planSvc:       p.PlanSvc,
		membershipSvc: p.MembershipSvc,
		webhookSvc:    p.WebhookSvc,
		roleSvc:       p.RoleSvc,
	}
}

func registerRoutes(s *Server) {
	s.registerAPIRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)
	api.POST("/plans", s.CreatePlan)
	api.GET("/plans/:id", s.GetPlanByID)
	api.PATCH("/plans/:id/prices", s.UpdatePlanPrices)
	api.DELETE("/plans/:id", s.DeletePlan)

	// -------- Memberships --------
	api.POST("/memberships/purchase", s.PurchaseMembership)
	api.POST("/memberships/gift", s.GiftMembership)
	api.POST("/memberships/upgrade", s.UpgradeMembership)
	api.POST("/memberships/upgrade/quote", s.QuoteUpgrade)
	api.POST("/memberships/:id/cancel", s.CancelMembership)
	api.GET("/memberships/:id", s.GetMembershipByID)

	// -------- Users --------
	api.GET("/users/:id/memberships", s.ListUserMemberships)
	api.GET("/users/:id/roles", s.ListUserRoles)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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

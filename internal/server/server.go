package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/cashstation/internal/audit"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/authorization"
	"github.com/smallbiznis/cashstation/internal/cashsession"
	cashdomain "github.com/smallbiznis/cashstation/internal/cashsession/domain"
	"github.com/smallbiznis/cashstation/internal/config"
	"github.com/smallbiznis/cashstation/internal/denomination"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	"github.com/smallbiznis/cashstation/internal/deposit"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	"github.com/smallbiznis/cashstation/internal/inventory"
	inventorydomain "github.com/smallbiznis/cashstation/internal/inventory/domain"
	"github.com/smallbiznis/cashstation/internal/observability"
	obslogger "github.com/smallbiznis/cashstation/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cashstation/internal/observability/metrics"
	obstracing "github.com/smallbiznis/cashstation/internal/observability/tracing"
	"github.com/smallbiznis/cashstation/internal/posdispatch"
	posdomain "github.com/smallbiznis/cashstation/internal/posdispatch/domain"
	"github.com/smallbiznis/cashstation/internal/product"
	productdomain "github.com/smallbiznis/cashstation/internal/product/domain"
	"github.com/smallbiznis/cashstation/internal/providers/pdf"
	"github.com/smallbiznis/cashstation/internal/ratelimit"
	"github.com/smallbiznis/cashstation/internal/receipt"
	"github.com/smallbiznis/cashstation/internal/shiftaudit"
	shiftdomain "github.com/smallbiznis/cashstation/internal/shiftaudit/domain"
	"github.com/smallbiznis/cashstation/internal/withdrawal"
	withdrawaldomain "github.com/smallbiznis/cashstation/internal/withdrawal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	denomination.Module,
	inventory.Module,
	posdispatch.Module,
	product.Module,
	deposit.Module,
	cashsession.Module,
	withdrawal.Module,
	shiftaudit.Module,
	pdf.Module,
	receipt.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		TerminalID:      cfg.TerminalID,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ginParams struct {
	fx.In

	Cfg         config.Config
	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func registerGin(p ginParams) *gin.Engine {
	if p.Cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(p.Cfg, p.ObsCfg, p.HTTPMetrics)
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	sessions      cashdomain.Controller
	denomSvc      denomdomain.Service
	inventorySvc  inventorydomain.Service
	depositSvc    depositdomain.Service
	dispatcher    posdomain.Dispatcher
	productSvc    productdomain.Service
	withdrawalSvc withdrawaldomain.Service
	shiftSvc      shiftdomain.Service
	receiptSvc    receipt.Service
	posRetry      *ratelimit.PosRetryLimiter
	loc           *time.Location
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AuthzSvc      authorization.Service `optional:"true"`
	AuditSvc      auditdomain.Service
	Sessions      cashdomain.Controller
	DenomSvc      denomdomain.Service
	InventorySvc  inventorydomain.Service
	DepositSvc    depositdomain.Service
	Dispatcher    posdomain.Dispatcher
	ProductSvc    productdomain.Service
	WithdrawalSvc withdrawaldomain.Service
	ShiftSvc      shiftdomain.Service
	ReceiptSvc    receipt.Service
	PosRetry      *ratelimit.PosRetryLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		loc = time.UTC
	}
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		sessions:      p.Sessions,
		denomSvc:      p.DenomSvc,
		inventorySvc:  p.InventorySvc,
		depositSvc:    p.DepositSvc,
		dispatcher:    p.Dispatcher,
		productSvc:    p.ProductSvc,
		withdrawalSvc: p.WithdrawalSvc,
		shiftSvc:      p.ShiftSvc,
		receiptSvc:    p.ReceiptSvc,
		posRetry:      p.PosRetry,
		loc:           loc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.StaffContext())

	sessions := api.Group("/sessions")
	{
		operate := s.authorize(authorization.ObjectSession, authorization.ActionSessionOperate)
		sessions.POST("", operate, s.StartSession)
		sessions.GET("/current", operate, s.CurrentSession)
		sessions.POST("/:id/confirm", operate, s.ConfirmSession)
		sessions.POST("/:id/cancel", operate, s.CancelSession)
		sessions.POST("/:id/finalize", operate, s.FinalizeSession)
		sessions.POST("/:id/payout", operate, s.PayoutSession)
		sessions.POST("/:id/resolve", s.authorize(authorization.ObjectSession, authorization.ActionSessionResolve), s.ResolveSession)
	}

	api.GET("/denominations", s.authorize(authorization.ObjectInventory, authorization.ActionInventoryView), s.ListDenominations)
	api.POST("/denominations/plan", s.authorize(authorization.ObjectInventory, authorization.ActionInventoryView), s.ComputeDenominationPlan)
	api.GET("/inventory", s.authorize(authorization.ObjectInventory, authorization.ActionInventoryView), s.GetInventory)

	api.GET("/withdrawals", s.authorize(authorization.ObjectWithdrawal, authorization.ActionWithdrawalView), s.ListWithdrawals)
	api.POST("/withdrawals", s.authorize(authorization.ObjectWithdrawal, authorization.ActionWithdrawalCreate), s.CreateWithdrawal)
	api.GET("/withdrawals/:id", s.authorize(authorization.ObjectWithdrawal, authorization.ActionWithdrawalView), s.GetWithdrawal)
	api.POST("/withdrawals/:id/status", s.authorize(authorization.ObjectWithdrawal, authorization.ActionWithdrawalUpdateStatus), s.UpdateWithdrawalStatus)

	shifts := api.Group("/shifts")
	{
		view := s.authorize(authorization.ObjectShift, authorization.ActionShiftView)
		shifts.GET("", view, s.ListShifts)
		shifts.GET("/current", view, s.CurrentShift)
		shifts.GET("/:id", view, s.GetShift)
		shifts.POST("/close", s.authorize(authorization.ObjectShift, authorization.ActionShiftClose), s.CloseShift)
		shifts.POST("/end-of-day", s.authorize(authorization.ObjectShift, authorization.ActionShiftEndOfDay), s.EndOfDay)
		shifts.POST("/:id/confirm", s.authorize(authorization.ObjectShift, authorization.ActionShiftClose), s.ConfirmShift)
		shifts.POST("/:id/reconcile", s.authorize(authorization.ObjectShift, authorization.ActionShiftReconcile), s.ReconcileShift)
	}

	api.GET("/transactions", s.authorize(authorization.ObjectTransaction, authorization.ActionTransactionView), s.ListTransactions)
	api.GET("/transactions/:id", s.authorize(authorization.ObjectTransaction, authorization.ActionTransactionView), s.GetTransaction)
	api.POST("/transactions/:id/pos-retry", s.authorize(authorization.ObjectTransaction, authorization.ActionTransactionPosRetry), s.RetryTransactionPos)
	api.GET("/transactions/:id/receipt", s.authorize(authorization.ObjectTransaction, authorization.ActionTransactionView), s.GetTransactionReceipt)

	api.GET("/pos/heartbeat", s.authorize(authorization.ObjectTransaction, authorization.ActionTransactionView), s.PosHeartbeat)

	api.GET("/products", s.authorize(authorization.ObjectProduct, authorization.ActionProductView), s.ListProducts)
	api.POST("/products", s.authorize(authorization.ObjectProduct, authorization.ActionProductManage), s.CreateProduct)
	api.GET("/products/:id", s.authorize(authorization.ObjectProduct, authorization.ActionProductView), s.GetProductByID)
	api.PATCH("/products/:id", s.authorize(authorization.ObjectProduct, authorization.ActionProductManage), s.UpdateProduct)
	api.POST("/products/:id/archive", s.authorize(authorization.ObjectProduct, authorization.ActionProductManage), s.ArchiveProduct)

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	api.GET("/staff/:id/role", s.authorize(authorization.ObjectStaffRole, authorization.ActionStaffRoleManage), s.GetStaffRole)
	api.PUT("/staff/:id/role", s.authorize(authorization.ObjectStaffRole, authorization.ActionStaffRoleManage), s.AssignStaffRole)
}

// recordAudit writes an audit entry for an HTTP-only action. Failures are
// logged and never fail the request.
func (s *Server) recordAudit(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(c.Request.Context(), action, targetType, targetID, metadata); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

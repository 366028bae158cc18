package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/tally/internal/audit/domain"
	billingmodeldomain "github.com/smallbiznis/tally/internal/billingmodel/domain"
	"github.com/smallbiznis/tally/internal/config"
	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	obslogger "github.com/smallbiznis/tally/internal/observability/logger"
	obstracing "github.com/smallbiznis/tally/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	profitabilitydomain "github.com/smallbiznis/tally/internal/profitability/domain"
	projectdomain "github.com/smallbiznis/tally/internal/project/domain"
	"github.com/smallbiznis/tally/internal/report/export"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http"), classifyErrorForLog))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine           *gin.Engine
	cfg              config.Config
	log              *zap.Logger
	invoiceSvc       invoicedomain.Service
	refundSvc        paymentdomain.RefundService
	projectSvc       projectdomain.Service
	contractSvc      billingmodeldomain.Service
	profitabilitySvc profitabilitydomain.Service
	exportSvc        *export.Service
	auditSvc         auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	Log              *zap.Logger
	InvoiceSvc       invoicedomain.Service
	RefundSvc        paymentdomain.RefundService
	ProjectSvc       projectdomain.Service
	ContractSvc      billingmodeldomain.Service
	ProfitabilitySvc profitabilitydomain.Service
	ExportSvc        *export.Service
	AuditSvc         auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		log:              p.Log.Named("http.server"),
		invoiceSvc:       p.InvoiceSvc,
		refundSvc:        p.RefundSvc,
		projectSvc:       p.ProjectSvc,
		contractSvc:      p.ContractSvc,
		profitabilitySvc: p.ProfitabilitySvc,
		exportSvc:        p.ExportSvc,
		auditSvc:         p.AuditSvc,
	}
	s.registerAPIRoutes()
	s.registerFallback()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	org := s.engine.Group("/api/orgs/:org_id", OrgContext())

	org.POST("/clients", s.CreateClient)
	org.POST("/projects", s.CreateProject)
	org.GET("/projects/:id", s.GetProject)
	org.POST("/projects/:id/contracts", s.CreateContract)
	org.GET("/projects/:id/contract", s.GetActiveContract)
	org.POST("/projects/:id/time-entries", s.LogTime)
	org.POST("/projects/:id/expenses", s.RecordExpense)
	org.POST("/projects/:id/milestones", s.CreateMilestone)
	org.GET("/projects/:id/profitability", s.GetProfitability)
	org.GET("/projects/:id/profitability/export", s.ExportProfitability)

	org.POST("/time-entries/:id/approve", s.ApproveTimeEntry)
	org.POST("/expenses/:id/approve", s.ApproveExpense)
	org.POST("/milestones/:id/complete", s.CompleteMilestone)

	org.GET("/invoices", s.ListInvoices)
	org.POST("/invoices", s.GenerateInvoice)
	org.GET("/invoices/:id", s.GetInvoiceByID)
	org.GET("/invoices/:id/html", s.RenderInvoice)
	org.GET("/invoices/:id/export", s.ExportInvoice)
	org.POST("/invoices/:id/send", s.SendInvoice)
	org.POST("/invoices/:id/cancel", s.CancelInvoice)
	org.POST("/invoices/:id/mark-overdue", s.MarkInvoiceOverdue)
	org.GET("/invoices/:id/payments", s.ListPayments)
	org.GET("/invoices/:id/audit-logs", s.InvoiceHistory)
	org.POST("/invoices/:id/payments", s.RecordPayment)

	org.GET("/payments/:id/refunds", s.ListRefunds)
	org.POST("/payments/:id/refunds", s.RefundPayment)

	org.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

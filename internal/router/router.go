// internal/router/router.go
package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/handlers"
	"github.com/javajoker/settlement-backend/internal/middleware"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

// Dependencies carries the external collaborators. Nil fields are built from
// the configuration.
type Dependencies struct {
	Cache     services.Cache
	Disburser services.Disburser
	Gateway   services.PaymentGateway
	Exporter  services.Exporter
}

func Initialize(db *gorm.DB, cfg *config.Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Cache == nil {
		deps.Cache = services.NewMemoryCache()
	}
	if deps.Disburser == nil {
		deps.Disburser = services.NewStripeDisburser(cfg.Payment.StripeSecretKey)
	}
	if deps.Gateway == nil {
		deps.Gateway = services.NewStripeGateway(cfg.Payment.StripeSecretKey)
	}
	if deps.Exporter == nil {
		storageService, err := services.NewStorageService(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		deps.Exporter = storageService
	}

	fees, err := services.NewPlatformFeePolicy(cfg.Settlement)
	if err != nil {
		return nil, err
	}

	// Initialize services
	vendorService := services.NewVendorService(db, deps.Cache, cfg)
	rates := services.NewRateResolverChain(vendorService, cfg.Settlement.DefaultCommissionRate)
	commissionService := services.NewCommissionService(db, fees)
	orderService := services.NewOrderService(db, cfg, rates, commissionService)
	paymentService := services.NewPaymentService(orderService, deps.Gateway, cfg)
	payoutService := services.NewPayoutService(db, cfg, deps.Disburser)
	reportService := services.NewReportService(db, deps.Exporter)

	// Initialize handlers
	orderHandler := handlers.NewOrderHandler(orderService, paymentService)
	commissionHandler := handlers.NewCommissionHandler(commissionService)
	payoutHandler := handlers.NewPayoutHandler(payoutService)
	vendorHandler := handlers.NewVendorHandler(vendorService)
	reportHandler := handlers.NewReportHandler(reportService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.AllowOrigins))
	if cfg.Server.RateLimit {
		r.Use(middleware.GeneralRateLimit())
	}
	if cfg.Server.AuditLog {
		r.Use(middleware.AuditLogMiddleware(db))
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": "1.0.0",
		})
	})

	payments := func() gin.HandlerFunc {
		if cfg.Server.RateLimit {
			return middleware.PaymentsRateLimit()
		}
		return func(c *gin.Context) { c.Next() }
	}()

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired())
	{
		orders := v1.Group("/orders")
		orders.Use(middleware.RoleRequired(utils.RoleOperator, utils.RoleFinance))
		{
			orders.POST("", orderHandler.CreateOrder)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.GET("/:id/history", orderHandler.GetStatusHistory)
			orders.PUT("/:id/status", orderHandler.TransitionStatus)
			orders.PUT("/:id/payment-status", orderHandler.UpdatePaymentStatus)
			orders.POST("/:id/payments/sync", payments, orderHandler.SyncPayment)
			orders.POST("/:id/refund", payments, middleware.RoleRequired(utils.RoleFinance), orderHandler.RefundOrder)
			orders.DELETE("/:id", middleware.AdminRequired(), orderHandler.DeleteOrder)
		}

		items := v1.Group("/order-items")
		items.Use(middleware.RoleRequired(utils.RoleOperator, utils.RoleFinance))
		{
			items.PUT("/:id/status", orderHandler.UpdateItemStatus)
		}

		commissions := v1.Group("/commissions")
		commissions.Use(middleware.RoleRequired(utils.RoleFinance))
		{
			commissions.POST("", commissionHandler.CreateCommission)
			commissions.GET("", commissionHandler.ListCommissions)
			commissions.POST("/bulk-approve", commissionHandler.BulkApprove)
			commissions.GET("/:id", commissionHandler.GetCommission)
			commissions.PUT("/:id/approve", commissionHandler.ApproveCommission)
			commissions.PUT("/:id/cancel", commissionHandler.CancelCommission)
		}

		payouts := v1.Group("/payouts")
		payouts.Use(middleware.RoleRequired(utils.RoleFinance))
		{
			payouts.POST("", payoutHandler.CreatePayout)
			payouts.GET("", payoutHandler.ListPayouts)
			payouts.GET("/:id", payoutHandler.GetPayout)
			payouts.PUT("/:id/process", payoutHandler.ProcessPayout)
			payouts.PUT("/:id/complete", payoutHandler.CompletePayout)
			payouts.PUT("/:id/fail", payoutHandler.FailPayout)
			payouts.PUT("/:id/cancel", payoutHandler.CancelPayout)
			payouts.POST("/:id/disburse", payments, payoutHandler.DisbursePayout)
		}

		vendors := v1.Group("/vendors")
		{
			vendors.GET("/:id", middleware.RoleRequired(utils.RoleOperator, utils.RoleFinance), vendorHandler.GetVendor)
			vendors.POST("", middleware.AdminRequired(), vendorHandler.CreateVendor)
			vendors.PUT("/:id", middleware.AdminRequired(), vendorHandler.UpdateVendor)
			vendors.PUT("/:id/brands/:brandId/rate", middleware.AdminRequired(), vendorHandler.SetBrandRate)
		}

		reports := v1.Group("/reports")
		reports.Use(middleware.RoleRequired(utils.RoleFinance))
		{
			reports.GET("", reportHandler.ListReports)
			reports.POST("/generate", reportHandler.GenerateReports)
			reports.POST("/export", reportHandler.ExportReports)
		}
	}

	return r, nil
}

package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigwork/settlement-backend/internal/config"
	"github.com/gigwork/settlement-backend/internal/http/handlers"
	"github.com/gigwork/settlement-backend/internal/http/middleware"
	"github.com/gigwork/settlement-backend/internal/models"
	"github.com/gigwork/settlement-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	orderHandler *handlers.OrderHandler,
	paymentHandler *handlers.PaymentHandler,
	deliveryHandler *handlers.DeliveryHandler,
	disputeHandler *handlers.DisputeHandler,
	withdrawalHandler *handlers.WithdrawalHandler,
	notificationHandler *handlers.NotificationHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
	actorStore middleware.ActorStore,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", middleware.PrometheusHandler())
	r.StaticFS("/files", http.Dir(cfg.DeliveryStoragePath))

	api := r.Group("/api")

	// WebSocket авторизуется токеном из query, минуя общий middleware.
	api.GET("/ws", wsHandler.Handle)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	protected.Use(middleware.ActorMiddleware(actorStore))
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		protected.POST("/orders", orderHandler.Create)
		protected.GET("/orders", orderHandler.List)
		protected.GET("/orders/:id", middleware.UUIDValidator("id"), orderHandler.Get)
		protected.GET("/orders/:id/history", middleware.UUIDValidator("id"), orderHandler.History)
		protected.PATCH("/orders/:id/status", middleware.UUIDValidator("id"), orderHandler.UpdateStatus)
		protected.GET("/orders/:id/requirements", middleware.UUIDValidator("id"), orderHandler.GetRequirements)
		protected.POST("/orders/:id/requirements", middleware.UUIDValidator("id"), orderHandler.ProvideRequirements)

		protected.POST("/orders/:id/pay", middleware.UUIDValidator("id"), paymentHandler.PayOrder)
		protected.GET("/orders/:id/escrow", middleware.UUIDValidator("id"), paymentHandler.GetEscrow)
		protected.GET("/orders/:id/transactions", middleware.UUIDValidator("id"), paymentHandler.ListOrderTransactions)
		protected.GET("/payments/wallet", paymentHandler.GetWallet)
		protected.POST("/payments/deposit", paymentHandler.Deposit)
		protected.GET("/payments/transactions", paymentHandler.ListTransactions)

		protected.POST("/orders/:id/deliveries", middleware.UUIDValidator("id"), deliveryHandler.Submit)
		protected.GET("/orders/:id/deliveries", middleware.UUIDValidator("id"), deliveryHandler.List)
		protected.GET("/deliveries/:id", middleware.UUIDValidator("id"), deliveryHandler.Get)

		protected.POST("/orders/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.Raise)
		protected.GET("/orders/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.Get)
		protected.POST("/orders/:id/cancel", middleware.UUIDValidator("id"), disputeHandler.Cancel)

		protected.POST("/withdrawals", withdrawalHandler.Request)
		protected.GET("/withdrawals", withdrawalHandler.List)

		protected.GET("/notifications", notificationHandler.List)
		protected.POST("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkRead)
		protected.POST("/notifications/read-all", notificationHandler.MarkAllRead)
	}

	// Административные маршруты
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(tokenManager))
	admin.Use(middleware.RequireRole(models.UserTypeAdmin))
	admin.Use(middleware.ActorMiddleware(actorStore))
	{
		admin.GET("/disputes", disputeHandler.ListOpen)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.Resolve)
		admin.POST("/withdrawals/:id/reject", middleware.UUIDValidator("id"), withdrawalHandler.Reject)
		// :txn — публичный идентификатор TXN..., не UUID
		admin.POST("/transactions/:txn/reverse", paymentHandler.ReverseTransaction)
		admin.POST("/payouts", withdrawalHandler.CreateBatch)
		admin.POST("/payouts/:id/complete", middleware.UUIDValidator("id"), withdrawalHandler.CompleteBatch)
		admin.POST("/payouts/:id/fail", middleware.UUIDValidator("id"), withdrawalHandler.FailBatch)
	}

	return r
}

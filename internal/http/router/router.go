package router

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/homepro-escrow/internal/config"
	"github.com/ignatzorin/homepro-escrow/internal/http/middleware"
	"github.com/ignatzorin/homepro-escrow/internal/interface/http/handler"
)

type Handlers struct {
	Escrow     *handler.EscrowHandler
	WorkOrder  *handler.WorkOrderHandler
	Account    *handler.AccountHandler
	Webhook    *handler.WebhookHandler
	WS         *handler.WSHandler
	Health     *handler.HealthHandler
	Authorizer *middleware.Authenticator
}

func SetupRouter(cfg *config.Config, h Handlers, store limiter.Store, log logrus.FieldLogger) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")

	// Вебхук без JWT: авторизация по подписи процессора.
	api.POST("/webhook/stripe", h.Webhook.Handle)

	api.GET("/ws", h.Authorizer.QueryMiddleware(), h.WS.Handle)

	protected := api.Group("")
	protected.Use(h.Authorizer.Middleware())

	// Денежные операции: отдельный лимит на пользователя.
	moneyLimit := middleware.RateLimitMiddleware(store, cfg.RateLimitLimit, cfg.RateLimitPeriod, log)

	escrowGroup := protected.Group("/escrow")
	{
		escrowGroup.POST("/create", moneyLimit, h.Escrow.Create)
		escrowGroup.GET("/:id", middleware.UUIDValidator("id"), h.Escrow.Get)
		escrowGroup.DELETE("/:id", middleware.UUIDValidator("id"), h.Escrow.Delete)
		escrowGroup.POST("/:id/cancel", middleware.UUIDValidator("id"), h.Escrow.Cancel)
		escrowGroup.POST("/:id/fund", middleware.UUIDValidator("id"), moneyLimit, h.Escrow.Fund)
		escrowGroup.POST("/:id/confirm-funding", middleware.UUIDValidator("id"), h.Escrow.ConfirmFunding)
		escrowGroup.POST("/:id/approve", middleware.UUIDValidator("id"), moneyLimit, h.Escrow.Approve)
		escrowGroup.POST("/:id/work-orders/create", middleware.UUIDValidator("id"), h.WorkOrder.Create)
		escrowGroup.GET("/:id/work-orders", middleware.UUIDValidator("id"), h.WorkOrder.ListForEscrow)
	}

	milestones := protected.Group("/milestones/:id")
	milestones.Use(middleware.UUIDValidator("id"))
	{
		milestones.POST("/pay", moneyLimit, h.Escrow.PayMilestone)
		milestones.POST("/mark-completed", h.Escrow.MarkCompleted)
		milestones.POST("/approve", moneyLimit, h.Escrow.ApproveMilestone)
		milestones.POST("/dispute", h.Escrow.Dispute)
		milestones.POST("/resolve", moneyLimit, h.Escrow.Resolve)
	}

	protected.POST("/crew/job-response/:wo_id", middleware.UUIDValidator("wo_id"), h.WorkOrder.Respond)

	workOrders := protected.Group("/work-orders")
	{
		workOrders.GET("/my", h.WorkOrder.ListMine)
		workOrders.POST("/:id/start", middleware.UUIDValidator("id"), h.WorkOrder.Start)
		workOrders.POST("/:id/complete", middleware.UUIDValidator("id"), h.WorkOrder.Complete)
		workOrders.POST("/:id/approve", middleware.UUIDValidator("id"), h.WorkOrder.Approve)
	}

	protected.POST("/payments/connect", h.Account.Connect)
	protected.GET("/subscriptions/me", h.Account.MySubscriptions)

	return r
}

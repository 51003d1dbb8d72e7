package httpserver

import (
	"context"
	"net/http"
	"time"

	"freelancehub/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger 就绪检查依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Plan         *handler.PlanHandler
	Milestone    *handler.MilestoneHandler
	Ledger       *handler.LedgerHandler
	Notification *handler.NotificationHandler
	Admin        *handler.AdminHandler
	// WebSocket 为 nil 时不注册 /ws
	WebSocket gin.HandlerFunc
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, store Pinger, jwtSecret string, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), AccessLogMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// websocket 自己校验 query 中的 token
	if h.WebSocket != nil {
		r.GET("/ws", h.WebSocket)
	}

	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/projects/:id/plan", h.Plan.GetPlan)
		auth.PUT("/projects/:id/plan", h.Plan.SubmitPlan)
		auth.POST("/projects/:id/plan/approve", h.Plan.ApprovePlan)
		auth.POST("/projects/:id/plan/revision", h.Plan.RequestRevision)

		auth.GET("/projects/:id/milestones", h.Milestone.List)
		auth.POST("/projects/:id/milestones", h.Milestone.Create)
		auth.POST("/milestones/:id/fund", h.Milestone.Fund)
		auth.POST("/milestones/:id/submit", h.Milestone.Submit)
		auth.POST("/milestones/:id/approve", h.Milestone.Approve)
		auth.POST("/milestones/:id/revision", h.Milestone.RequestRevision)

		auth.GET("/ledger", h.Ledger.List)

		auth.GET("/notifications", h.Notification.List)
		auth.POST("/notifications/:id/read", h.Notification.MarkRead)
		auth.DELETE("/notifications/:id", h.Notification.Delete)

		admin := auth.Group("/admin")
		admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

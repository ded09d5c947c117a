package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"taskhub/internal/handler"
	"taskhub/pkg/otel"
	"taskhub/pkg/rbac"
)

// Pinger 就绪检查依赖，*pgxpool.Pool 实现了它
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker 消息队列连接状态，*mq.Publisher 实现了它
type ConnChecker interface {
	IsConnected() bool
}

type RouterConfig struct {
	ServiceName string
	JWTSecret   string
	// DB 为 nil 时（内存存储）readyz 直接返回 ready
	DB Pinger
	// MQ 为 nil 表示未启用消息队列，不参与就绪检查
	MQ ConnChecker
}

func NewRouter(
	taskHandler *handler.TaskHandler,
	userHandler *handler.UserHandler,
	adminHandler *handler.AdminHandler,
	cfg RouterConfig,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Server error", "data": nil})
	}))
	r.Use(traceMiddleware(), otel.GinMiddleware(), metricsMiddleware(), requestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/readyz", func(c *gin.Context) {
		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
			defer cancel()

			if err := cfg.DB.Ping(ctx); err != nil {
				c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if cfg.MQ != nil && !cfg.MQ.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "OK",
			"data":    gin.H{"service": cfg.ServiceName, "status": "healthy"},
		})
	})

	tasks := api.Group("/tasks")
	{
		tasks.GET("", taskHandler.ListTasks)
		tasks.POST("", taskHandler.CreateTask)
		tasks.GET("/:id", taskHandler.GetTask)
		tasks.PUT("/:id", taskHandler.UpdateTask)
		tasks.DELETE("/:id", taskHandler.DeleteTask)
	}

	users := api.Group("/users")
	{
		users.GET("", userHandler.ListUsers)
		users.POST("", userHandler.CreateUser)
		users.GET("/:id", userHandler.GetUser)
		users.PUT("/:id", userHandler.UpdateUser)
		users.DELETE("/:id", userHandler.DeleteUser)
	}

	admin := api.Group("/admin/outbox")
	admin.Use(AuthMiddleware(cfg.JWTSecret))
	{
		admin.GET("/failed", RequirePermission(rbac.PermissionReadOutbox), adminHandler.ListFailedEvents)
		admin.POST("/:id/replay", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayOutboxEvent)
		admin.POST("/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), adminHandler.ReplayFailedEvents)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not Found", "data": nil})
	})

	return r
}

// WithCORS 用 rs/cors 包装路由；allowedOrigins 为空时允许所有来源
func WithCORS(h http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Trace-ID", "X-Request-ID"},
		ExposedHeaders: []string{"X-Trace-ID"},
	}).Handler(h)
}

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/interfaces/http/handlers"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Addr string
	Mode string // debug, release
}

// Handlers 路由挂载的处理器集合
type Handlers struct {
	Chat          *handlers.ChatHandler
	User          *handlers.UserHandler
	Conversations *handlers.ConversationHandler
	Uploads       *handlers.UploadHandler
	Metrics       *handlers.MetricsHandler
	// WebSocketChat /ws/chat 的升级入口，可为 nil
	WebSocketChat gin.HandlerFunc
	// Prometheus /metrics 的文本导出，可为 nil
	Prometheus http.Handler
}

// NewServer 创建HTTP服务器
func NewServer(cfg Config, h Handlers, logger *zap.Logger) *Server {
	if cfg.Mode == "release" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(ginLogger(logger))

	setupRoutes(router, h)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	return &Server{server: server, logger: logger}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(router *gin.Engine, h Handlers) {
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	}
	router.GET("/health", health)

	api := router.Group("/api")
	{
		api.GET("/health", health)

		api.POST("/chat", h.Chat.HandleChat)

		api.GET("/user", h.User.Handle)
		api.POST("/user", h.User.Handle)
		api.OPTIONS("/user", h.User.Handle)

		api.GET("/conversations", h.Conversations.List)
		api.GET("/conversations/:id", h.Conversations.Get)
		api.PUT("/conversations/:id", h.Conversations.Update)
		api.DELETE("/conversations/:id", h.Conversations.Delete)
		api.POST("/conversations/archive", h.Conversations.Archive)
		api.POST("/conversations/unarchive", h.Conversations.Unarchive)
		api.POST("/conversations/archived", h.Conversations.Archived)
		api.POST("/conversations/archived/restore", h.Conversations.RestoreArchived)

		api.GET("/messages/:id/content", h.Conversations.ContentRange)

		api.POST("/uploads", h.Uploads.Create)
		api.POST("/uploads/:id/chunks/:idx", h.Uploads.SaveChunk)
		api.GET("/uploads/:id", h.Uploads.Get)
		api.POST("/uploads/:id/assemble", h.Uploads.Assemble)
		api.DELETE("/uploads/:id", h.Uploads.Delete)

		api.GET("/metrics", h.Metrics.Metrics)
		api.GET("/tool-system/status", h.Metrics.ToolSystemStatus)
		api.GET("/admin/lru-status", h.Metrics.LRUStatus)
		api.POST("/admin/lru-status/trigger", h.Metrics.TriggerSweep)
	}

	if h.WebSocketChat != nil {
		router.GET("/ws/chat", h.WebSocketChat)
	}
	if h.Prometheus != nil {
		router.GET("/metrics", gin.WrapH(h.Prometheus))
	}
}

// requestID 为每个请求生成ID，日志和工具执行上下文共用
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(handlers.RequestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("requestId", c.GetString(handlers.RequestIDKey)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/service"
	domaintool "github.com/nexchat/gateway/internal/domain/tool"
	"github.com/nexchat/gateway/internal/infrastructure/llm"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
	"github.com/nexchat/gateway/internal/infrastructure/tool"
)

// MetricsHandler 运行指标与管理接口
type MetricsHandler struct {
	monitor   *monitoring.Monitor
	admission *service.AdmissionLimiter
	queue     *llm.Queue
	executor  *tool.Executor
	registry  domaintool.Registry
	archiver  *scheduler.LRUScheduler
	logger    *zap.Logger
}

// NewMetricsHandler 创建指标处理器
func NewMetricsHandler(
	monitor *monitoring.Monitor,
	admission *service.AdmissionLimiter,
	queue *llm.Queue,
	executor *tool.Executor,
	registry domaintool.Registry,
	archiver *scheduler.LRUScheduler,
	logger *zap.Logger,
) *MetricsHandler {
	return &MetricsHandler{
		monitor:   monitor,
		admission: admission,
		queue:     queue,
		executor:  executor,
		registry:  registry,
		archiver:  archiver,
		logger:    logger,
	}
}

// Metrics GET /api/metrics — 运行时快照
func (h *MetricsHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"runtime":   h.monitor.GetStats(),
		"admission": h.admission.Stats(),
		"llmQueue":  h.queue.Metrics(),
		"scheduler": h.archiver.Status(),
	})
}

// ToolSystemStatus GET /api/tool-system/status — 工具子系统状态
func (h *MetricsHandler) ToolSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"tools":    h.registry.Names(),
		"metrics":  h.executor.Metrics(),
		"breakers": h.executor.BreakerSnapshots(),
		"cache":    h.executor.CacheStats(),
	})
}

// LRUStatus GET /api/admin/lru-status — 归档调度器状态
func (h *MetricsHandler) LRUStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "scheduler": h.archiver.Status()})
}

// TriggerSweep POST /api/admin/lru-status/trigger — 立即执行一轮清扫
func (h *MetricsHandler) TriggerSweep(c *gin.Context) {
	stats := h.archiver.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "sweep": stats})
}

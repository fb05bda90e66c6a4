package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/application/usecase"
	"github.com/nexchat/gateway/internal/domain/service"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/interfaces/http/sse"
)

// ChatRequest /api/chat 请求体
type ChatRequest struct {
	Message                  string                  `json:"message" binding:"required"`
	ModelType                string                  `json:"modelType"`
	ConversationID           string                  `json:"conversationId"`
	UserID                   string                  `json:"userId" binding:"required"`
	DeviceID                 string                  `json:"deviceId"`
	Mode                     string                  `json:"mode"`
	ClientUserMessageID      string                  `json:"clientUserMessageId"`
	ClientAssistantMessageID string                  `json:"clientAssistantMessageId"`
	QueueToken               string                  `json:"queueToken"`
	ResumeFromRound          int                     `json:"resumeFromRound"`
	LongTextMode             bool                    `json:"longTextMode"`
	LongTextOptions          usecase.LongTextOptions `json:"longTextOptions"`
}

// ChatHandler 聊天入口。
// 准入和 429 塑形在这里完成，流一旦建立，错误只在流内上报。
type ChatHandler struct {
	admission *service.AdmissionLimiter
	chat      *usecase.ChatStreamUseCase
	agents    *usecase.MultiAgentUseCase
	longText  *usecase.LongTextUseCase
	monitor   *monitoring.Monitor
	writerOpt sse.Options
	logger    *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(
	admission *service.AdmissionLimiter,
	chat *usecase.ChatStreamUseCase,
	agents *usecase.MultiAgentUseCase,
	longText *usecase.LongTextUseCase,
	monitor *monitoring.Monitor,
	writerOpt sse.Options,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		admission: admission,
		chat:      chat,
		agents:    agents,
		longText:  longText,
		monitor:   monitor,
		writerOpt: writerOpt,
		logger:    logger,
	}
}

// HandleChat POST /api/chat
func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "message 和 userId 必填"})
		return
	}

	admit := h.admission.Acquire(req.UserID, req.QueueToken)
	switch admit.Decision {
	case service.AdmissionQueued:
		h.monitor.IncAdmissionQueued()
		c.Header("Retry-After", strconv.Itoa(int(admit.RetryAfter.Seconds())))
		c.Header("X-Queue-Token", admit.Token)
		c.Header("X-Queue-Position", strconv.Itoa(admit.Position))
		c.Header("X-Queue-Estimated-Wait", strconv.Itoa(int(admit.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "服务繁忙，已进入等待队列"})
		return
	case service.AdmissionRejected:
		h.monitor.IncAdmissionRejected()
		c.Header("Retry-After", strconv.Itoa(int(admit.Cooldown.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "请求被拒绝，请稍后再试"})
		return
	}
	// 准入后每条退出路径都归还槽位，Release 幂等
	defer admit.Release()

	sink, err := sse.NewHTTPSink(c.Request.Context(), c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "streaming unsupported"})
		return
	}
	writer := sse.NewWriter(sink, h.writerOpt, h.logger)
	defer writer.Close()

	h.monitor.StreamOpened()
	defer h.monitor.StreamClosed()

	requestID := c.GetString(RequestIDKey)
	ctx := c.Request.Context()

	switch {
	case req.LongTextMode:
		err = h.longText.Execute(ctx, usecase.LongTextInput{
			UserID:          req.UserID,
			ConversationID:  req.ConversationID,
			Content:         req.Message,
			ClientMessageID: req.ClientUserMessageID,
			RequestID:       requestID,
			ModelType:       req.ModelType,
			Options:         req.LongTextOptions,
		}, writer)
	case req.Mode == "multi_agent":
		err = h.agents.Execute(ctx, usecase.MultiAgentInput{
			UserID:             req.UserID,
			ConversationID:     req.ConversationID,
			Content:            req.Message,
			ClientMessageID:    req.ClientUserMessageID,
			RequestID:          requestID,
			ModelType:          req.ModelType,
			ResumeFromRound:    req.ResumeFromRound,
			AssistantMessageID: req.ClientAssistantMessageID,
		}, writer)
	default:
		err = h.chat.Execute(ctx, usecase.ChatInput{
			UserID:          req.UserID,
			ConversationID:  req.ConversationID,
			Content:         req.Message,
			ClientMessageID: req.ClientUserMessageID,
			RequestID:       requestID,
			ModelType:       req.ModelType,
		}, writer)
	}
	if err != nil {
		// 流内已上报，这里只记日志
		h.logger.Info("聊天流结束于错误",
			zap.String("userId", req.UserID),
			zap.String("mode", req.Mode),
			zap.Error(err))
	}
}

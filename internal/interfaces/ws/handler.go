// Package ws WebSocket 聊天通道。
// 承载与 SSE 相同的事件帧：JSON 文本消息，心跳换成 ping。
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/application/usecase"
	"github.com/nexchat/gateway/internal/domain/service"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/interfaces/http/handlers"
	"github.com/nexchat/gateway/internal/interfaces/http/sse"
	"github.com/nexchat/gateway/pkg/safego"
)

// writeWait 单帧写超时
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 浏览器端口随意，来源校验交给前置网关
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler WebSocket 聊天入口
type Handler struct {
	admission *service.AdmissionLimiter
	chat      *usecase.ChatStreamUseCase
	agents    *usecase.MultiAgentUseCase
	longText  *usecase.LongTextUseCase
	monitor   *monitoring.Monitor
	writerOpt sse.Options
	logger    *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(
	admission *service.AdmissionLimiter,
	chat *usecase.ChatStreamUseCase,
	agents *usecase.MultiAgentUseCase,
	longText *usecase.LongTextUseCase,
	monitor *monitoring.Monitor,
	writerOpt sse.Options,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		admission: admission,
		chat:      chat,
		agents:    agents,
		longText:  longText,
		monitor:   monitor,
		writerOpt: writerOpt,
		logger:    logger,
	}
}

// HandleChat GET /ws/chat
// 升级后读一帧聊天请求，跑与 /api/chat 相同的流水线。
func (h *Handler) HandleChat(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}
	defer conn.Close()

	var req handlers.ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.writeError(conn, "请求帧不合法")
		return
	}
	if req.Message == "" || req.UserID == "" {
		h.writeError(conn, "message 和 userId 必填")
		return
	}

	admit := h.admission.Acquire(req.UserID, req.QueueToken)
	switch admit.Decision {
	case service.AdmissionQueued:
		h.monitor.IncAdmissionQueued()
		h.writeJSON(conn, map[string]interface{}{
			"error":         "服务繁忙，已进入等待队列",
			"queueToken":    admit.Token,
			"queuePosition": admit.Position,
			"retryAfterSec": int(admit.RetryAfter.Seconds()),
		})
		return
	case service.AdmissionRejected:
		h.monitor.IncAdmissionRejected()
		h.writeJSON(conn, map[string]interface{}{
			"error":       "请求被拒绝，请稍后再试",
			"cooldownSec": int(admit.Cooldown.Seconds()),
		})
		return
	}
	defer admit.Release()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sink := newConnSink(conn)
	// 对端关闭时终止流水线
	safego.Go(h.logger, "ws-read-pump", func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sink.markClosed()
				cancel()
				return
			}
		}
	})

	writer := sse.NewWriter(sink, h.writerOpt, h.logger)
	defer writer.Close()

	h.monitor.StreamOpened()
	defer h.monitor.StreamClosed()

	requestID := c.GetString(handlers.RequestIDKey)

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
		h.logger.Info("WebSocket 聊天流结束于错误",
			zap.String("userId", req.UserID),
			zap.Error(err))
	}
}

func (h *Handler) writeError(conn *websocket.Conn, message string) {
	h.writeJSON(conn, map[string]interface{}{"error": message})
}

func (h *Handler) writeJSON(conn *websocket.Conn, payload interface{}) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(payload); err != nil {
		h.logger.Debug("WebSocket 写入失败", zap.Error(err))
	}
}

// connSink 把自适应写入器的帧落到 WebSocket 连接上
type connSink struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{conn: conn}
}

// WriteFrame 事件帧走文本消息
func (s *connSink) WriteFrame(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("websocket closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.closed.Store(true)
		return err
	}
	return nil
}

// WriteComment 心跳换成 ping 帧
func (s *connSink) WriteComment(text string) error {
	if s.closed.Load() {
		return fmt.Errorf("websocket closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteControl(websocket.PingMessage, []byte(text), time.Now().Add(writeWait)); err != nil {
		s.closed.Store(true)
		return err
	}
	return nil
}

// IsClosed 对端是否已断开
func (s *connSink) IsClosed() bool { return s.closed.Load() }

func (s *connSink) markClosed() { s.closed.Store(true) }

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// ConversationHandler 会话管理接口
type ConversationHandler struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	archiver      *scheduler.LRUScheduler
	logger        *zap.Logger
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	archiver *scheduler.LRUScheduler,
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		archiver:      archiver,
		logger:        logger,
	}
}

// List GET /api/conversations?userId&limit&skip
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId 必填"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))

	items, total, err := h.conversations.FindByUserID(c.Request.Context(), userID, limit, skip)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items": items, "total": total})
}

// Get GET /api/conversations/:id?userId — 详情带消息
func (h *ConversationHandler) Get(c *gin.Context) {
	userID := c.Query("userId")
	conv, err := h.conversations.FindByID(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.archiver.Touch(c.Request.Context(), conv.ID)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	msgs, total, err := h.messages.FindByConversationID(c.Request.Context(), conv.ID, userID, limit, skip)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"conversation": conv,
		"messages":     msgs,
		"totalMessages": total,
	})
}

type updateConversationRequest struct {
	UserID string `json:"userId" binding:"required"`
	Title  string `json:"title" binding:"required"`
}

// Update PUT /api/conversations/:id — 改标题
func (h *ConversationHandler) Update(c *gin.Context) {
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId 和 title 必填"})
		return
	}
	conv, err := h.conversations.FindByID(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	conv.Title = req.Title
	if err := h.conversations.Update(c.Request.Context(), conv); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": conv})
}

// Delete DELETE /api/conversations/:id?userId
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID := c.Query("userId")
	if err := h.conversations.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type archiveRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	UserID         string `json:"userId" binding:"required"`
}

// Archive POST /api/conversations/archive
func (h *ConversationHandler) Archive(c *gin.Context) {
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "conversationId 和 userId 必填"})
		return
	}
	conv, err := h.conversations.FindByID(c.Request.Context(), req.ConversationID, req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	conv.Archive()
	if err := h.conversations.Update(c.Request.Context(), conv); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversation": conv})
}

// Unarchive POST /api/conversations/unarchive
// 恢复后重新执行活跃上限检查
func (h *ConversationHandler) Unarchive(c *gin.Context) {
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "conversationId 和 userId 必填"})
		return
	}
	if err := h.archiver.RestoreArchived(c.Request.Context(), req.ConversationID, req.UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type archivedListRequest struct {
	UserID string `json:"userId" binding:"required"`
	Limit  int    `json:"limit"`
	Skip   int    `json:"skip"`
}

// Archived POST /api/conversations/archived — 归档列表
func (h *ConversationHandler) Archived(c *gin.Context) {
	var req archivedListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId 必填"})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	items, total, err := h.conversations.FindArchivedByUserID(c.Request.Context(), req.UserID, req.Limit, req.Skip)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items": items, "total": total})
}

// RestoreArchived POST /api/conversations/archived/restore
func (h *ConversationHandler) RestoreArchived(c *gin.Context) {
	h.Unarchive(c)
}

// ContentRange GET /api/messages/:id/content?userId&start&length — 大消息的懒加载读取
func (h *ConversationHandler) ContentRange(c *gin.Context) {
	userID := c.Query("userId")
	start, _ := strconv.Atoi(c.DefaultQuery("start", "0"))
	length, _ := strconv.Atoi(c.DefaultQuery("length", "4000"))

	rng, err := h.messages.GetContentRange(c.Request.Context(), c.Param("id"), userID, start, length)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "range": rng})
}

func (h *ConversationHandler) fail(c *gin.Context, err error) {
	switch {
	case domainErrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case domainErrors.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		h.logger.Error("会话接口失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}

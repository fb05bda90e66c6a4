package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
	"github.com/nexchat/gateway/internal/domain/repository"
)

// RequestIDKey gin 上下文里的请求ID键
const RequestIDKey = "requestId"

// UserHandler 用户接口，按主体ID取或建
type UserHandler struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewUserHandler 创建用户处理器
func NewUserHandler(users repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

type userRequest struct {
	UserID   string `json:"userId" form:"userId"`
	DeviceID string `json:"deviceId" form:"deviceId"`
	Name     string `json:"name" form:"name"`
}

// Handle GET|POST|OPTIONS /api/user
func (h *UserHandler) Handle(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}

	var req userRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid body"})
			return
		}
	} else {
		_ = c.ShouldBindQuery(&req)
	}
	if req.UserID == "" {
		req.UserID = uuid.New().String()
	}

	ctx := c.Request.Context()
	user, err := h.users.FindByID(ctx, req.UserID)
	switch {
	case err == nil:
		user.TouchActive()
	case domainErrors.IsNotFound(err):
		user = entity.NewUser(req.UserID, req.DeviceID, req.Name)
	default:
		h.logger.Error("查询用户失败", zap.String("userId", req.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		return
	}

	if err := h.users.Save(ctx, user); err != nil {
		h.logger.Error("保存用户失败", zap.String("userId", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

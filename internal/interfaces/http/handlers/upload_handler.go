package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// maxChunkBytes 单个分片的大小上限
const maxChunkBytes = 4 << 20

// UploadHandler 分片上传接口。
// 大文本分片上传，每片带 sha256 校验，到齐后合并供长文本模式引用。
type UploadHandler struct {
	uploads repository.UploadRepository
	logger  *zap.Logger
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(uploads repository.UploadRepository, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, logger: logger}
}

type createUploadRequest struct {
	UserID      string `json:"userId" binding:"required"`
	FileName    string `json:"fileName"`
	TotalSize   int64  `json:"totalSize"`
	TotalChunks int    `json:"totalChunks" binding:"required"`
}

// Create POST /api/uploads
func (h *UploadHandler) Create(c *gin.Context) {
	var req createUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId 和 totalChunks 必填"})
		return
	}
	if req.TotalChunks <= 0 || req.TotalChunks > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "totalChunks 超出范围"})
		return
	}

	session := entity.NewUploadSession(req.UserID, req.FileName, req.TotalSize, req.TotalChunks)
	if err := h.uploads.SaveSession(c.Request.Context(), session); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// SaveChunk POST /api/uploads/:id/chunks/:idx
// 原始字节作请求体，X-Chunk-Sha256 头携带校验和。
// 校验失败时分片不落盘，返回 verified=false。
func (h *UploadHandler) SaveChunk(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("idx"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "分片序号不合法"})
		return
	}
	checksum := c.GetHeader("X-Chunk-Sha256")
	if checksum == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "缺少 X-Chunk-Sha256"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChunkBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "读取分片失败"})
		return
	}
	if len(data) > maxChunkBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "分片过大"})
		return
	}

	if err := h.uploads.SaveChunk(c.Request.Context(), c.Param("id"), index, data, checksum); err != nil {
		if domainErrors.IsInvalidInput(err) {
			c.JSON(http.StatusOK, gin.H{"success": false, "verified": false, "error": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "verified": true})
}

// Get GET /api/uploads/:id?userId — 会话状态与缺片清单
func (h *UploadHandler) Get(c *gin.Context) {
	session, err := h.uploads.FindSession(c.Request.Context(), c.Param("id"), c.Query("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
		"missing": session.MissingChunks(),
	})
}

// Assemble POST /api/uploads/:id/assemble — 按序合并全部分片
func (h *UploadHandler) Assemble(c *gin.Context) {
	content, err := h.uploads.Assemble(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "content": content})
}

// Delete DELETE /api/uploads/:id?userId
func (h *UploadHandler) Delete(c *gin.Context) {
	if err := h.uploads.DeleteSession(c.Request.Context(), c.Param("id"), c.Query("userId")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *UploadHandler) fail(c *gin.Context, err error) {
	switch {
	case domainErrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
	case domainErrors.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		h.logger.Error("上传接口失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}

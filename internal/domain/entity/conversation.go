package entity

import (
	"time"

	"github.com/google/uuid"
)

// Conversation 会话实体。
//
// 活跃会话按 LRU 规则归档：lastAccessedAt 记录最近一次读写，
// 归档后 archived 置位并记录 archivedAt，恢复时清除。
type Conversation struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Title          string     `json:"title"`
	ModelType      string     `json:"modelType"`
	MessageCount   int        `json:"messageCount"`
	Archived       bool       `json:"archived"`
	ArchivedAt     *time.Time `json:"archivedAt,omitempty"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewConversation 创建会话。title 为空时由首条消息生成。
func NewConversation(userID, title, modelType string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:             uuid.New().String(),
		UserID:         userID,
		Title:          title,
		ModelType:      modelType,
		LastAccessedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Touch 更新最近访问时间
func (c *Conversation) Touch() {
	now := time.Now().UTC()
	c.LastAccessedAt = now
	c.UpdatedAt = now
}

// IncrementMessageCount 消息写入成功后调用
func (c *Conversation) IncrementMessageCount() {
	c.MessageCount++
	c.UpdatedAt = time.Now().UTC()
}

// Archive 归档会话。重复归档是幂等的。
func (c *Conversation) Archive() {
	if c.Archived {
		return
	}
	now := time.Now().UTC()
	c.Archived = true
	c.ArchivedAt = &now
	c.UpdatedAt = now
}

// Restore 恢复归档会话
func (c *Conversation) Restore() error {
	if !c.Archived {
		return ErrConversationNotArchived
	}
	c.Archived = false
	c.ArchivedAt = nil
	c.Touch()
	return nil
}

// OwnedBy 校验归属
func (c *Conversation) OwnedBy(userID string) bool {
	return c.UserID == userID
}

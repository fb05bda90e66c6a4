package entity

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole 消息角色
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// MessageStatus 消息状态
type MessageStatus string

const (
	// MessageStatusComplete 正常完成
	MessageStatusComplete MessageStatus = "complete"
	// MessageStatusPartial 流式中断后保存的部分内容
	MessageStatusPartial MessageStatus = "partial"
	// MessageStatusError 生成失败
	MessageStatusError MessageStatus = "error"
)

// Source 回答引用的来源链接
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Message 消息实体
type Message struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversationId"`
	UserID          string        `json:"userId"`
	Role            MessageRole   `json:"role"`
	Content         string        `json:"content"`
	Thinking        string        `json:"thinking,omitempty"`
	Sources         []Source      `json:"sources,omitempty"`
	ClientMessageID string        `json:"clientMessageId,omitempty"`
	Status          MessageStatus `json:"status"`
	TokensUsed      int           `json:"tokensUsed,omitempty"`
	DurationMs      int64         `json:"durationMs,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// NewUserMessage 创建用户消息。clientMessageID 由前端生成，用于幂等去重。
func NewUserMessage(conversationID, userID, content, clientMessageID string) *Message {
	return &Message{
		ID:              messageID(clientMessageID),
		ConversationID:  conversationID,
		UserID:          userID,
		Role:            RoleUser,
		Content:         content,
		ClientMessageID: clientMessageID,
		Status:          MessageStatusComplete,
		CreatedAt:       time.Now().UTC(),
	}
}

// NewAssistantMessage 创建助手消息，内容在流式完成后补齐
func NewAssistantMessage(conversationID, userID, clientMessageID string) *Message {
	return &Message{
		ID:              messageID(clientMessageID),
		ConversationID:  conversationID,
		UserID:          userID,
		Role:            RoleAssistant,
		ClientMessageID: clientMessageID,
		Status:          MessageStatusComplete,
		CreatedAt:       time.Now().UTC(),
	}
}

// MarkPartial 流式中断时落盘部分内容
func (m *Message) MarkPartial(content, thinking string) {
	m.Content = content
	m.Thinking = thinking
	m.Status = MessageStatusPartial
}

// MarkError 生成失败
func (m *Message) MarkError(content string) {
	m.Content = content
	m.Status = MessageStatusError
}

// Complete 填充最终内容
func (m *Message) Complete(content, thinking string, sources []Source, tokens int, duration time.Duration) {
	m.Content = content
	m.Thinking = thinking
	m.Sources = sources
	m.TokensUsed = tokens
	m.DurationMs = duration.Milliseconds()
	m.Status = MessageStatusComplete
}

func messageID(clientID string) string {
	if clientID != "" {
		return clientID
	}
	return uuid.New().String()
}

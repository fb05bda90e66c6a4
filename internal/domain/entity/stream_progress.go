package entity

import "time"

// StreamStatus 流式进度状态
type StreamStatus string

const (
	StreamStatusStreaming StreamStatus = "streaming"
	StreamStatusCompleted StreamStatus = "completed"
	StreamStatusError     StreamStatus = "error"
)

// StreamProgressTTL 进度记录的保留时长
const StreamProgressTTL = 30 * time.Minute

// StreamProgress 流式生成进度快照。
//
// 按 messageId 幂等更新，客户端断线重连后可据此恢复已生成的内容。
type StreamProgress struct {
	MessageID        string       `json:"messageId"`
	ConversationID   string       `json:"conversationId"`
	UserID           string       `json:"userId"`
	Content          string       `json:"content"`
	Thinking         string       `json:"thinking,omitempty"`
	Status           StreamStatus `json:"status"`
	LastSentPosition int          `json:"lastSentPosition"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	ExpiresAt        time.Time    `json:"expiresAt"`
}

// NewStreamProgress 创建进度记录
func NewStreamProgress(messageID, conversationID, userID string) *StreamProgress {
	now := time.Now().UTC()
	return &StreamProgress{
		MessageID:      messageID,
		ConversationID: conversationID,
		UserID:         userID,
		Status:         StreamStatusStreaming,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(StreamProgressTTL),
	}
}

// Advance 追加内容并刷新过期时间
func (p *StreamProgress) Advance(content, thinking string) {
	now := time.Now().UTC()
	p.Content = content
	p.Thinking = thinking
	p.Status = StreamStatusStreaming
	p.LastSentPosition = len([]rune(content))
	p.UpdatedAt = now
	p.ExpiresAt = now.Add(StreamProgressTTL)
}

// Finish 标记完成
func (p *StreamProgress) Finish() {
	p.Status = StreamStatusCompleted
	p.UpdatedAt = time.Now().UTC()
}

// Fail 标记失败
func (p *StreamProgress) Fail() {
	p.Status = StreamStatusError
	p.UpdatedAt = time.Now().UTC()
}

// Expired 是否已过保留期
func (p *StreamProgress) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

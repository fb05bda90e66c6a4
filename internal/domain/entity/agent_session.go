package entity

import (
	"fmt"
	"time"
)

// AgentSessionTTL 多智能体会话断点的保留时长。
// 超过该时长未推进的会话视为放弃，重连时从头开始。
const AgentSessionTTL = 5 * time.Minute

// SessionStatus 多轮会话状态
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAborted   SessionStatus = "aborted"
)

// RoundOutput 单轮智能体输出
type RoundOutput struct {
	Round   int    `json:"round"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AgentSession 多智能体流水线的断点记录。
//
// 以 (conversationId, userId, assistantMessageId) 三元组唯一标识，
// completedRounds 只增不减，重复保存同一轮是幂等的。
type AgentSession struct {
	ID                 string        `json:"id"`
	ConversationID     string        `json:"conversationId"`
	UserID             string        `json:"userId"`
	AssistantMessageID string        `json:"assistantMessageId"`
	TotalRounds        int           `json:"totalRounds"`
	CompletedRounds    int           `json:"completedRounds"`
	Rounds             []RoundOutput `json:"rounds,omitempty"`
	Status             SessionStatus `json:"status"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
	ExpiresAt          time.Time     `json:"expiresAt"`
}

// AgentSessionKey 生成三元组主键
func AgentSessionKey(conversationID, userID, assistantMessageID string) string {
	return fmt.Sprintf("%s:%s:%s", conversationID, userID, assistantMessageID)
}

// NewAgentSession 创建会话断点
func NewAgentSession(conversationID, userID, assistantMessageID string, totalRounds int) *AgentSession {
	now := time.Now().UTC()
	return &AgentSession{
		ID:                 AgentSessionKey(conversationID, userID, assistantMessageID),
		ConversationID:     conversationID,
		UserID:             userID,
		AssistantMessageID: assistantMessageID,
		TotalRounds:        totalRounds,
		Status:             SessionStatusRunning,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(AgentSessionTTL),
	}
}

// RecordRound 记录一轮完成。回退或重复的轮次被忽略，保证 completedRounds 单调递增。
func (s *AgentSession) RecordRound(out RoundOutput) {
	if out.Round <= s.CompletedRounds {
		return
	}
	s.Rounds = append(s.Rounds, out)
	s.CompletedRounds = out.Round
	now := time.Now().UTC()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(AgentSessionTTL)
}

// RoundContent 查询某一轮的输出，不存在时返回空串
func (s *AgentSession) RoundContent(round int) string {
	for _, r := range s.Rounds {
		if r.Round == round {
			return r.Content
		}
	}
	return ""
}

// Complete 全部轮次完成
func (s *AgentSession) Complete() {
	s.Status = SessionStatusCompleted
	s.UpdatedAt = time.Now().UTC()
}

// Expired 是否已过保留期
func (s *AgentSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

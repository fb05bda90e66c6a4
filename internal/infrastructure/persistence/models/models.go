// Package models 定义数据库模型。
// 领域实体与模型的互转在各仓储文件内完成，实体本身不带 gorm 标签。
package models

import (
	"time"

	"gorm.io/gorm"
)

// UserModel 用户表
type UserModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	DeviceID     string `gorm:"size:64"`
	Name         string `gorm:"size:128"`
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// TableName 指定表名
func (UserModel) TableName() string { return "users" }

// ConversationModel 会话表。软删用 gorm.DeletedAt，归档是业务状态单独落列。
type ConversationModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	UserID         string `gorm:"index;size:64;not null"`
	Title          string `gorm:"size:256"`
	ModelType      string `gorm:"size:32"`
	MessageCount   int    `gorm:"not null;default:0"`
	Archived       bool   `gorm:"index;not null;default:false"`
	ArchivedAt     *time.Time
	LastAccessedAt time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// TableName 指定表名
func (ConversationModel) TableName() string { return "conversations" }

// MessageModel 消息表。Sources 序列化为 JSON 文本。
type MessageModel struct {
	ID              string `gorm:"primaryKey;size:64"`
	ConversationID  string `gorm:"index;size:64;not null"`
	UserID          string `gorm:"index;size:64;not null"`
	Role            string `gorm:"size:16;not null"`
	Content         string `gorm:"type:text"`
	Thinking        string `gorm:"type:text"`
	Sources         string `gorm:"type:text"`
	ClientMessageID string `gorm:"index;size:64"`
	Status          string `gorm:"size:16;not null"`
	TokensUsed      int
	DurationMs      int64
	CreatedAt       time.Time `gorm:"index"`
}

// TableName 指定表名
func (MessageModel) TableName() string { return "messages" }

// PlanModel 计划表。结构化字段整体序列化为 JSON 文本。
type PlanModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index;size:64;not null"`
	Title     string `gorm:"size:256"`
	Payload   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName 指定表名
func (PlanModel) TableName() string { return "plans" }

// StreamProgressModel 流式进度表，按 messageId 幂等更新
type StreamProgressModel struct {
	MessageID        string `gorm:"primaryKey;size:64"`
	ConversationID   string `gorm:"index;size:64"`
	UserID           string `gorm:"index;size:64"`
	Content          string `gorm:"type:text"`
	Thinking         string `gorm:"type:text"`
	Status           string `gorm:"size:16;not null"`
	LastSentPosition int
	UpdatedAt        time.Time `gorm:"index"`
	ExpiresAt        time.Time `gorm:"index"`
}

// TableName 指定表名
func (StreamProgressModel) TableName() string { return "stream_progress" }

// AgentSessionModel 多智能体会话断点表，三元组唯一
type AgentSessionModel struct {
	ID                 string `gorm:"primaryKey;size:200"`
	ConversationID     string `gorm:"index:idx_agent_session_tuple;size:64;not null"`
	UserID             string `gorm:"index:idx_agent_session_tuple;size:64;not null"`
	AssistantMessageID string `gorm:"index:idx_agent_session_tuple;size:64;not null"`
	TotalRounds        int
	CompletedRounds    int
	Rounds             string `gorm:"type:text"`
	Status             string `gorm:"size:16"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpiresAt          time.Time `gorm:"index"`
}

// TableName 指定表名
func (AgentSessionModel) TableName() string { return "agent_sessions" }

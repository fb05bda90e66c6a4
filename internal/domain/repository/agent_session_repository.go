package repository

import (
	"context"
	"time"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// AgentSessionRepository 多智能体会话断点仓储接口
type AgentSessionRepository interface {
	// Save 按三元组幂等写入会话断点
	Save(ctx context.Context, session *entity.AgentSession) error

	// Find 按三元组查询断点，过期视为不存在
	Find(ctx context.Context, conversationID, userID, assistantMessageID string) (*entity.AgentSession, error)

	// Delete 删除断点
	Delete(ctx context.Context, conversationID, userID, assistantMessageID string) error

	// DeleteExpired 清理过期断点，返回清理条数
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

package repository

import (
	"context"
	"time"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// ConversationRepository 会话仓储接口
type ConversationRepository interface {
	// Save 保存会话
	Save(ctx context.Context, conversation *entity.Conversation) error

	// FindByID 根据ID查找会话，校验归属
	FindByID(ctx context.Context, id, userID string) (*entity.Conversation, error)

	// FindByUserID 按更新时间倒序返回用户的活跃会话及总数
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error)

	// FindArchivedByUserID 按归档时间倒序返回用户的归档会话
	FindArchivedByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error)

	// Update 更新会话
	Update(ctx context.Context, conversation *entity.Conversation) error

	// Delete 删除会话及其全部消息
	Delete(ctx context.Context, id, userID string) error

	// Touch 更新最近访问时间
	Touch(ctx context.Context, id string, at time.Time) error

	// ListActiveByUser 按最近访问倒序返回用户全部活跃会话，归档调度用
	ListActiveByUser(ctx context.Context, userID string) ([]*entity.Conversation, error)

	// ListInactiveSince 返回所有 lastAccessedAt 早于 cutoff 的活跃会话
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*entity.Conversation, error)

	// ListArchivedOlderThan 返回归档时间早于 cutoff 的会话
	ListArchivedOlderThan(ctx context.Context, cutoff time.Time) ([]*entity.Conversation, error)

	// UserIDsWithArchived 返回存在归档会话的用户ID
	UserIDsWithArchived(ctx context.Context) ([]string, error)
}

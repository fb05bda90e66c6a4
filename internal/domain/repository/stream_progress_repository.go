package repository

import (
	"context"
	"time"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// StreamProgressRepository 流式进度仓储接口
type StreamProgressRepository interface {
	// Upsert 按 messageId 幂等写入进度
	Upsert(ctx context.Context, progress *entity.StreamProgress) error

	// FindByMessageID 查询进度，校验归属
	FindByMessageID(ctx context.Context, messageID, userID string) (*entity.StreamProgress, error)

	// Delete 删除进度记录
	Delete(ctx context.Context, messageID string) error

	// DeleteExpired 清理过期进度，返回清理条数
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

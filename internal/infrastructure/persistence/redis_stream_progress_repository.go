package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

const progressKeyPrefix = "progress:"

// RedisStreamProgressRepository Redis 实现的流式进度仓储。
// 过期交给 Redis 原生 TTL，DeleteExpired 因此是空操作。
type RedisStreamProgressRepository struct {
	client *redis.Client
}

// NewRedisStreamProgressRepository 创建 Redis 流式进度仓储
func NewRedisStreamProgressRepository(client *redis.Client) repository.StreamProgressRepository {
	return &RedisStreamProgressRepository{client: client}
}

// Upsert 按 messageId 幂等写入进度并刷新 TTL
func (r *RedisStreamProgressRepository) Upsert(ctx context.Context, progress *entity.StreamProgress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal stream progress: " + err.Error())
	}
	ttl := time.Until(progress.ExpiresAt)
	if ttl <= 0 {
		ttl = entity.StreamProgressTTL
	}
	if err := r.client.Set(ctx, progressKeyPrefix+progress.MessageID, raw, ttl).Err(); err != nil {
		return domainErrors.NewInternalError("failed to upsert stream progress: " + err.Error())
	}
	return nil
}

// FindByMessageID 查询进度，校验归属
func (r *RedisStreamProgressRepository) FindByMessageID(ctx context.Context, messageID, userID string) (*entity.StreamProgress, error) {
	raw, err := r.client.Get(ctx, progressKeyPrefix+messageID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainErrors.NewNotFoundError("stream progress not found")
		}
		return nil, domainErrors.NewInternalError("failed to find stream progress: " + err.Error())
	}
	var progress entity.StreamProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal stream progress: " + err.Error())
	}
	if progress.UserID != userID {
		return nil, domainErrors.NewNotFoundError("stream progress not found")
	}
	return &progress, nil
}

// Delete 删除进度记录
func (r *RedisStreamProgressRepository) Delete(ctx context.Context, messageID string) error {
	if err := r.client.Del(ctx, progressKeyPrefix+messageID).Err(); err != nil {
		return domainErrors.NewInternalError("failed to delete stream progress: " + err.Error())
	}
	return nil
}

// DeleteExpired Redis 原生 TTL 负责回收，这里无事可做
func (r *RedisStreamProgressRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

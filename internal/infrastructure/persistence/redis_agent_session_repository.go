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

const agentSessionKeyPrefix = "agentsession:"

// RedisAgentSessionRepository Redis 实现的多智能体会话断点仓储。
// TTL 随每次 Save 刷新，Redis 自动回收过期断点。
type RedisAgentSessionRepository struct {
	client *redis.Client
}

// NewRedisAgentSessionRepository 创建 Redis 会话断点仓储
func NewRedisAgentSessionRepository(client *redis.Client) repository.AgentSessionRepository {
	return &RedisAgentSessionRepository{client: client}
}

// Save 按三元组幂等写入会话断点
func (r *RedisAgentSessionRepository) Save(ctx context.Context, session *entity.AgentSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal agent session: " + err.Error())
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = entity.AgentSessionTTL
	}
	if err := r.client.Set(ctx, agentSessionKeyPrefix+session.ID, raw, ttl).Err(); err != nil {
		return domainErrors.NewInternalError("failed to save agent session: " + err.Error())
	}
	return nil
}

// Find 按三元组查询断点
func (r *RedisAgentSessionRepository) Find(ctx context.Context, conversationID, userID, assistantMessageID string) (*entity.AgentSession, error) {
	key := agentSessionKeyPrefix + entity.AgentSessionKey(conversationID, userID, assistantMessageID)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainErrors.NewNotFoundError("agent session not found")
		}
		return nil, domainErrors.NewInternalError("failed to find agent session: " + err.Error())
	}
	var session entity.AgentSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal agent session: " + err.Error())
	}
	return &session, nil
}

// Delete 删除断点
func (r *RedisAgentSessionRepository) Delete(ctx context.Context, conversationID, userID, assistantMessageID string) error {
	key := agentSessionKeyPrefix + entity.AgentSessionKey(conversationID, userID, assistantMessageID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return domainErrors.NewInternalError("failed to delete agent session: " + err.Error())
	}
	return nil
}

// DeleteExpired Redis 原生 TTL 负责回收，这里无事可做
func (r *RedisAgentSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

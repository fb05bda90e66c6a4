package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// 内存实现的小型仓储集合（用于开发/测试）：
// 用户、计划、流式进度、多智能体会话断点。

// MemoryUserRepository 内存用户仓储
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*entity.User
}

// NewMemoryUserRepository 创建内存用户仓储
func NewMemoryUserRepository() repository.UserRepository {
	return &MemoryUserRepository{users: make(map[string]*entity.User)}
}

// Save 保存用户，已存在时更新
func (r *MemoryUserRepository) Save(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

// FindByID 根据ID查找用户
func (r *MemoryUserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, domainErrors.NewNotFoundError("user not found")
	}
	copied := *user
	return &copied, nil
}

// MemoryPlanRepository 内存计划仓储
type MemoryPlanRepository struct {
	mu    sync.RWMutex
	plans map[string]*entity.Plan
}

// NewMemoryPlanRepository 创建内存计划仓储
func NewMemoryPlanRepository() repository.PlanRepository {
	return &MemoryPlanRepository{plans: make(map[string]*entity.Plan)}
}

// Save 保存计划
func (r *MemoryPlanRepository) Save(ctx context.Context, plan *entity.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *plan
	r.plans[plan.ID] = &copied
	return nil
}

// FindByID 根据ID查找计划，校验归属
func (r *MemoryPlanRepository) FindByID(ctx context.Context, id, userID string) (*entity.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plan, ok := r.plans[id]
	if !ok || plan.UserID != userID {
		return nil, domainErrors.NewNotFoundError("plan not found")
	}
	copied := *plan
	return &copied, nil
}

// FindByUserID 按更新时间倒序返回用户的计划
func (r *MemoryPlanRepository) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Plan, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*entity.Plan
	for _, plan := range r.plans {
		if plan.UserID == userID {
			copied := *plan
			matched = append(matched, &copied)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []*entity.Plan{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// Update 更新计划
func (r *MemoryPlanRepository) Update(ctx context.Context, plan *entity.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.plans[plan.ID]
	if !ok || existing.UserID != plan.UserID {
		return domainErrors.NewNotFoundError("plan not found")
	}
	copied := *plan
	r.plans[plan.ID] = &copied
	return nil
}

// Delete 删除计划
func (r *MemoryPlanRepository) Delete(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[id]
	if !ok || plan.UserID != userID {
		return domainErrors.NewNotFoundError("plan not found")
	}
	delete(r.plans, id)
	return nil
}

// MemoryStreamProgressRepository 内存流式进度仓储
type MemoryStreamProgressRepository struct {
	mu       sync.RWMutex
	progress map[string]*entity.StreamProgress
}

// NewMemoryStreamProgressRepository 创建内存流式进度仓储
func NewMemoryStreamProgressRepository() repository.StreamProgressRepository {
	return &MemoryStreamProgressRepository{progress: make(map[string]*entity.StreamProgress)}
}

// Upsert 按 messageId 幂等写入进度
func (r *MemoryStreamProgressRepository) Upsert(ctx context.Context, progress *entity.StreamProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *progress
	r.progress[progress.MessageID] = &copied
	return nil
}

// FindByMessageID 查询进度，校验归属，过期视为不存在
func (r *MemoryStreamProgressRepository) FindByMessageID(ctx context.Context, messageID, userID string) (*entity.StreamProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	progress, ok := r.progress[messageID]
	if !ok || progress.UserID != userID {
		return nil, domainErrors.NewNotFoundError("stream progress not found")
	}
	if progress.Expired(time.Now().UTC()) {
		return nil, domainErrors.NewNotFoundError("stream progress expired")
	}
	copied := *progress
	return &copied, nil
}

// Delete 删除进度记录
func (r *MemoryStreamProgressRepository) Delete(ctx context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.progress, messageID)
	return nil
}

// DeleteExpired 清理过期进度
func (r *MemoryStreamProgressRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reaped int64
	for id, progress := range r.progress {
		if progress.Expired(now) {
			delete(r.progress, id)
			reaped++
		}
	}
	return reaped, nil
}

// MemoryAgentSessionRepository 内存多智能体会话断点仓储
type MemoryAgentSessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*entity.AgentSession
}

// NewMemoryAgentSessionRepository 创建内存会话断点仓储
func NewMemoryAgentSessionRepository() repository.AgentSessionRepository {
	return &MemoryAgentSessionRepository{sessions: make(map[string]*entity.AgentSession)}
}

// Save 按三元组幂等写入会话断点
func (r *MemoryAgentSessionRepository) Save(ctx context.Context, session *entity.AgentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

// Find 按三元组查询断点，过期视为不存在
func (r *MemoryAgentSessionRepository) Find(ctx context.Context, conversationID, userID, assistantMessageID string) (*entity.AgentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[entity.AgentSessionKey(conversationID, userID, assistantMessageID)]
	if !ok {
		return nil, domainErrors.NewNotFoundError("agent session not found")
	}
	if session.Expired(time.Now().UTC()) {
		return nil, domainErrors.NewNotFoundError("agent session expired")
	}
	copied := *session
	return &copied, nil
}

// Delete 删除断点
func (r *MemoryAgentSessionRepository) Delete(ctx context.Context, conversationID, userID, assistantMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, entity.AgentSessionKey(conversationID, userID, assistantMessageID))
	return nil
}

// DeleteExpired 清理过期断点
func (r *MemoryAgentSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reaped int64
	for id, session := range r.sessions {
		if session.Expired(now) {
			delete(r.sessions, id)
			reaped++
		}
	}
	return reaped, nil
}

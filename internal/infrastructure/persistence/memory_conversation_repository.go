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

// MemoryConversationRepository 内存实现的会话仓储（用于开发/测试）。
// 删除消息的联动由调用方的 MessageRepository 负责。
var _ repository.ConversationRepository = (*MemoryConversationRepository)(nil)

type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entity.Conversation
}

// NewMemoryConversationRepository 创建内存会话仓储
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]*entity.Conversation),
	}
}

// Save 保存会话
func (r *MemoryConversationRepository) Save(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *conversation
	r.conversations[conversation.ID] = &copied
	return nil
}

// FindByID 根据ID查找会话，校验归属
func (r *MemoryConversationRepository) FindByID(ctx context.Context, id, userID string) (*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok || !conv.OwnedBy(userID) {
		return nil, domainErrors.NewNotFoundError("conversation not found")
	}
	copied := *conv
	return &copied, nil
}

// FindByUserID 按更新时间倒序返回用户的活跃会话及总数
func (r *MemoryConversationRepository) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.collect(func(c *entity.Conversation) bool {
		return c.UserID == userID && !c.Archived
	})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	return paginate(matched, limit, offset)
}

// FindArchivedByUserID 按归档时间倒序返回用户的归档会话
func (r *MemoryConversationRepository) FindArchivedByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.collect(func(c *entity.Conversation) bool {
		return c.UserID == userID && c.Archived
	})
	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if matched[i].ArchivedAt != nil {
			ti = *matched[i].ArchivedAt
		}
		if matched[j].ArchivedAt != nil {
			tj = *matched[j].ArchivedAt
		}
		return ti.After(tj)
	})
	return paginate(matched, limit, offset)
}

// Update 更新会话
func (r *MemoryConversationRepository) Update(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conversations[conversation.ID]
	if !ok || !existing.OwnedBy(conversation.UserID) {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	copied := *conversation
	r.conversations[conversation.ID] = &copied
	return nil
}

// Delete 删除会话
func (r *MemoryConversationRepository) Delete(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok || !conv.OwnedBy(userID) {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	delete(r.conversations, id)
	return nil
}

// Touch 更新最近访问时间
func (r *MemoryConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	conv.LastAccessedAt = at
	conv.UpdatedAt = at
	return nil
}

// ListActiveByUser 按最近访问倒序返回用户全部活跃会话
func (r *MemoryConversationRepository) ListActiveByUser(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.collect(func(c *entity.Conversation) bool {
		return c.UserID == userID && !c.Archived
	})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LastAccessedAt.After(matched[j].LastAccessedAt)
	})
	return matched, nil
}

// ListInactiveSince 返回所有 lastAccessedAt 早于 cutoff 的活跃会话
func (r *MemoryConversationRepository) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(func(c *entity.Conversation) bool {
		return !c.Archived && c.LastAccessedAt.Before(cutoff)
	}), nil
}

// ListArchivedOlderThan 返回归档时间早于 cutoff 的会话
func (r *MemoryConversationRepository) ListArchivedOlderThan(ctx context.Context, cutoff time.Time) ([]*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(func(c *entity.Conversation) bool {
		return c.Archived && c.ArchivedAt != nil && c.ArchivedAt.Before(cutoff)
	}), nil
}

// UserIDsWithArchived 返回存在归档会话的用户ID
func (r *MemoryConversationRepository) UserIDsWithArchived(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, conv := range r.conversations {
		if conv.Archived && !seen[conv.UserID] {
			seen[conv.UserID] = true
			ids = append(ids, conv.UserID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryConversationRepository) collect(match func(*entity.Conversation) bool) []*entity.Conversation {
	var out []*entity.Conversation
	for _, conv := range r.conversations {
		if match(conv) {
			copied := *conv
			out = append(out, &copied)
		}
	}
	return out
}

func paginate(convs []*entity.Conversation, limit, offset int) ([]*entity.Conversation, int64, error) {
	total := int64(len(convs))
	if offset >= len(convs) {
		return []*entity.Conversation{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(convs) {
		end = len(convs)
	}
	return convs[offset:end], total, nil
}

package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// MemoryMessageRepository 内存实现的消息仓储（用于开发/测试）
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*entity.Message
	// 会话ID到消息ID列表的映射
	convMessages map[string][]string
}

// NewMemoryMessageRepository 创建内存消息仓储
func NewMemoryMessageRepository() repository.MessageRepository {
	return &MemoryMessageRepository{
		messages:     make(map[string]*entity.Message),
		convMessages: make(map[string][]string),
	}
}

// Save 保存消息
func (r *MemoryMessageRepository) Save(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[message.ID]; !ok {
		convID := message.ConversationID
		r.convMessages[convID] = append(r.convMessages[convID], message.ID)
	}
	copied := *message
	r.messages[message.ID] = &copied
	return nil
}

// FindByID 根据ID查找消息，校验归属
func (r *MemoryMessageRepository) FindByID(ctx context.Context, id, userID string) (*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[id]
	if !ok || message.UserID != userID {
		return nil, domainErrors.NewNotFoundError("message not found")
	}
	copied := *message
	return &copied, nil
}

// FindByConversationID 按时间正序返回会话消息及总数
func (r *MemoryMessageRepository) FindByConversationID(ctx context.Context, conversationID, userID string, limit, offset int) ([]*entity.Message, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*entity.Message
	for _, id := range r.convMessages[conversationID] {
		if msg, ok := r.messages[id]; ok && msg.UserID == userID {
			all = append(all, msg)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []*entity.Message{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}

	messages := make([]*entity.Message, 0, end-offset)
	for _, msg := range all[offset:end] {
		copied := *msg
		messages = append(messages, &copied)
	}
	return messages, total, nil
}

// ExistsByClientMessageID 判断客户端消息ID是否已写入
func (r *MemoryMessageRepository) ExistsByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.convMessages[conversationID] {
		if msg, ok := r.messages[id]; ok && msg.ClientMessageID == clientMessageID {
			return true, nil
		}
	}
	return false, nil
}

// GetContentRange 读取消息内容的一个区间
func (r *MemoryMessageRepository) GetContentRange(ctx context.Context, id, userID string, start, length int) (*repository.ContentRange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[id]
	if !ok || message.UserID != userID {
		return nil, domainErrors.NewNotFoundError("message not found")
	}
	return sliceContentRange(message.Content, start, length), nil
}

// DeleteByConversationID 删除会话下全部消息
func (r *MemoryMessageRepository) DeleteByConversationID(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.convMessages[conversationID] {
		delete(r.messages, id)
	}
	delete(r.convMessages, conversationID)
	return nil
}

// Count 统计会话中的消息数量
func (r *MemoryMessageRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.convMessages[conversationID])), nil
}

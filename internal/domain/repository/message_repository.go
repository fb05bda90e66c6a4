package repository

import (
	"context"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// ContentRange 超长消息的区间读取结果，前端按需懒加载
type ContentRange struct {
	Content string `json:"content"`
	Start   int    `json:"start"`
	Length  int    `json:"length"`
	Total   int    `json:"total"`
	HasMore bool   `json:"hasMore"`
}

// MessageRepository 消息仓储接口
type MessageRepository interface {
	// Save 保存消息
	Save(ctx context.Context, message *entity.Message) error

	// FindByID 根据ID查找消息，校验归属
	FindByID(ctx context.Context, id, userID string) (*entity.Message, error)

	// FindByConversationID 按时间正序返回会话消息及总数
	FindByConversationID(ctx context.Context, conversationID, userID string, limit, offset int) ([]*entity.Message, int64, error)

	// ExistsByClientMessageID 判断客户端消息ID是否已写入，用于幂等去重
	ExistsByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (bool, error)

	// GetContentRange 读取消息内容的一个区间，按字符计
	GetContentRange(ctx context.Context, id, userID string, start, length int) (*ContentRange, error)

	// DeleteByConversationID 删除会话下全部消息
	DeleteByConversationID(ctx context.Context, conversationID string) error

	// Count 统计会话中的消息数量
	Count(ctx context.Context, conversationID string) (int64, error)
}

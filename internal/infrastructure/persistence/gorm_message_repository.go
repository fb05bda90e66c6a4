package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// GormMessageRepository GORM 实现的消息仓储
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GORM 消息仓储
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{db: db}
}

// Save 保存消息
func (r *GormMessageRepository) Save(ctx context.Context, message *entity.Message) error {
	model, err := r.toModel(message)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save message: " + err.Error())
	}
	return nil
}

// FindByID 根据ID查找消息，校验归属
func (r *GormMessageRepository) FindByID(ctx context.Context, id, userID string) (*entity.Message, error) {
	var model models.MessageModel
	err := r.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("message not found")
		}
		return nil, domainErrors.NewInternalError("failed to find message: " + err.Error())
	}
	return r.toEntity(&model)
}

// FindByConversationID 按时间正序返回会话消息及总数
func (r *GormMessageRepository) FindByConversationID(ctx context.Context, conversationID, userID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to count messages: " + err.Error())
	}

	var rows []models.MessageModel
	err := query.Order("created_at ASC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to find messages: " + err.Error())
	}

	messages := make([]*entity.Message, 0, len(rows))
	for i := range rows {
		msg, err := r.toEntity(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	return messages, total, nil
}

// ExistsByClientMessageID 判断客户端消息ID是否已写入
func (r *GormMessageRepository) ExistsByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (bool, error) {
	if clientMessageID == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("conversation_id = ? AND client_message_id = ?", conversationID, clientMessageID).
		Count(&count).Error
	if err != nil {
		return false, domainErrors.NewInternalError("failed to check client message id: " + err.Error())
	}
	return count > 0, nil
}

// GetContentRange 读取消息内容的一个区间，按字符计
func (r *GormMessageRepository) GetContentRange(ctx context.Context, id, userID string, start, length int) (*repository.ContentRange, error) {
	msg, err := r.FindByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return sliceContentRange(msg.Content, start, length), nil
}

// DeleteByConversationID 删除会话下全部消息
func (r *GormMessageRepository) DeleteByConversationID(ctx context.Context, conversationID string) error {
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&models.MessageModel{}).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to delete messages: " + err.Error())
	}
	return nil
}

// Count 统计会话中的消息数量
func (r *GormMessageRepository) Count(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to count messages: " + err.Error())
	}
	return count, nil
}

// sliceContentRange 区间切片按 rune 计，避免把多字节字符切半
func sliceContentRange(content string, start, length int) *repository.ContentRange {
	runes := []rune(content)
	total := len(runes)
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + length
	if length <= 0 || end > total {
		end = total
	}
	return &repository.ContentRange{
		Content: string(runes[start:end]),
		Start:   start,
		Length:  end - start,
		Total:   total,
		HasMore: end < total,
	}
}

// 转换方法

func (r *GormMessageRepository) toModel(m *entity.Message) (*models.MessageModel, error) {
	var sources string
	if len(m.Sources) > 0 {
		raw, err := json.Marshal(m.Sources)
		if err != nil {
			return nil, domainErrors.NewInternalError("failed to marshal sources: " + err.Error())
		}
		sources = string(raw)
	}
	return &models.MessageModel{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		UserID:          m.UserID,
		Role:            string(m.Role),
		Content:         m.Content,
		Thinking:        m.Thinking,
		Sources:         sources,
		ClientMessageID: m.ClientMessageID,
		Status:          string(m.Status),
		TokensUsed:      m.TokensUsed,
		DurationMs:      m.DurationMs,
		CreatedAt:       m.CreatedAt,
	}, nil
}

func (r *GormMessageRepository) toEntity(m *models.MessageModel) (*entity.Message, error) {
	var sources []entity.Source
	if m.Sources != "" {
		// 来源解析失败不中断读取，按无来源处理
		_ = json.Unmarshal([]byte(m.Sources), &sources)
	}
	return &entity.Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		UserID:          m.UserID,
		Role:            entity.MessageRole(m.Role),
		Content:         m.Content,
		Thinking:        m.Thinking,
		Sources:         sources,
		ClientMessageID: m.ClientMessageID,
		Status:          entity.MessageStatus(m.Status),
		TokensUsed:      m.TokensUsed,
		DurationMs:      m.DurationMs,
		CreatedAt:       m.CreatedAt,
	}, nil
}

package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// GormConversationRepository GORM 实现的会话仓储
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建 GORM 会话仓储
func NewGormConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &GormConversationRepository{db: db}
}

// Save 保存会话
func (r *GormConversationRepository) Save(ctx context.Context, conversation *entity.Conversation) error {
	if err := r.db.WithContext(ctx).Save(r.toModel(conversation)).Error; err != nil {
		return domainErrors.NewInternalError("failed to save conversation: " + err.Error())
	}
	return nil
}

// FindByID 根据ID查找会话，校验归属
func (r *GormConversationRepository) FindByID(ctx context.Context, id, userID string) (*entity.Conversation, error) {
	var model models.ConversationModel
	err := r.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("conversation not found")
		}
		return nil, domainErrors.NewInternalError("failed to find conversation: " + err.Error())
	}
	return r.toEntity(&model), nil
}

// FindByUserID 按更新时间倒序返回用户的活跃会话及总数
func (r *GormConversationRepository) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("user_id = ? AND archived = ?", userID, false)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to count conversations: " + err.Error())
	}

	var rows []models.ConversationModel
	err := query.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to list conversations: " + err.Error())
	}
	return r.toEntities(rows), total, nil
}

// FindArchivedByUserID 按归档时间倒序返回用户的归档会话
func (r *GormConversationRepository) FindArchivedByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("user_id = ? AND archived = ?", userID, true)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to count archived conversations: " + err.Error())
	}

	var rows []models.ConversationModel
	err := query.Order("archived_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to list archived conversations: " + err.Error())
	}
	return r.toEntities(rows), total, nil
}

// Update 更新会话
func (r *GormConversationRepository) Update(ctx context.Context, conversation *entity.Conversation) error {
	// 用列映射更新，结构体更新会跳过零值，归档恢复时 archived=false 会丢
	result := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ? AND user_id = ?", conversation.ID, conversation.UserID).
		Updates(map[string]interface{}{
			"title":            conversation.Title,
			"model_type":       conversation.ModelType,
			"message_count":    conversation.MessageCount,
			"archived":         conversation.Archived,
			"archived_at":      conversation.ArchivedAt,
			"last_accessed_at": conversation.LastAccessedAt,
			"updated_at":       conversation.UpdatedAt,
		})
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to update conversation: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	return nil
}

// Delete 软删会话及其全部消息
func (r *GormConversationRepository) Delete(ctx context.Context, id, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.ConversationModel{})
		if result.Error != nil {
			return domainErrors.NewInternalError("failed to delete conversation: " + result.Error.Error())
		}
		if result.RowsAffected == 0 {
			return domainErrors.NewNotFoundError("conversation not found")
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.MessageModel{}).Error; err != nil {
			return domainErrors.NewInternalError("failed to delete messages: " + err.Error())
		}
		return nil
	})
}

// Touch 更新最近访问时间
func (r *GormConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ?", id).
		Update("last_accessed_at", at).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to touch conversation: " + err.Error())
	}
	return nil
}

// ListActiveByUser 按最近访问倒序返回用户全部活跃会话
func (r *GormConversationRepository) ListActiveByUser(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	var rows []models.ConversationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND archived = ?", userID, false).
		Order("last_accessed_at DESC, updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list active conversations: " + err.Error())
	}
	return r.toEntities(rows), nil
}

// ListInactiveSince 返回 lastAccessedAt 早于 cutoff 的活跃会话
func (r *GormConversationRepository) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]*entity.Conversation, error) {
	var rows []models.ConversationModel
	err := r.db.WithContext(ctx).
		Where("archived = ? AND last_accessed_at < ?", false, cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list inactive conversations: " + err.Error())
	}
	return r.toEntities(rows), nil
}

// ListArchivedOlderThan 返回归档时间早于 cutoff 的会话
func (r *GormConversationRepository) ListArchivedOlderThan(ctx context.Context, cutoff time.Time) ([]*entity.Conversation, error) {
	var rows []models.ConversationModel
	err := r.db.WithContext(ctx).
		Where("archived = ? AND archived_at < ?", true, cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list expired archived conversations: " + err.Error())
	}
	return r.toEntities(rows), nil
}

// UserIDsWithArchived 返回存在归档会话的用户ID
func (r *GormConversationRepository) UserIDsWithArchived(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("archived = ?", true).
		Distinct("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to list users with archives: " + err.Error())
	}
	return ids, nil
}

// 转换方法

func (r *GormConversationRepository) toModel(c *entity.Conversation) *models.ConversationModel {
	return &models.ConversationModel{
		ID:             c.ID,
		UserID:         c.UserID,
		Title:          c.Title,
		ModelType:      c.ModelType,
		MessageCount:   c.MessageCount,
		Archived:       c.Archived,
		ArchivedAt:     c.ArchivedAt,
		LastAccessedAt: c.LastAccessedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (r *GormConversationRepository) toEntity(m *models.ConversationModel) *entity.Conversation {
	return &entity.Conversation{
		ID:             m.ID,
		UserID:         m.UserID,
		Title:          m.Title,
		ModelType:      m.ModelType,
		MessageCount:   m.MessageCount,
		Archived:       m.Archived,
		ArchivedAt:     m.ArchivedAt,
		LastAccessedAt: m.LastAccessedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (r *GormConversationRepository) toEntities(rows []models.ConversationModel) []*entity.Conversation {
	out := make([]*entity.Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, r.toEntity(&rows[i]))
	}
	return out
}

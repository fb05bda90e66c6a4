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

// GormStreamProgressRepository GORM 实现的流式进度仓储。
// Redis 不可用时的落库实现，过期行靠调度器的 DeleteExpired 扫描回收。
type GormStreamProgressRepository struct {
	db *gorm.DB
}

// NewGormStreamProgressRepository 创建 GORM 流式进度仓储
func NewGormStreamProgressRepository(db *gorm.DB) repository.StreamProgressRepository {
	return &GormStreamProgressRepository{db: db}
}

// Upsert 按 messageId 幂等写入进度
func (r *GormStreamProgressRepository) Upsert(ctx context.Context, progress *entity.StreamProgress) error {
	model := &models.StreamProgressModel{
		MessageID:        progress.MessageID,
		ConversationID:   progress.ConversationID,
		UserID:           progress.UserID,
		Content:          progress.Content,
		Thinking:         progress.Thinking,
		Status:           string(progress.Status),
		LastSentPosition: progress.LastSentPosition,
		UpdatedAt:        progress.UpdatedAt,
		ExpiresAt:        progress.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to upsert stream progress: " + err.Error())
	}
	return nil
}

// FindByMessageID 查询进度，校验归属，过期视为不存在
func (r *GormStreamProgressRepository) FindByMessageID(ctx context.Context, messageID, userID string) (*entity.StreamProgress, error) {
	var model models.StreamProgressModel
	err := r.db.WithContext(ctx).
		First(&model, "message_id = ? AND user_id = ?", messageID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("stream progress not found")
		}
		return nil, domainErrors.NewInternalError("failed to find stream progress: " + err.Error())
	}
	if time.Now().UTC().After(model.ExpiresAt) {
		return nil, domainErrors.NewNotFoundError("stream progress expired")
	}
	return &entity.StreamProgress{
		MessageID:        model.MessageID,
		ConversationID:   model.ConversationID,
		UserID:           model.UserID,
		Content:          model.Content,
		Thinking:         model.Thinking,
		Status:           entity.StreamStatus(model.Status),
		LastSentPosition: model.LastSentPosition,
		UpdatedAt:        model.UpdatedAt,
		ExpiresAt:        model.ExpiresAt,
	}, nil
}

// Delete 删除进度记录
func (r *GormStreamProgressRepository) Delete(ctx context.Context, messageID string) error {
	err := r.db.WithContext(ctx).
		Delete(&models.StreamProgressModel{}, "message_id = ?", messageID).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to delete stream progress: " + err.Error())
	}
	return nil
}

// DeleteExpired 清理过期进度
func (r *GormStreamProgressRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.StreamProgressModel{})
	if result.Error != nil {
		return 0, domainErrors.NewInternalError("failed to reap stream progress: " + result.Error.Error())
	}
	return result.RowsAffected, nil
}

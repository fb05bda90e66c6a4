package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// GormAgentSessionRepository GORM 实现的多智能体会话断点仓储
type GormAgentSessionRepository struct {
	db *gorm.DB
}

// NewGormAgentSessionRepository 创建 GORM 会话断点仓储
func NewGormAgentSessionRepository(db *gorm.DB) repository.AgentSessionRepository {
	return &GormAgentSessionRepository{db: db}
}

// Save 按三元组幂等写入会话断点
func (r *GormAgentSessionRepository) Save(ctx context.Context, session *entity.AgentSession) error {
	model, err := r.toModel(session)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save agent session: " + err.Error())
	}
	return nil
}

// Find 按三元组查询断点，过期视为不存在
func (r *GormAgentSessionRepository) Find(ctx context.Context, conversationID, userID, assistantMessageID string) (*entity.AgentSession, error) {
	var model models.AgentSessionModel
	err := r.db.WithContext(ctx).
		First(&model, "id = ?", entity.AgentSessionKey(conversationID, userID, assistantMessageID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("agent session not found")
		}
		return nil, domainErrors.NewInternalError("failed to find agent session: " + err.Error())
	}
	if time.Now().UTC().After(model.ExpiresAt) {
		return nil, domainErrors.NewNotFoundError("agent session expired")
	}
	return r.toEntity(&model)
}

// Delete 删除断点
func (r *GormAgentSessionRepository) Delete(ctx context.Context, conversationID, userID, assistantMessageID string) error {
	err := r.db.WithContext(ctx).
		Delete(&models.AgentSessionModel{}, "id = ?",
			entity.AgentSessionKey(conversationID, userID, assistantMessageID)).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to delete agent session: " + err.Error())
	}
	return nil
}

// DeleteExpired 清理过期断点
func (r *GormAgentSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.AgentSessionModel{})
	if result.Error != nil {
		return 0, domainErrors.NewInternalError("failed to reap agent sessions: " + result.Error.Error())
	}
	return result.RowsAffected, nil
}

// 转换方法

func (r *GormAgentSessionRepository) toModel(s *entity.AgentSession) (*models.AgentSessionModel, error) {
	rounds, err := json.Marshal(s.Rounds)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal session rounds: " + err.Error())
	}
	return &models.AgentSessionModel{
		ID:                 s.ID,
		ConversationID:     s.ConversationID,
		UserID:             s.UserID,
		AssistantMessageID: s.AssistantMessageID,
		TotalRounds:        s.TotalRounds,
		CompletedRounds:    s.CompletedRounds,
		Rounds:             string(rounds),
		Status:             string(s.Status),
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		ExpiresAt:          s.ExpiresAt,
	}, nil
}

func (r *GormAgentSessionRepository) toEntity(m *models.AgentSessionModel) (*entity.AgentSession, error) {
	var rounds []entity.RoundOutput
	if m.Rounds != "" {
		if err := json.Unmarshal([]byte(m.Rounds), &rounds); err != nil {
			return nil, domainErrors.NewInternalError("failed to unmarshal session rounds: " + err.Error())
		}
	}
	return &entity.AgentSession{
		ID:                 m.ID,
		ConversationID:     m.ConversationID,
		UserID:             m.UserID,
		AssistantMessageID: m.AssistantMessageID,
		TotalRounds:        m.TotalRounds,
		CompletedRounds:    m.CompletedRounds,
		Rounds:             rounds,
		Status:             entity.SessionStatus(m.Status),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		ExpiresAt:          m.ExpiresAt,
	}, nil
}

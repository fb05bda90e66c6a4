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

// planPayload 计划的结构化字段，整体序列化落库
type planPayload struct {
	Goals      []string           `json:"goals,omitempty"`
	Milestones []entity.Milestone `json:"milestones,omitempty"`
	Tasks      []entity.Task      `json:"tasks,omitempty"`
	Metrics    []string           `json:"metrics,omitempty"`
	Risks      []entity.Risk      `json:"risks,omitempty"`
	Unknowns   []string           `json:"unknowns,omitempty"`
}

// GormPlanRepository GORM 实现的计划仓储
type GormPlanRepository struct {
	db *gorm.DB
}

// NewGormPlanRepository 创建 GORM 计划仓储
func NewGormPlanRepository(db *gorm.DB) repository.PlanRepository {
	return &GormPlanRepository{db: db}
}

// Save 保存计划
func (r *GormPlanRepository) Save(ctx context.Context, plan *entity.Plan) error {
	model, err := r.toModel(plan)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save plan: " + err.Error())
	}
	return nil
}

// FindByID 根据ID查找计划，校验归属
func (r *GormPlanRepository) FindByID(ctx context.Context, id, userID string) (*entity.Plan, error) {
	var model models.PlanModel
	err := r.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("plan not found")
		}
		return nil, domainErrors.NewInternalError("failed to find plan: " + err.Error())
	}
	return r.toEntity(&model)
}

// FindByUserID 按更新时间倒序返回用户的计划
func (r *GormPlanRepository) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Plan, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PlanModel{}).
		Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to count plans: " + err.Error())
	}

	var rows []models.PlanModel
	err := query.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	if err != nil {
		return nil, 0, domainErrors.NewInternalError("failed to list plans: " + err.Error())
	}

	plans := make([]*entity.Plan, 0, len(rows))
	for i := range rows {
		p, err := r.toEntity(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		plans = append(plans, p)
	}
	return plans, total, nil
}

// Update 更新计划
func (r *GormPlanRepository) Update(ctx context.Context, plan *entity.Plan) error {
	model, err := r.toModel(plan)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.PlanModel{}).
		Where("id = ? AND user_id = ?", plan.ID, plan.UserID).
		Updates(map[string]interface{}{
			"title":      model.Title,
			"payload":    model.Payload,
			"updated_at": model.UpdatedAt,
		})
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to update plan: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("plan not found")
	}
	return nil
}

// Delete 软删计划
func (r *GormPlanRepository) Delete(ctx context.Context, id, userID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.PlanModel{})
	if result.Error != nil {
		return domainErrors.NewInternalError("failed to delete plan: " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("plan not found")
	}
	return nil
}

// 转换方法

func (r *GormPlanRepository) toModel(p *entity.Plan) (*models.PlanModel, error) {
	raw, err := json.Marshal(planPayload{
		Goals:      p.Goals,
		Milestones: p.Milestones,
		Tasks:      p.Tasks,
		Metrics:    p.Metrics,
		Risks:      p.Risks,
		Unknowns:   p.Unknowns,
	})
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal plan payload: " + err.Error())
	}
	return &models.PlanModel{
		ID:        p.ID,
		UserID:    p.UserID,
		Title:     p.Title,
		Payload:   string(raw),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func (r *GormPlanRepository) toEntity(m *models.PlanModel) (*entity.Plan, error) {
	var payload planPayload
	if m.Payload != "" {
		if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
			return nil, domainErrors.NewInternalError("failed to unmarshal plan payload: " + err.Error())
		}
	}
	return &entity.Plan{
		ID:         m.ID,
		UserID:     m.UserID,
		Title:      m.Title,
		Goals:      payload.Goals,
		Milestones: payload.Milestones,
		Tasks:      payload.Tasks,
		Metrics:    payload.Metrics,
		Risks:      payload.Risks,
		Unknowns:   payload.Unknowns,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

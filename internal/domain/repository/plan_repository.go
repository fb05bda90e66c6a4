package repository

import (
	"context"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// PlanRepository 计划仓储接口
type PlanRepository interface {
	// Save 保存计划
	Save(ctx context.Context, plan *entity.Plan) error

	// FindByID 根据ID查找计划，校验归属
	FindByID(ctx context.Context, id, userID string) (*entity.Plan, error)

	// FindByUserID 按更新时间倒序返回用户的计划
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Plan, int64, error)

	// Update 更新计划
	Update(ctx context.Context, plan *entity.Plan) error

	// Delete 删除计划
	Delete(ctx context.Context, id, userID string) error
}

package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// GormUserRepository GORM 实现的用户仓储
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建 GORM 用户仓储
func NewGormUserRepository(db *gorm.DB) repository.UserRepository {
	return &GormUserRepository{db: db}
}

// Save 保存用户，已存在时整行更新
func (r *GormUserRepository) Save(ctx context.Context, user *entity.User) error {
	model := &models.UserModel{
		ID:           user.ID,
		DeviceID:     user.DeviceID,
		Name:         user.Name,
		CreatedAt:    user.CreatedAt,
		LastActiveAt: user.LastActiveAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"device_id", "name", "last_active_at"}),
		}).
		Create(model).Error
	if err != nil {
		return domainErrors.NewInternalError("failed to save user: " + err.Error())
	}
	return nil
}

// FindByID 根据ID查找用户
func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var model models.UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("user not found")
		}
		return nil, domainErrors.NewInternalError("failed to find user: " + err.Error())
	}
	return &entity.User{
		ID:           model.ID,
		DeviceID:     model.DeviceID,
		Name:         model.Name,
		CreatedAt:    model.CreatedAt,
		LastActiveAt: model.LastActiveAt,
	}, nil
}

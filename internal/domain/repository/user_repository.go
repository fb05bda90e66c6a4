package repository

import (
	"context"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// UserRepository 用户仓储接口
type UserRepository interface {
	// Save 保存用户，已存在时更新
	Save(ctx context.Context, user *entity.User) error

	// FindByID 根据ID查找用户
	FindByID(ctx context.Context, id string) (*entity.User, error)
}

package repository

import (
	"context"
	"time"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// UploadRepository 分片上传仓储接口
type UploadRepository interface {
	// SaveSession 保存上传会话
	SaveSession(ctx context.Context, session *entity.UploadSession) error

	// FindSession 查询上传会话，校验归属
	FindSession(ctx context.Context, id, userID string) (*entity.UploadSession, error)

	// SaveChunk 保存一个分片，写入前校验 sha256，校验失败不落盘
	SaveChunk(ctx context.Context, sessionID string, index int, data []byte, checksum string) error

	// ReadChunk 读取单个分片
	ReadChunk(ctx context.Context, sessionID string, index int) ([]byte, error)

	// Assemble 按序拼接全部分片，未到齐时返回错误
	Assemble(ctx context.Context, sessionID string) (string, error)

	// DeleteSession 删除会话及分片数据
	DeleteSession(ctx context.Context, id, userID string) error

	// DeleteExpired 清理过期会话，返回清理条数
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

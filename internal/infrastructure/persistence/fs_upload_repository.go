package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// FSUploadRepository 文件系统实现的分片上传仓储。
//
// 每个会话一个目录：{dataDir}/uploads/{sessionId}/，
// 会话元数据存 session.json，分片按 chunk_{idx} 落盘。
type FSUploadRepository struct {
	baseDir string
	mu      sync.Mutex
}

// NewFSUploadRepository 创建文件系统上传仓储
func NewFSUploadRepository(dataDir string) (repository.UploadRepository, error) {
	baseDir := filepath.Join(dataDir, "uploads")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, domainErrors.NewInternalError("failed to create upload dir: " + err.Error())
	}
	return &FSUploadRepository{baseDir: baseDir}, nil
}

func (r *FSUploadRepository) sessionDir(sessionID string) string {
	return filepath.Join(r.baseDir, sessionID)
}

func (r *FSUploadRepository) sessionPath(sessionID string) string {
	return filepath.Join(r.sessionDir(sessionID), "session.json")
}

func (r *FSUploadRepository) chunkPath(sessionID string, index int) string {
	return filepath.Join(r.sessionDir(sessionID), fmt.Sprintf("chunk_%d", index))
}

// SaveSession 保存上传会话元数据
func (r *FSUploadRepository) SaveSession(ctx context.Context, session *entity.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeSession(session)
}

func (r *FSUploadRepository) writeSession(session *entity.UploadSession) error {
	if err := os.MkdirAll(r.sessionDir(session.ID), 0o755); err != nil {
		return domainErrors.NewInternalError("failed to create session dir: " + err.Error())
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal upload session: " + err.Error())
	}
	if err := os.WriteFile(r.sessionPath(session.ID), raw, 0o644); err != nil {
		return domainErrors.NewInternalError("failed to write upload session: " + err.Error())
	}
	return nil
}

func (r *FSUploadRepository) readSession(sessionID string) (*entity.UploadSession, error) {
	raw, err := os.ReadFile(r.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domainErrors.NewNotFoundError("upload session not found")
		}
		return nil, domainErrors.NewInternalError("failed to read upload session: " + err.Error())
	}
	var session entity.UploadSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, domainErrors.NewInternalError("failed to unmarshal upload session: " + err.Error())
	}
	return &session, nil
}

// FindSession 查询上传会话，校验归属
func (r *FSUploadRepository) FindSession(ctx context.Context, id, userID string) (*entity.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, err := r.readSession(id)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, domainErrors.NewNotFoundError("upload session not found")
	}
	return session, nil
}

// SaveChunk 保存一个分片。sha256 不匹配时不落盘。
func (r *FSUploadRepository) SaveChunk(ctx context.Context, sessionID string, index int, data []byte, checksum string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.readSession(sessionID)
	if err != nil {
		return err
	}
	if index < 0 || index >= session.TotalChunks {
		return domainErrors.NewInvalidInputError(entity.ErrChunkIndexOutOfRange.Error())
	}
	if checksum != "" {
		sum := sha256.Sum256(data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), checksum) {
			return domainErrors.NewInvalidInputError(entity.ErrChunkChecksumMismatch.Error())
		}
	}
	if err := os.WriteFile(r.chunkPath(sessionID, index), data, 0o644); err != nil {
		return domainErrors.NewInternalError("failed to write chunk: " + err.Error())
	}
	if err := session.MarkReceived(index); err != nil {
		return domainErrors.NewInvalidInputError(err.Error())
	}
	return r.writeSession(session)
}

// ReadChunk 读取单个分片
func (r *FSUploadRepository) ReadChunk(ctx context.Context, sessionID string, index int) ([]byte, error) {
	data, err := os.ReadFile(r.chunkPath(sessionID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domainErrors.NewNotFoundError("chunk not found")
		}
		return nil, domainErrors.NewInternalError("failed to read chunk: " + err.Error())
	}
	return data, nil
}

// Assemble 按序拼接全部分片，未到齐时返回错误
func (r *FSUploadRepository) Assemble(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.readSession(sessionID)
	if err != nil {
		return "", err
	}
	if session.ReceivedCount() != session.TotalChunks {
		return "", domainErrors.NewInvalidInputError(entity.ErrUploadIncomplete.Error())
	}

	var sb strings.Builder
	for i := 0; i < session.TotalChunks; i++ {
		data, err := os.ReadFile(r.chunkPath(sessionID, i))
		if err != nil {
			return "", domainErrors.NewInternalError("failed to read chunk: " + err.Error())
		}
		sb.Write(data)
	}

	session.Status = entity.UploadStatusAssembled
	if err := r.writeSession(session); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// DeleteSession 删除会话及分片数据
func (r *FSUploadRepository) DeleteSession(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.readSession(id)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return domainErrors.NewNotFoundError("upload session not found")
	}
	if err := os.RemoveAll(r.sessionDir(id)); err != nil {
		return domainErrors.NewInternalError("failed to delete upload session: " + err.Error())
	}
	return nil
}

// DeleteExpired 清理过期会话目录
func (r *FSUploadRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to list upload sessions: " + err.Error())
	}
	var reaped int64
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		session, err := r.readSession(ent.Name())
		if err != nil {
			// 残缺目录也一并清理
			_ = os.RemoveAll(filepath.Join(r.baseDir, ent.Name()))
			continue
		}
		if session.Expired(now) {
			if err := os.RemoveAll(r.sessionDir(session.ID)); err == nil {
				reaped++
			}
		}
	}
	return reaped, nil
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

// UploadSessionTTL 上传会话的保留时长
const UploadSessionTTL = 24 * time.Hour

// UploadStatus 上传会话状态
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusComplete  UploadStatus = "complete"
	UploadStatusAssembled UploadStatus = "assembled"
)

// UploadSession 分片上传会话。
//
// 客户端按分片上传大文本，每片带 sha256 校验，
// 全部到齐后合并为一份完整内容供长文本模式引用。
type UploadSession struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	FileName    string       `json:"fileName"`
	TotalSize   int64        `json:"totalSize"`
	TotalChunks int          `json:"totalChunks"`
	Received    []bool       `json:"received"`
	Status      UploadStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// NewUploadSession 创建上传会话
func NewUploadSession(userID, fileName string, totalSize int64, totalChunks int) *UploadSession {
	now := time.Now().UTC()
	return &UploadSession{
		ID:          uuid.New().String(),
		UserID:      userID,
		FileName:    fileName,
		TotalSize:   totalSize,
		TotalChunks: totalChunks,
		Received:    make([]bool, totalChunks),
		Status:      UploadStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(UploadSessionTTL),
	}
}

// MarkReceived 标记分片已收到。重复上传同一片是幂等的。
func (s *UploadSession) MarkReceived(index int) error {
	if index < 0 || index >= s.TotalChunks {
		return ErrChunkIndexOutOfRange
	}
	s.Received[index] = true
	if s.ReceivedCount() == s.TotalChunks {
		s.Status = UploadStatusComplete
	}
	return nil
}

// ReceivedCount 已收到的分片数
func (s *UploadSession) ReceivedCount() int {
	n := 0
	for _, ok := range s.Received {
		if ok {
			n++
		}
	}
	return n
}

// MissingChunks 缺失的分片序号
func (s *UploadSession) MissingChunks() []int {
	var missing []int
	for i, ok := range s.Received {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Expired 是否已过保留期
func (s *UploadSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

package entity

import "errors"

// 领域错误定义
var (
	// ErrConversationNotArchived 对未归档会话执行恢复
	ErrConversationNotArchived = errors.New("conversation is not archived")
	// ErrConversationArchived 对归档会话执行写入
	ErrConversationArchived = errors.New("conversation is archived")
	// ErrNotOwner 访问了他人的资源
	ErrNotOwner = errors.New("resource does not belong to this user")
	// ErrChunkIndexOutOfRange 分片序号越界
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	// ErrChunkChecksumMismatch 分片校验和不匹配
	ErrChunkChecksumMismatch = errors.New("chunk checksum mismatch")
	// ErrUploadIncomplete 分片未到齐就请求合并
	ErrUploadIncomplete = errors.New("upload session is incomplete")
	// ErrEmptyMessage 空消息
	ErrEmptyMessage = errors.New("message content is empty")
)

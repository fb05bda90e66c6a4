package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	// CodeInvalidInput 输入无效
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	// CodeNotFound 资源不存在
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeAlreadyExists 资源已存在
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// CodeUnauthorized 未授权
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// CodeForbidden 禁止访问
	CodeForbidden ErrorCode = "FORBIDDEN"
	// CodeInternal 内部错误
	CodeInternal ErrorCode = "INTERNAL"
	// CodeServiceUnavail 服务不可用
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
	// CodeTimeout 操作超时
	CodeTimeout ErrorCode = "TIMEOUT"
	// CodeRateLimited 触发限流
	CodeRateLimited ErrorCode = "RATE_LIMITED"
	// CodeCircuitOpen 熔断器开启
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// CodeAdmissionDenied 接入被拒绝（排队或冷却中）
	CodeAdmissionDenied ErrorCode = "ADMISSION_DENIED"
	// CodeUpstream 上游模型服务错误
	CodeUpstream ErrorCode = "UPSTREAM_ERROR"
	// CodeParse 响应解析失败
	CodeParse ErrorCode = "PARSE_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewAlreadyExistsError 创建资源已存在错误
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

// NewUnauthorizedError 创建未授权错误
func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

// NewForbiddenError 创建禁止访问错误
func NewForbiddenError(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// NewServiceUnavailError 创建服务不可用错误
func NewServiceUnavailError(message string) *AppError {
	return &AppError{Code: CodeServiceUnavail, Message: message}
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

// NewRateLimitError 创建限流错误
func NewRateLimitError(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message}
}

// NewCircuitOpenError 创建熔断错误
func NewCircuitOpenError(message string) *AppError {
	return &AppError{Code: CodeCircuitOpen, Message: message}
}

// NewAdmissionDeniedError 创建接入拒绝错误
func NewAdmissionDeniedError(message string) *AppError {
	return &AppError{Code: CodeAdmissionDenied, Message: message}
}

// NewUpstreamError 创建上游服务错误
func NewUpstreamError(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstream, Message: message, Err: cause}
}

// NewParseError 创建解析错误
func NewParseError(message string, cause error) *AppError {
	return &AppError{Code: CodeParse, Message: message, Err: cause}
}

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsInvalidInput 判断是否为输入无效错误
func IsInvalidInput(err error) bool {
	return hasCode(err, CodeInvalidInput)
}

// IsTimeout 判断是否为超时错误
func IsTimeout(err error) bool {
	return hasCode(err, CodeTimeout)
}

// IsRateLimited 判断是否为限流错误
func IsRateLimited(err error) bool {
	return hasCode(err, CodeRateLimited)
}

// IsCircuitOpen 判断是否为熔断错误
func IsCircuitOpen(err error) bool {
	return hasCode(err, CodeCircuitOpen)
}

// IsAdmissionDenied 判断是否为接入拒绝错误
func IsAdmissionDenied(err error) bool {
	return hasCode(err, CodeAdmissionDenied)
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

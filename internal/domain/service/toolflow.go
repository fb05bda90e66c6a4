package service

import (
	"fmt"

	apperrors "github.com/nexchat/gateway/pkg/errors"
)

// ToolFlowConfig 多工具递归的边界配置
type ToolFlowConfig struct {
	// MaxIterations 单次请求内模型↔工具往返的上限
	MaxIterations int
	// MaxConsecutiveErrors 连续失败多少次后中止
	MaxConsecutiveErrors int
}

// DefaultToolFlowConfig 默认边界
func DefaultToolFlowConfig() ToolFlowConfig {
	return ToolFlowConfig{MaxIterations: 5, MaxConsecutiveErrors: 2}
}

// ToolFlow 跟踪一次聊天请求里的工具调用回合。
//
// 模型每要求一次工具就是一个回合，工具结果回灌后模型可能继续要求，
// 不加边界会无限递归。每个请求各自持有一个实例，不做并发保护。
type ToolFlow struct {
	cfg               ToolFlowConfig
	iterations        int
	consecutiveErrors int
	executed          []string
}

// NewToolFlow 创建回合跟踪器
func NewToolFlow(cfg ToolFlowConfig) *ToolFlow {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultToolFlowConfig().MaxIterations
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultToolFlowConfig().MaxConsecutiveErrors
	}
	return &ToolFlow{cfg: cfg}
}

// Begin 进入新回合。超出上限时返回错误，调用方应停止递归并告知用户。
func (f *ToolFlow) Begin() error {
	if f.iterations >= f.cfg.MaxIterations {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("工具调用次数超过上限（%d 次），请简化问题后重试", f.cfg.MaxIterations))
	}
	f.iterations++
	return nil
}

// RecordSuccess 记录一次成功的工具执行
func (f *ToolFlow) RecordSuccess(toolName string) {
	f.consecutiveErrors = 0
	f.executed = append(f.executed, toolName)
}

// RecordError 记录一次失败的工具执行
func (f *ToolFlow) RecordError(toolName string) {
	f.consecutiveErrors++
	f.executed = append(f.executed, toolName)
}

// ShouldAbort 连续失败达到上限时为真
func (f *ToolFlow) ShouldAbort() bool {
	return f.consecutiveErrors >= f.cfg.MaxConsecutiveErrors
}

// Iterations 已经历的回合数
func (f *ToolFlow) Iterations() int {
	return f.iterations
}

// Executed 按顺序返回执行过的工具名
func (f *ToolFlow) Executed() []string {
	return f.executed
}

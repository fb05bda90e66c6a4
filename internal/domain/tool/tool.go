// Package tool 定义工具插件的领域契约。
// 具体插件和执行管线在 infrastructure/tool 实现。
package tool

import (
	"context"
	"time"
)

// ExecContext 一次工具调用的请求上下文
type ExecContext struct {
	UserID         string
	ConversationID string
	RequestID      string
	Timestamp      time.Time
}

// Result 工具执行结果。
// Degraded 表示结果来自降级链，DegradedBy 标记生效的降级策略。
type Result struct {
	ToolName   string                 `json:"toolName"`
	Success    bool                   `json:"success"`
	Data       interface{}            `json:"data,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Error      string                 `json:"error,omitempty"`
	FromCache  bool                   `json:"fromCache,omitempty"`
	Degraded   bool                   `json:"degraded,omitempty"`
	DegradedBy string                 `json:"degradedBy,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Duration   time.Duration          `json:"-"`
}

// Fail 构造失败结果
func Fail(toolName, errMsg string) *Result {
	return &Result{ToolName: toolName, Success: false, Error: errMsg}
}

// Plugin 工具插件接口。
//
// Schema 返回参数的 JSON Schema，注册时编译，执行前校验。
// Execute 的 params 已通过 Schema 校验，实现仍需容忍缺省值。
type Plugin interface {
	Name() string
	Version() string
	Description() string
	Schema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}, ec ExecContext) (*Result, error)
}

// Validator 插件可选实现，做 Schema 之外的业务校验
type Validator interface {
	Validate(params map[string]interface{}) error
}

// Initializer 插件可选实现，注册后做一次性初始化
type Initializer interface {
	Init(ctx context.Context) error
}

// Definition 暴露给大模型的工具描述
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry 工具注册表接口
type Registry interface {
	// Register 注册插件并编译其 Schema
	Register(plugin Plugin, settings Settings) error

	// Get 按名称查找插件
	Get(name string) (Plugin, bool)

	// SettingsFor 返回插件的运行时配置
	SettingsFor(name string) (Settings, bool)

	// ApplySettings 热更新插件配置
	ApplySettings(name string, settings Settings) error

	// Validate 用编译好的 Schema 校验参数
	Validate(name string, params map[string]interface{}) error

	// Definitions 返回所有启用插件的描述
	Definitions() []Definition

	// Names 返回所有启用插件的名称
	Names() []string
}

package protocol

import (
	"fmt"

	"github.com/nexchat/gateway/internal/domain/tool"
)

// ArkAdapter 解析 Ark（OpenAI 兼容）的工具调用：
// 标准形态 function.name/arguments，以及旧版 {tool, query, options}。
type ArkAdapter struct{}

// NewArkAdapter 创建 Ark 适配器
func NewArkAdapter() *ArkAdapter { return &ArkAdapter{} }

var _ Adapter = (*ArkAdapter)(nil)

func (a *ArkAdapter) Name() string { return "ark" }

// CanHandle 识别 function 形态或旧版 tool 形态
func (a *ArkAdapter) CanHandle(raw map[string]interface{}) bool {
	if fn, ok := raw["function"].(map[string]interface{}); ok {
		name, _ := fn["name"].(string)
		return name != ""
	}
	name, _ := raw["tool"].(string)
	return name != ""
}

// Parse 解析调用载荷
func (a *ArkAdapter) Parse(raw map[string]interface{}) (*ToolInvocation, error) {
	id, _ := raw["id"].(string)

	if fn, ok := raw["function"].(map[string]interface{}); ok {
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("ark tool call missing function.name")
		}
		params, err := parseArguments(fn["arguments"])
		if err != nil {
			return nil, fmt.Errorf("ark tool call arguments: %w", err)
		}
		return &ToolInvocation{ID: id, ToolName: name, Params: params}, nil
	}

	// 旧版 {tool, query, options}
	name, _ := raw["tool"].(string)
	if name == "" {
		return nil, fmt.Errorf("ark legacy tool call missing tool name")
	}
	params := map[string]interface{}{}
	if opts, ok := raw["options"].(map[string]interface{}); ok {
		for k, v := range opts {
			params[k] = v
		}
	}
	if query, ok := raw["query"].(string); ok && query != "" {
		params["query"] = query
	}
	return &ToolInvocation{ID: id, ToolName: name, Params: params}, nil
}

// FormatResult 文本化执行结果
func (a *ArkAdapter) FormatResult(result *tool.Result, ec tool.ExecContext) FormattedResult {
	formatted := FormattedResult{Text: formatResultText(result)}
	if result != nil && result.Success {
		formatted.Sources = extractSources(result.Data)
	}
	return formatted
}

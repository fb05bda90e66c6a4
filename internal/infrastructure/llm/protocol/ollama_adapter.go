package protocol

import (
	"fmt"

	"github.com/nexchat/gateway/internal/domain/tool"
)

// OllamaAdapter 解析 Ollama 的工具调用：
// tool_calls[] 的 function 形态，以及正文内嵌的
// <tool_call>{"name":…,"args":{…}}</tool_call>。
type OllamaAdapter struct{}

// NewOllamaAdapter 创建 Ollama 适配器
func NewOllamaAdapter() *OllamaAdapter { return &OllamaAdapter{} }

var _ Adapter = (*OllamaAdapter)(nil)

func (a *OllamaAdapter) Name() string { return "ollama" }

// CanHandle 识别 {name, args} 形态
func (a *OllamaAdapter) CanHandle(raw map[string]interface{}) bool {
	name, _ := raw["name"].(string)
	if name == "" {
		return false
	}
	if _, hasArgs := raw["args"]; hasArgs {
		return true
	}
	_, hasArguments := raw["arguments"]
	return hasArguments
}

// Parse 解析调用载荷
func (a *OllamaAdapter) Parse(raw map[string]interface{}) (*ToolInvocation, error) {
	name, _ := raw["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("ollama tool call missing name")
	}
	argsRaw, ok := raw["args"]
	if !ok {
		argsRaw = raw["arguments"]
	}
	params, err := parseArguments(argsRaw)
	if err != nil {
		return nil, fmt.Errorf("ollama tool call args: %w", err)
	}
	id, _ := raw["id"].(string)
	return &ToolInvocation{ID: id, ToolName: name, Params: params}, nil
}

// FormatResult 文本化执行结果
func (a *OllamaAdapter) FormatResult(result *tool.Result, ec tool.ExecContext) FormattedResult {
	formatted := FormattedResult{Text: formatResultText(result)}
	if result != nil && result.Success {
		formatted.Sources = extractSources(result.Data)
	}
	return formatted
}

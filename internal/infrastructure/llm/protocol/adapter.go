// Package protocol 归一化不同供应商的工具调用线格式。
// 适配器把原始调用载荷解析成统一的 ToolInvocation，并把执行结果
// 格式化成回填给模型的文本。
package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/tool"
	llm "github.com/nexchat/gateway/internal/infrastructure/llm"
	"github.com/nexchat/gateway/pkg/jsonrepair"
)

// ToolInvocation 归一化后的工具调用
type ToolInvocation struct {
	ID       string                 `json:"id,omitempty"`
	ToolName string                 `json:"toolName"`
	Params   map[string]interface{} `json:"params"`
}

// FormattedResult 工具结果的文本化表示
type FormattedResult struct {
	Text    string          `json:"text"`
	Sources []entity.Source `json:"sources,omitempty"`
}

// Adapter 单个供应商格式的适配器
type Adapter interface {
	Name() string

	// CanHandle 判断能否解析该原始载荷
	CanHandle(raw map[string]interface{}) bool

	// Parse 解析原始载荷
	Parse(raw map[string]interface{}) (*ToolInvocation, error)

	// FormatResult 把执行结果转成回填文本并抽取来源链接
	FormatResult(result *tool.Result, ec tool.ExecContext) FormattedResult
}

// Registry 按注册顺序持有适配器，第一个 CanHandle 的生效
type Registry struct {
	adapters []Adapter
}

// NewRegistry 创建适配器注册表
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Register 追加一个适配器
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// Parse 找到第一个能处理该载荷的适配器并解析
func (r *Registry) Parse(raw map[string]interface{}) (*ToolInvocation, Adapter, error) {
	for _, a := range r.adapters {
		if a.CanHandle(raw) {
			inv, err := a.Parse(raw)
			return inv, a, err
		}
	}
	return nil, nil, fmt.Errorf("no protocol adapter for payload")
}

// Normalize 把流式累积出的工具调用转成归一化调用
func (r *Registry) Normalize(call llm.ToolCall) (*ToolInvocation, Adapter, error) {
	raw := map[string]interface{}{
		"id": call.ID,
		"function": map[string]interface{}{
			"name":      call.Name,
			"arguments": call.Arguments,
		},
	}
	return r.Parse(raw)
}

var inTextCallRe = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// ExtractInText 从正文中抽取第一个 <tool_call> 标签。
// 返回归一化调用、剔除标签后的正文和是否命中。
func (r *Registry) ExtractInText(text string) (*ToolInvocation, Adapter, string, bool) {
	m := inTextCallRe.FindStringSubmatchIndex(text)
	if m == nil {
		return nil, nil, text, false
	}
	payload := text[m[2]:m[3]]
	raw, err := jsonrepair.ParseObject(payload)
	if err != nil {
		return nil, nil, text, false
	}
	inv, adapter, err := r.Parse(raw)
	if err != nil {
		return nil, nil, text, false
	}
	remaining := strings.TrimSpace(text[:m[0]] + text[m[1]:])
	return inv, adapter, remaining, true
}

// HasInTextCall 判断正文是否包含完整的 <tool_call> 标签
func HasInTextCall(text string) bool {
	return inTextCallRe.MatchString(text)
}

// parseArguments 容忍字符串或对象两种形态的参数
func parseArguments(v interface{}) (map[string]interface{}, error) {
	switch args := v.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return args, nil
	case string:
		if strings.TrimSpace(args) == "" {
			return map[string]interface{}{}, nil
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(args), &parsed); err == nil {
			return parsed, nil
		}
		return jsonrepair.ParseObject(args)
	default:
		return nil, fmt.Errorf("unsupported arguments type %T", v)
	}
}

// extractSources 从工具结果数据里抽取 {title, url} 形态的来源
func extractSources(data interface{}) []entity.Source {
	var sources []entity.Source
	appendFrom := func(item interface{}) {
		m, ok := item.(map[string]interface{})
		if !ok {
			return
		}
		url, _ := m["url"].(string)
		if url == "" {
			return
		}
		title, _ := m["title"].(string)
		sources = append(sources, entity.Source{Title: title, URL: url})
	}

	switch v := data.(type) {
	case map[string]interface{}:
		if results, ok := v["results"].([]interface{}); ok {
			for _, item := range results {
				appendFrom(item)
			}
		}
	case []interface{}:
		for _, item := range v {
			appendFrom(item)
		}
	}
	return sources
}

// formatResultText 统一的结果文本化：成功时给出 JSON 数据，失败给出错误
func formatResultText(result *tool.Result) string {
	if result == nil {
		return "工具未返回结果"
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		return fmt.Sprintf("工具 %s 执行失败：%s", result.ToolName, msg)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("工具 %s 执行结果", result.ToolName))
	if result.Degraded {
		sb.WriteString(fmt.Sprintf("（降级：%s）", result.DegradedBy))
	}
	sb.WriteString("：\n")
	if result.Data != nil {
		raw, err := json.MarshalIndent(result.Data, "", "  ")
		if err == nil {
			sb.Write(raw)
		} else {
			sb.WriteString(fmt.Sprintf("%v", result.Data))
		}
	} else if result.Message != "" {
		sb.WriteString(result.Message)
	}
	return sb.String()
}

package protocol

import (
	"testing"

	"github.com/nexchat/gateway/internal/domain/tool"
	llm "github.com/nexchat/gateway/internal/infrastructure/llm"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewArkAdapter(), NewOllamaAdapter())
}

func TestArkAdapter_ParseFunctionForm(t *testing.T) {
	reg := newTestRegistry()

	inv, adapter, err := reg.Parse(map[string]interface{}{
		"id": "call_1",
		"function": map[string]interface{}{
			"name":      "web_search",
			"arguments": `{"query": "golang heap", "maxResults": 3}`,
		},
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if adapter.Name() != "ark" {
		t.Fatalf("expected ark adapter, got %s", adapter.Name())
	}
	if inv.ToolName != "web_search" || inv.ID != "call_1" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
	if inv.Params["query"] != "golang heap" {
		t.Fatalf("unexpected params: %v", inv.Params)
	}
}

func TestArkAdapter_ParseLegacyForm(t *testing.T) {
	reg := newTestRegistry()

	inv, _, err := reg.Parse(map[string]interface{}{
		"tool":  "web_search",
		"query": "天气",
		"options": map[string]interface{}{
			"maxResults": float64(5),
		},
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if inv.ToolName != "web_search" {
		t.Fatalf("unexpected tool: %s", inv.ToolName)
	}
	if inv.Params["query"] != "天气" || inv.Params["maxResults"] != float64(5) {
		t.Fatalf("unexpected params: %v", inv.Params)
	}
}

func TestArkAdapter_RepairsSloppyArguments(t *testing.T) {
	reg := newTestRegistry()

	// 尾逗号加未闭合括号，靠容错解析器修复
	inv, _, err := reg.Parse(map[string]interface{}{
		"function": map[string]interface{}{
			"name":      "current_time",
			"arguments": `{"timezone": "Asia/Shanghai",`,
		},
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if inv.Params["timezone"] != "Asia/Shanghai" {
		t.Fatalf("unexpected params: %v", inv.Params)
	}
}

func TestOllamaAdapter_ParseArgsObject(t *testing.T) {
	reg := newTestRegistry()

	inv, adapter, err := reg.Parse(map[string]interface{}{
		"name": "date_diff",
		"args": map[string]interface{}{"from": "2026-01-01", "to": "2026-02-01"},
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if adapter.Name() != "ollama" {
		t.Fatalf("expected ollama adapter, got %s", adapter.Name())
	}
	if inv.ToolName != "date_diff" || inv.Params["from"] != "2026-01-01" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
}

func TestRegistry_ExtractInText(t *testing.T) {
	reg := newTestRegistry()

	text := `让我查一下。<tool_call>{"name": "web_search", "args": {"query": "news"}}</tool_call>稍等。`
	inv, _, remaining, ok := reg.ExtractInText(text)
	if !ok {
		t.Fatal("expected in-text call")
	}
	if inv.ToolName != "web_search" || inv.Params["query"] != "news" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
	if remaining != "让我查一下。稍等。" {
		t.Fatalf("unexpected remaining text: %q", remaining)
	}
}

func TestRegistry_ExtractInTextLegacy(t *testing.T) {
	reg := newTestRegistry()

	text := `<tool_call>{"tool": "web_search", "query": "golang"}</tool_call>`
	inv, adapter, _, ok := reg.ExtractInText(text)
	if !ok {
		t.Fatal("expected in-text call")
	}
	if adapter.Name() != "ark" || inv.ToolName != "web_search" || inv.Params["query"] != "golang" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
}

func TestRegistry_Normalize(t *testing.T) {
	reg := newTestRegistry()

	inv, _, err := reg.Normalize(llm.ToolCall{
		ID:        "call_9",
		Name:      "plan_list",
		Arguments: map[string]interface{}{"limit": float64(10)},
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if inv.ID != "call_9" || inv.ToolName != "plan_list" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
}

func TestFormatResult_SuccessWithSources(t *testing.T) {
	adapter := NewArkAdapter()

	result := &tool.Result{
		ToolName: "web_search",
		Success:  true,
		Data: map[string]interface{}{
			"results": []interface{}{
				map[string]interface{}{"title": "Go Blog", "url": "https://go.dev/blog"},
				map[string]interface{}{"title": "", "url": "https://example.com"},
				map[string]interface{}{"title": "no url"},
			},
		},
	}
	formatted := adapter.FormatResult(result, tool.ExecContext{})
	if len(formatted.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(formatted.Sources))
	}
	if formatted.Sources[0].URL != "https://go.dev/blog" {
		t.Fatalf("unexpected source: %+v", formatted.Sources[0])
	}
	if formatted.Text == "" {
		t.Fatal("expected non-empty text")
	}
}

func TestFormatResult_Failure(t *testing.T) {
	adapter := NewOllamaAdapter()

	formatted := adapter.FormatResult(tool.Fail("web_search", "upstream 500"), tool.ExecContext{})
	if formatted.Text == "" || len(formatted.Sources) != 0 {
		t.Fatalf("unexpected formatted result: %+v", formatted)
	}
}

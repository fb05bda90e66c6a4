package orchestration

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/tool"
)

func TestNewPlanTopologicalOrder(t *testing.T) {
	plan, err := NewPlan([]ToolStep{
		{StepID: "step3", ToolName: "c", DependsOn: []string{"step1", "step2"}},
		{StepID: "step1", ToolName: "a"},
		{StepID: "step2", ToolName: "b", DependsOn: []string{"step1"}},
	})
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}

	order := plan.Order()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["step1"] > pos["step2"] || pos["step2"] > pos["step3"] {
		t.Errorf("order violates dependencies: %v", order)
	}
}

func TestNewPlanCycleFails(t *testing.T) {
	_, err := NewPlan([]ToolStep{
		{StepID: "a", ToolName: "x", DependsOn: []string{"b"}},
		{StepID: "b", ToolName: "y", DependsOn: []string{"a"}},
	})
	if err == nil {
		t.Fatal("cyclic plan should fail construction")
	}
}

func TestNewPlanValidation(t *testing.T) {
	tests := []struct {
		name  string
		steps []ToolStep
	}{
		{"empty", nil},
		{"duplicate id", []ToolStep{
			{StepID: "a", ToolName: "x"},
			{StepID: "a", ToolName: "y"},
		}},
		{"unknown dependency", []ToolStep{
			{StepID: "a", ToolName: "x", DependsOn: []string{"ghost"}},
		}},
		{"self dependency", []ToolStep{
			{StepID: "a", ToolName: "x", DependsOn: []string{"a"}},
		}},
		{"missing tool name", []ToolStep{
			{StepID: "a"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPlan(tt.steps); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestFromCalls(t *testing.T) {
	plan, err := FromCalls([]Call{
		{Tool: "web_search", Params: map[string]interface{}{"query": "golang"}},
		{Tool: "get_time"},
	})
	if err != nil {
		t.Fatalf("FromCalls failed: %v", err)
	}
	if plan.Len() != 2 {
		t.Fatalf("plan length = %d, want 2", plan.Len())
	}
	if got := plan.Order(); got[0] != "step1" || got[1] != "step2" {
		t.Errorf("order = %v", got)
	}
}

// fakeInvoker 按工具名返回预置结果，并记录每次调用的参数
type fakeInvoker struct {
	results map[string][]*tool.Result
	calls   []map[string]interface{}
}

func (f *fakeInvoker) Invoke(_ context.Context, toolName string, params map[string]interface{}, _ tool.ExecContext) *tool.Result {
	f.calls = append(f.calls, params)
	queue := f.results[toolName]
	if len(queue) == 0 {
		return &tool.Result{ToolName: toolName, Success: true, Data: map[string]interface{}{"ok": true}}
	}
	next := queue[0]
	f.results[toolName] = queue[1:]
	return next
}

func TestRunnerSubstitution(t *testing.T) {
	inv := &fakeInvoker{results: map[string][]*tool.Result{
		"search": {{
			ToolName: "search",
			Success:  true,
			Data: map[string]interface{}{
				"results": []interface{}{
					map[string]interface{}{"title": "Go 1.24 发布", "score": 0.9},
				},
			},
		}},
	}}

	plan, err := NewPlan([]ToolStep{
		{StepID: "step1", ToolName: "search", Params: map[string]interface{}{"query": "golang"}},
		{StepID: "step2", ToolName: "summarize", DependsOn: []string{"step1"},
			Params: map[string]interface{}{
				"title": "${step1.data.results.0.title}",
				"text":  "标题：${step1.data.results.0.title}，完毕",
				"score": "${step1.data.results.0.score}",
			}},
	})
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}

	res, err := NewRunner(inv, zap.NewNop()).Run(context.Background(), plan, tool.ExecContext{UserID: "u1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Aborted {
		t.Fatal("plan should not abort")
	}

	got := inv.calls[1]
	if got["title"] != "Go 1.24 发布" {
		t.Errorf("title = %v", got["title"])
	}
	if got["text"] != "标题：Go 1.24 发布，完毕" {
		t.Errorf("text = %v", got["text"])
	}
	// 整串引用保留原始类型
	if score, ok := got["score"].(float64); !ok || score != 0.9 {
		t.Errorf("score = %v (%T), want 0.9 float64", got["score"], got["score"])
	}
}

func TestRunnerMissingReferenceKeepsLiteral(t *testing.T) {
	inv := &fakeInvoker{results: map[string][]*tool.Result{
		"search": {{ToolName: "search", Success: false, Error: "boom"}},
	}}

	plan, _ := NewPlan([]ToolStep{
		{StepID: "step1", ToolName: "search", OnFailure: FailContinue},
		{StepID: "step2", ToolName: "echo", DependsOn: []string{"step1"},
			Params: map[string]interface{}{"value": "${step1.data.answer}"}},
	})

	res, err := NewRunner(inv, zap.NewNop()).Run(context.Background(), plan, tool.ExecContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Aborted {
		t.Fatal("continue mode should not abort")
	}
	if got := inv.calls[1]["value"]; got != "${step1.data.answer}" {
		t.Errorf("failed reference should keep literal, got %v", got)
	}
}

func TestRunnerAbortSkipsRest(t *testing.T) {
	inv := &fakeInvoker{results: map[string][]*tool.Result{
		"fail": {{ToolName: "fail", Success: false, Error: "boom"}},
	}}

	plan, _ := NewPlan([]ToolStep{
		{StepID: "step1", ToolName: "fail", OnFailure: FailAbort},
		{StepID: "step2", ToolName: "echo", DependsOn: []string{"step1"}},
	})

	res, err := NewRunner(inv, zap.NewNop()).Run(context.Background(), plan, tool.ExecContext{})
	if err == nil {
		t.Fatal("abort should surface an error")
	}
	if !res.Aborted || res.AbortedAt != "step1" {
		t.Errorf("abort metadata wrong: %+v", res)
	}
	if !res.Outcomes["step2"].Skipped {
		t.Error("step2 should be skipped")
	}
	if len(inv.calls) != 1 {
		t.Errorf("echo should not run, calls = %d", len(inv.calls))
	}
}

func TestRunnerRetrySucceedsEventually(t *testing.T) {
	inv := &fakeInvoker{results: map[string][]*tool.Result{
		"flaky": {
			{ToolName: "flaky", Success: false, Error: "transient"},
			{ToolName: "flaky", Success: true, Data: "ok"},
		},
	}}

	plan, _ := NewPlan([]ToolStep{
		{StepID: "step1", ToolName: "flaky", OnFailure: FailRetry},
	})

	r := NewRunner(inv, zap.NewNop())
	r.retryWait = 0

	res, err := r.Run(context.Background(), plan, tool.ExecContext{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out := res.Outcomes["step1"]
	if !out.Result.Success {
		t.Error("retry should eventually succeed")
	}
	if out.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", out.Attempts)
	}
}

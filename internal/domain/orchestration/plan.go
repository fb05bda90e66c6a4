// Package orchestration 把一组带依赖关系的工具调用编排成执行计划。
//
// 计划来自两个入口：模型一次性返回的 tool_calls 数组（线性计划），
// 或显式声明依赖的步骤列表（DAG）。后者在构造期做拓扑排序，
// 有环直接失败，不会执行任何一步。
package orchestration

import (
	"fmt"
)

// FailureMode 步骤失败后的处理方式
type FailureMode string

const (
	// FailAbort 中止整个计划，默认值
	FailAbort FailureMode = "abort"
	// FailContinue 记录失败继续执行，引用该步骤的变量保留字面量
	FailContinue FailureMode = "continue"
	// FailRetry 退避重试，重试耗尽后按 abort 处理
	FailRetry FailureMode = "retry"
)

// ToolStep 计划中的一步
type ToolStep struct {
	StepID    string                 `json:"stepId"`
	ToolName  string                 `json:"toolName"`
	Params    map[string]interface{} `json:"params,omitempty"`
	DependsOn []string               `json:"dependsOn,omitempty"`
	OnFailure FailureMode            `json:"onFailure,omitempty"`
}

// Call 模型原生 tool_calls 数组中的一项
type Call struct {
	Tool   string
	Params map[string]interface{}
}

// Plan 经过校验的执行计划，order 是拓扑序
type Plan struct {
	steps map[string]*ToolStep
	order []string
}

// NewPlan 校验步骤列表并生成拓扑序。
// 重复的 stepId、指向不存在步骤的依赖、依赖成环都会使构造失败。
func NewPlan(steps []ToolStep) (*Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	byID := make(map[string]*ToolStep, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.StepID == "" {
			return nil, fmt.Errorf("step %d has empty stepId", i)
		}
		if s.ToolName == "" {
			return nil, fmt.Errorf("step %s has empty toolName", s.StepID)
		}
		if _, dup := byID[s.StepID]; dup {
			return nil, fmt.Errorf("duplicate stepId: %s", s.StepID)
		}
		if s.OnFailure == "" {
			s.OnFailure = FailAbort
		}
		byID[s.StepID] = s
	}

	for _, s := range byID {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("step %s depends on unknown step %s", s.StepID, dep)
			}
			if dep == s.StepID {
				return nil, fmt.Errorf("step %s depends on itself", s.StepID)
			}
		}
	}

	order, err := topoSort(steps, byID)
	if err != nil {
		return nil, err
	}
	return &Plan{steps: byID, order: order}, nil
}

// FromCalls 把模型返回的 tool_calls 数组转成线性计划，步骤号从 1 开始
func FromCalls(calls []Call) (*Plan, error) {
	steps := make([]ToolStep, 0, len(calls))
	for i, c := range calls {
		steps = append(steps, ToolStep{
			StepID:    fmt.Sprintf("step%d", i+1),
			ToolName:  c.Tool,
			Params:    c.Params,
			OnFailure: FailContinue,
		})
	}
	return NewPlan(steps)
}

// Order 拓扑序的 stepId 列表
func (p *Plan) Order() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Step 按 ID 取步骤
func (p *Plan) Step(id string) (*ToolStep, bool) {
	s, ok := p.steps[id]
	return s, ok
}

// Len 步骤数
func (p *Plan) Len() int {
	return len(p.order)
}

// topoSort Kahn 算法。入度相同的步骤保持输入顺序，结果可复现。
func topoSort(steps []ToolStep, byID map[string]*ToolStep) ([]string, error) {
	inDegree := make(map[string]int, len(byID))
	dependents := make(map[string][]string, len(byID))

	for _, s := range steps {
		inDegree[s.StepID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.StepID)
		}
	}

	var ready []string
	for _, s := range steps {
		if inDegree[s.StepID] == 0 {
			ready = append(ready, s.StepID)
		}
	}

	order := make([]string, 0, len(byID))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(byID) {
		return nil, fmt.Errorf("plan contains a cycle (resolved %d of %d steps)", len(order), len(byID))
	}
	return order, nil
}

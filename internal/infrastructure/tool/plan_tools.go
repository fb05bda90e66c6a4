package tool

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	domaintool "github.com/nexchat/gateway/internal/domain/tool"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

// 计划管理插件：plan_create / plan_list / plan_update / plan_delete，
// 全部落在计划仓储上，按调用方的 userID 隔离。

// PlanCreatePlugin 创建计划
type PlanCreatePlugin struct {
	plans repository.PlanRepository
}

// NewPlanCreatePlugin 创建 plan_create 插件
func NewPlanCreatePlugin(plans repository.PlanRepository) *PlanCreatePlugin {
	return &PlanCreatePlugin{plans: plans}
}

var _ domaintool.Plugin = (*PlanCreatePlugin)(nil)

func (t *PlanCreatePlugin) Name() string    { return "plan_create" }
func (t *PlanCreatePlugin) Version() string { return "1.0.0" }
func (t *PlanCreatePlugin) Description() string {
	return "创建一个新的项目计划，可附带目标、里程碑、任务、指标和风险。"
}

func (t *PlanCreatePlugin) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "计划标题",
			},
			"goals": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"tasks": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"title":    map[string]interface{}{"type": "string"},
						"owner":    map[string]interface{}{"type": "string"},
						"deadline": map[string]interface{}{"type": "string"},
					},
					"required": []interface{}{"title"},
				},
			},
		},
		"required": []interface{}{"title"},
	}
}

type planCreateParams struct {
	Title string        `mapstructure:"title"`
	Goals []string      `mapstructure:"goals"`
	Tasks []entity.Task `mapstructure:"tasks"`
}

func (t *PlanCreatePlugin) Execute(ctx context.Context, params map[string]interface{}, ec domaintool.ExecContext) (*domaintool.Result, error) {
	var p planCreateParams
	if err := mapstructure.Decode(params, &p); err != nil {
		return domaintool.Fail(t.Name(), "invalid params: "+err.Error()), nil
	}
	if p.Title == "" {
		return domaintool.Fail(t.Name(), "title is required"), nil
	}

	plan := entity.NewPlan(ec.UserID, p.Title)
	plan.Goals = p.Goals
	plan.Tasks = p.Tasks
	if err := t.plans.Save(ctx, plan); err != nil {
		return nil, err
	}

	return &domaintool.Result{
		ToolName: t.Name(),
		Success:  true,
		Data:     plan,
		Message:  "计划已创建",
	}, nil
}

// PlanListPlugin 列出计划
type PlanListPlugin struct {
	plans repository.PlanRepository
}

// NewPlanListPlugin 创建 plan_list 插件
func NewPlanListPlugin(plans repository.PlanRepository) *PlanListPlugin {
	return &PlanListPlugin{plans: plans}
}

var _ domaintool.Plugin = (*PlanListPlugin)(nil)

func (t *PlanListPlugin) Name() string    { return "plan_list" }
func (t *PlanListPlugin) Version() string { return "1.0.0" }
func (t *PlanListPlugin) Description() string {
	return "列出当前用户的项目计划，按更新时间倒序。"
}

func (t *PlanListPlugin) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "返回条数，默认 10",
				"minimum":     1,
				"maximum":     50,
			},
		},
	}
}

func (t *PlanListPlugin) Execute(ctx context.Context, params map[string]interface{}, ec domaintool.ExecContext) (*domaintool.Result, error) {
	limit := 10
	if v, ok := params["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	plans, total, err := t.plans.FindByUserID(ctx, ec.UserID, limit, 0)
	if err != nil {
		return nil, err
	}

	return &domaintool.Result{
		ToolName: t.Name(),
		Success:  true,
		Data: map[string]interface{}{
			"plans": plans,
			"total": total,
		},
	}, nil
}

// PlanUpdatePlugin 更新计划
type PlanUpdatePlugin struct {
	plans repository.PlanRepository
}

// NewPlanUpdatePlugin 创建 plan_update 插件
func NewPlanUpdatePlugin(plans repository.PlanRepository) *PlanUpdatePlugin {
	return &PlanUpdatePlugin{plans: plans}
}

var _ domaintool.Plugin = (*PlanUpdatePlugin)(nil)

func (t *PlanUpdatePlugin) Name() string    { return "plan_update" }
func (t *PlanUpdatePlugin) Version() string { return "1.0.0" }
func (t *PlanUpdatePlugin) Description() string {
	return "更新计划：改标题、追加任务或更新任务状态。"
}

func (t *PlanUpdatePlugin) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"planId": map[string]interface{}{
				"type":        "string",
				"description": "计划ID",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "新标题",
			},
			"addTask": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":    map[string]interface{}{"type": "string"},
					"owner":    map[string]interface{}{"type": "string"},
					"deadline": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"title"},
			},
			"taskStatus": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":  map[string]interface{}{"type": "string"},
					"status": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"title", "status"},
			},
		},
		"required": []interface{}{"planId"},
	}
}

type planUpdateParams struct {
	PlanID     string       `mapstructure:"planId"`
	Title      string       `mapstructure:"title"`
	AddTask    *entity.Task `mapstructure:"addTask"`
	TaskStatus *struct {
		Title  string `mapstructure:"title"`
		Status string `mapstructure:"status"`
	} `mapstructure:"taskStatus"`
}

func (t *PlanUpdatePlugin) Execute(ctx context.Context, params map[string]interface{}, ec domaintool.ExecContext) (*domaintool.Result, error) {
	var p planUpdateParams
	if err := mapstructure.Decode(params, &p); err != nil {
		return domaintool.Fail(t.Name(), "invalid params: "+err.Error()), nil
	}
	if p.PlanID == "" {
		return domaintool.Fail(t.Name(), "planId is required"), nil
	}

	plan, err := t.plans.FindByID(ctx, p.PlanID, ec.UserID)
	if err != nil {
		if domainErrors.IsNotFound(err) {
			return domaintool.Fail(t.Name(), "plan not found: "+p.PlanID), nil
		}
		return nil, err
	}

	if p.Title != "" {
		plan.Title = p.Title
		plan.UpdatedAt = time.Now().UTC()
	}
	if p.AddTask != nil {
		plan.AddTask(*p.AddTask)
	}
	if p.TaskStatus != nil {
		if !plan.UpdateTaskStatus(p.TaskStatus.Title, p.TaskStatus.Status) {
			return domaintool.Fail(t.Name(), "task not found: "+p.TaskStatus.Title), nil
		}
	}

	if err := t.plans.Update(ctx, plan); err != nil {
		return nil, err
	}
	return &domaintool.Result{
		ToolName: t.Name(),
		Success:  true,
		Data:     plan,
		Message:  "计划已更新",
	}, nil
}

// PlanDeletePlugin 删除计划
type PlanDeletePlugin struct {
	plans repository.PlanRepository
}

// NewPlanDeletePlugin 创建 plan_delete 插件
func NewPlanDeletePlugin(plans repository.PlanRepository) *PlanDeletePlugin {
	return &PlanDeletePlugin{plans: plans}
}

var _ domaintool.Plugin = (*PlanDeletePlugin)(nil)

func (t *PlanDeletePlugin) Name() string    { return "plan_delete" }
func (t *PlanDeletePlugin) Version() string { return "1.0.0" }
func (t *PlanDeletePlugin) Description() string {
	return "删除一个项目计划。"
}

func (t *PlanDeletePlugin) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"planId": map[string]interface{}{
				"type":        "string",
				"description": "计划ID",
			},
		},
		"required": []interface{}{"planId"},
	}
}

func (t *PlanDeletePlugin) Execute(ctx context.Context, params map[string]interface{}, ec domaintool.ExecContext) (*domaintool.Result, error) {
	planID, _ := params["planId"].(string)
	if planID == "" {
		return domaintool.Fail(t.Name(), "planId is required"), nil
	}

	if err := t.plans.Delete(ctx, planID, ec.UserID); err != nil {
		if domainErrors.IsNotFound(err) {
			return domaintool.Fail(t.Name(), "plan not found: "+planID), nil
		}
		return nil, err
	}
	return &domaintool.Result{
		ToolName: t.Name(),
		Success:  true,
		Message:  "计划已删除",
	}, nil
}

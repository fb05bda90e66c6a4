package longtext

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/pkg/jsonrepair"
)

// Extraction 单个分片的结构化提取结果
type Extraction struct {
	Goals      []string           `json:"goals"`
	Milestones []entity.Milestone `json:"milestones"`
	Tasks      []entity.Task      `json:"tasks"`
	Metrics    []string           `json:"metrics"`
	Risks      []entity.Risk      `json:"risks"`
	Unknowns   []string           `json:"unknowns"`
}

// IsEmpty 六个维度全空
func (e *Extraction) IsEmpty() bool {
	return len(e.Goals) == 0 && len(e.Milestones) == 0 && len(e.Tasks) == 0 &&
		len(e.Metrics) == 0 && len(e.Risks) == 0 && len(e.Unknowns) == 0
}

// Summary 各维度条目数的一行摘要，分片完成事件展示用
func (e *Extraction) Summary() string {
	if e.IsEmpty() {
		return "无有效提取"
	}
	var parts []string
	add := func(label string, n int) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", label, n))
		}
	}
	add("目标", len(e.Goals))
	add("里程碑", len(e.Milestones))
	add("任务", len(e.Tasks))
	add("指标", len(e.Metrics))
	add("风险", len(e.Risks))
	add("待明确", len(e.Unknowns))
	return strings.Join(parts, "，")
}

// ToJSON 序列化为缩进 JSON，供 reduce 提示词嵌入
func (e *Extraction) ToJSON() string {
	raw, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ToPlan 把提取结果落成计划实体
func (e *Extraction) ToPlan(userID, title string) *entity.Plan {
	p := entity.NewPlan(userID, title)
	p.Goals = e.Goals
	p.Milestones = e.Milestones
	p.Tasks = e.Tasks
	p.Metrics = e.Metrics
	p.Risks = e.Risks
	p.Unknowns = e.Unknowns
	return p
}

// ParseExtraction 从模型输出解析提取结果。
// 期望 JSON 的 extracted 字段下有六个数组，直接平铺在顶层也接受；
// 缺失的字段取空数组，整体解析失败返回错误，调用方按空结果处理。
func ParseExtraction(raw string) (*Extraction, error) {
	obj, err := jsonrepair.ParseObject(raw)
	if err != nil {
		return nil, err
	}

	payload := obj
	if inner, ok := obj["extracted"].(map[string]interface{}); ok {
		payload = inner
	}

	var out Extraction
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(payload); err != nil {
		return nil, err
	}
	return &out, nil
}

// Merge 归并多个分片的提取结果。
// 去重键做小写加空白折叠的归一化：任务看 title，风险看 risk，
// 里程碑看 title，其余维度看值本身。先出现的条目保留。
func Merge(extractions []*Extraction) *Extraction {
	merged := &Extraction{}
	seenGoal := map[string]bool{}
	seenMilestone := map[string]bool{}
	seenTask := map[string]bool{}
	seenMetric := map[string]bool{}
	seenRisk := map[string]bool{}
	seenUnknown := map[string]bool{}

	for _, e := range extractions {
		if e == nil {
			continue
		}
		for _, g := range e.Goals {
			if key := Normalize(g); key != "" && !seenGoal[key] {
				seenGoal[key] = true
				merged.Goals = append(merged.Goals, g)
			}
		}
		for _, m := range e.Milestones {
			if key := Normalize(m.Title); key != "" && !seenMilestone[key] {
				seenMilestone[key] = true
				merged.Milestones = append(merged.Milestones, m)
			}
		}
		for _, t := range e.Tasks {
			if key := Normalize(t.Title); key != "" && !seenTask[key] {
				seenTask[key] = true
				merged.Tasks = append(merged.Tasks, t)
			}
		}
		for _, m := range e.Metrics {
			if key := Normalize(m); key != "" && !seenMetric[key] {
				seenMetric[key] = true
				merged.Metrics = append(merged.Metrics, m)
			}
		}
		for _, r := range e.Risks {
			if key := Normalize(r.Risk); key != "" && !seenRisk[key] {
				seenRisk[key] = true
				merged.Risks = append(merged.Risks, r)
			}
		}
		for _, u := range e.Unknowns {
			if key := Normalize(u); key != "" && !seenUnknown[key] {
				seenUnknown[key] = true
				merged.Unknowns = append(merged.Unknowns, u)
			}
		}
	}
	return merged
}

// Normalize 去重键归一化：小写并折叠全部空白
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

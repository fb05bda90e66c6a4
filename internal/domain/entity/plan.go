package entity

import (
	"time"

	"github.com/google/uuid"
)

// Milestone 项目里程碑
type Milestone struct {
	Title string `json:"title"`
	Due   string `json:"due,omitempty"`
}

// Task 计划任务项
type Task struct {
	Title     string   `json:"title"`
	Owner     string   `json:"owner,omitempty"`
	Deadline  string   `json:"deadline,omitempty"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Priority  string   `json:"priority,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// Risk 风险及其缓解措施
type Risk struct {
	Risk       string `json:"risk"`
	Mitigation string `json:"mitigation,omitempty"`
}

// Plan 项目计划实体，由长文本提取或计划工具维护
type Plan struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId"`
	Title      string      `json:"title"`
	Goals      []string    `json:"goals,omitempty"`
	Milestones []Milestone `json:"milestones,omitempty"`
	Tasks      []Task      `json:"tasks,omitempty"`
	Metrics    []string    `json:"metrics,omitempty"`
	Risks      []Risk      `json:"risks,omitempty"`
	Unknowns   []string    `json:"unknowns,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// NewPlan 创建计划
func NewPlan(userID, title string) *Plan {
	now := time.Now().UTC()
	return &Plan{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddTask 追加任务
func (p *Plan) AddTask(task Task) {
	p.Tasks = append(p.Tasks, task)
	p.UpdatedAt = time.Now().UTC()
}

// UpdateTaskStatus 更新任务状态，找不到时返回 false
func (p *Plan) UpdateTaskStatus(title, status string) bool {
	for i := range p.Tasks {
		if p.Tasks[i].Title == title {
			p.Tasks[i].Status = status
			p.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

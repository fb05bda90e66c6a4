package orchestration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/tool"
	apperrors "github.com/nexchat/gateway/pkg/errors"
)

// Invoker 执行单个工具，具体实现是 infrastructure 层的执行管线
type Invoker interface {
	Invoke(ctx context.Context, toolName string, params map[string]interface{}, ec tool.ExecContext) *tool.Result
}

// StepOutcome 单步执行结果
type StepOutcome struct {
	StepID   string       `json:"stepId"`
	Result   *tool.Result `json:"result,omitempty"`
	Attempts int          `json:"attempts"`
	// Skipped 计划提前中止时未执行的步骤
	Skipped bool `json:"skipped,omitempty"`
}

// PlanResult 整个计划的执行结果
type PlanResult struct {
	Outcomes map[string]*StepOutcome `json:"outcomes"`
	Order    []string                `json:"order"`
	Aborted  bool                    `json:"aborted,omitempty"`
	// AbortedAt 触发中止的步骤
	AbortedAt string `json:"abortedAt,omitempty"`
}

// Runner 按拓扑序逐步执行计划
type Runner struct {
	invoker    Invoker
	logger     *zap.Logger
	maxRetries int
	retryWait  time.Duration
}

// NewRunner 创建执行器
func NewRunner(invoker Invoker, logger *zap.Logger) *Runner {
	return &Runner{
		invoker:    invoker,
		logger:     logger,
		maxRetries: 2,
		retryWait:  500 * time.Millisecond,
	}
}

// Run 执行计划。onFailure=abort 的步骤失败时返回错误，
// 已完成和被跳过的步骤都保留在 PlanResult 里。
func (r *Runner) Run(ctx context.Context, plan *Plan, ec tool.ExecContext) (*PlanResult, error) {
	res := &PlanResult{
		Outcomes: make(map[string]*StepOutcome, plan.Len()),
		Order:    plan.Order(),
	}
	rsv := newResolver(r.logger)

	for i, stepID := range res.Order {
		if res.Aborted {
			res.Outcomes[stepID] = &StepOutcome{StepID: stepID, Skipped: true}
			continue
		}
		if err := ctx.Err(); err != nil {
			r.markSkipped(res, res.Order[i:])
			return res, err
		}

		step, _ := plan.Step(stepID)
		outcome := r.runStep(ctx, step, rsv, ec)
		res.Outcomes[stepID] = outcome
		rsv.record(stepID, outcome.Result)

		if outcome.Result != nil && !outcome.Result.Success && step.OnFailure != FailContinue {
			res.Aborted = true
			res.AbortedAt = stepID
		}
	}

	if res.Aborted {
		abortedBy := res.Outcomes[res.AbortedAt]
		msg := "step " + res.AbortedAt + " failed"
		if abortedBy != nil && abortedBy.Result != nil && abortedBy.Result.Error != "" {
			msg += ": " + abortedBy.Result.Error
		}
		return res, apperrors.NewInternalError(msg)
	}
	return res, nil
}

func (r *Runner) runStep(ctx context.Context, step *ToolStep, rsv *resolver, ec tool.ExecContext) *StepOutcome {
	params := rsv.resolveParams(step.Params)

	attempts := 1
	if step.OnFailure == FailRetry {
		attempts += r.maxRetries
	}

	outcome := &StepOutcome{StepID: step.StepID}
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome.Attempts = attempt
		outcome.Result = r.invoker.Invoke(ctx, step.ToolName, params, ec)

		if outcome.Result != nil && outcome.Result.Success {
			return outcome
		}
		if attempt < attempts {
			r.logger.Warn("plan step failed, retrying",
				zap.String("stepId", step.StepID),
				zap.String("tool", step.ToolName),
				zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return outcome
			case <-time.After(r.retryWait * time.Duration(attempt)):
			}
		}
	}
	return outcome
}

func (r *Runner) markSkipped(res *PlanResult, rest []string) {
	for _, stepID := range rest {
		if _, done := res.Outcomes[stepID]; !done {
			res.Outcomes[stepID] = &StepOutcome{StepID: stepID, Skipped: true}
		}
	}
}

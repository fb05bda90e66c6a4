package tool

import (
	"context"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

const defaultFallbackTimeout = 10 * time.Second

// fallback 按配置顺序执行降级链，第一个产出结果的策略生效。
// 没有配置降级链时原样返回最后的失败。
func (e *Executor) fallback(ctx context.Context, plugin domaintool.Plugin, settings domaintool.Settings, params map[string]interface{}, ec domaintool.ExecContext, cacheKey string, lastFailure *domaintool.Result) *domaintool.Result {
	fb := settings.Fallback
	if fb == nil || len(fb.Steps) == 0 {
		return lastFailure
	}

	toolName := plugin.Name()
	chainTimeout := fb.Timeout
	if chainTimeout <= 0 {
		chainTimeout = defaultFallbackTimeout
	}

	for _, step := range fb.Steps {
		stepCtx, cancel := context.WithTimeout(ctx, chainTimeout)
		result := e.runFallbackStep(stepCtx, step, plugin, settings, params, ec, cacheKey, fb)
		cancel()

		if result != nil {
			result.Degraded = true
			result.DegradedBy = string(step.Kind)
			e.bump(toolName, func(m *ToolMetrics) { m.FallbackUses++ })
			e.logger.Info("降级策略生效",
				zap.String("tool", toolName),
				zap.String("strategy", string(step.Kind)))
			return result
		}
	}
	return lastFailure
}

func (e *Executor) runFallbackStep(ctx context.Context, step domaintool.FallbackStep, plugin domaintool.Plugin, settings domaintool.Settings, params map[string]interface{}, ec domaintool.ExecContext, cacheKey string, fb *domaintool.FallbackSettings) *domaintool.Result {
	toolName := plugin.Name()

	switch step.Kind {
	case domaintool.FallbackCache:
		if cacheKey == "" {
			return nil
		}
		if cached, hit := e.cache.Get(cacheKey); hit {
			return cached
		}

	case domaintool.FallbackStaleCache:
		if cacheKey == "" || !fb.AllowStaleCache {
			return nil
		}
		if cached, hit := e.cache.GetStale(cacheKey); hit {
			return cached
		}

	case domaintool.FallbackTool:
		if step.Tool == "" || step.Tool == toolName {
			return nil
		}
		// 重入执行管线，受替代工具自身的限流熔断约束
		result := e.Execute(ctx, step.Tool, params, ec, ExecOptions{})
		if result != nil && result.Success {
			result.ToolName = toolName
			return result
		}

	case domaintool.FallbackSimplified:
		merged := make(map[string]interface{}, len(params)+len(step.SimplifiedParams))
		for k, v := range params {
			merged[k] = v
		}
		for k, v := range step.SimplifiedParams {
			merged[k] = v
		}
		// 绕过熔断直接调插件
		result, err := e.runOnce(ctx, plugin, merged, ec, fallbackStepTimeout(fb))
		if err == nil && result != nil && result.Success {
			return result
		}

	case domaintool.FallbackDefault:
		return &domaintool.Result{
			ToolName: toolName,
			Success:  true,
			Data:     step.DefaultData,
			Message:  step.DefaultMessage,
		}
	}
	return nil
}

func fallbackStepTimeout(fb *domaintool.FallbackSettings) time.Duration {
	if fb.Timeout > 0 {
		return fb.Timeout
	}
	return defaultFallbackTimeout
}

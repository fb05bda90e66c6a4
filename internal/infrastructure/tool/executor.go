package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/orchestration"
	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

// ExecOptions 单次执行的选项
type ExecOptions struct {
	// SkipCache 跳过缓存读取（写入不受影响）
	SkipCache bool
	// SkipRateLimit 跳过工具限流
	SkipRateLimit bool
	// Timeout 覆盖插件配置的超时
	Timeout time.Duration
}

// ToolMetrics 单个工具的累计指标
type ToolMetrics struct {
	TotalCalls        int64   `json:"totalCalls"`
	Successes         int64   `json:"successes"`
	Failures          int64   `json:"failures"`
	CacheHits         int64   `json:"cacheHits"`
	RateLimited       int64   `json:"rateLimited"`
	BreakerRejections int64   `json:"breakerRejections"`
	FallbackUses      int64   `json:"fallbackUses"`
	AvgDurationMs     float64 `json:"avgDurationMs"`
	LastDurationMs    int64   `json:"lastDurationMs"`
}

const defaultExecTimeout = 30 * time.Second

// Executor 工具执行管线。
//
// 固定顺序：查插件 → 计数 → 缓存 → 熔断 → 限流 → 参数校验 →
// 带超时执行（含重试）→ 记熔断结果、写缓存 → 失败走降级链。
type Executor struct {
	registry domaintool.Registry
	cache    *ResultCache
	limiter  *RateLimiter
	breakers *BreakerBoard
	logger   *zap.Logger

	mu      sync.Mutex
	metrics map[string]*ToolMetrics
}

// NewExecutor 创建执行管线
func NewExecutor(registry domaintool.Registry, cache *ResultCache, limiter *RateLimiter, breakers *BreakerBoard, logger *zap.Logger) *Executor {
	return &Executor{
		registry: registry,
		cache:    cache,
		limiter:  limiter,
		breakers: breakers,
		logger:   logger,
		metrics:  make(map[string]*ToolMetrics),
	}
}

var _ orchestration.Invoker = (*Executor)(nil)

// Invoke 实现编排器的调用接口
func (e *Executor) Invoke(ctx context.Context, toolName string, params map[string]interface{}, ec domaintool.ExecContext) *domaintool.Result {
	return e.Execute(ctx, toolName, params, ec, ExecOptions{})
}

// Execute 执行一次工具调用
func (e *Executor) Execute(ctx context.Context, toolName string, params map[string]interface{}, ec domaintool.ExecContext, opts ExecOptions) *domaintool.Result {
	start := time.Now()

	// 1. 查插件
	plugin, ok := e.registry.Get(toolName)
	if !ok {
		return domaintool.Fail(toolName, "tool not found: "+toolName)
	}
	settings, _ := e.registry.SettingsFor(toolName)
	if !settings.Enabled {
		return domaintool.Fail(toolName, "tool disabled: "+toolName)
	}

	// 2. 总调用计数
	e.bump(toolName, func(m *ToolMetrics) { m.TotalCalls++ })

	// 3. 缓存
	cacheKey := ""
	cacheOn := settings.Cache != nil && settings.Cache.Enabled
	if cacheOn {
		cacheKey = e.cache.Key(toolName, params, ec, settings.Cache.KeyStrategy)
		if !opts.SkipCache {
			if cached, hit := e.cache.Get(cacheKey); hit {
				e.bump(toolName, func(m *ToolMetrics) { m.CacheHits++; m.Successes++ })
				return cached
			}
		}
	}

	// 4. 熔断。拒绝时直接进降级链。
	if !e.breakers.Allow(toolName, settings.Breaker) {
		e.bump(toolName, func(m *ToolMetrics) { m.BreakerRejections++ })
		e.logger.Warn("工具熔断拒绝", zap.String("tool", toolName))
		return e.finish(toolName, start,
			e.fallback(ctx, plugin, settings, params, ec, cacheKey,
				domaintool.Fail(toolName, "circuit breaker open for "+toolName)))
	}

	// 5. 限流。拒绝即失败，不走降级。
	if !opts.SkipRateLimit {
		release, reason, acquired := e.limiter.Acquire(toolName, settings.RateLimit)
		if !acquired {
			e.bump(toolName, func(m *ToolMetrics) { m.RateLimited++; m.Failures++ })
			return domaintool.Fail(toolName, fmt.Sprintf("rate limited (%s): %s", reason, toolName))
		}
		defer release()
	}

	// 6. 参数校验。校验失败记一次熔断失败。
	if err := e.registry.Validate(toolName, params); err != nil {
		e.breakers.RecordFailure(toolName, settings.Breaker)
		e.bump(toolName, func(m *ToolMetrics) { m.Failures++ })
		return domaintool.Fail(toolName, "validation failed: "+err.Error())
	}

	// 7. 带超时执行，按配置重试
	result, err := e.runWithRetry(ctx, plugin, settings, params, ec, opts.Timeout)

	// 8. 成功路径
	if err == nil && result != nil {
		e.breakers.RecordSuccess(toolName, settings.Breaker)
		if result.Success && cacheOn {
			e.cache.Set(cacheKey, result, settings.Cache.TTL)
		}
		if result.Success {
			e.bump(toolName, func(m *ToolMetrics) { m.Successes++ })
		} else {
			e.bump(toolName, func(m *ToolMetrics) { m.Failures++ })
		}
		result.FromCache = false
		return e.finish(toolName, start, result)
	}

	// 9. 失败：记熔断失败后进降级链
	e.breakers.RecordFailure(toolName, settings.Breaker)
	e.bump(toolName, func(m *ToolMetrics) { m.Failures++ })
	if err == nil {
		err = fmt.Errorf("tool %s returned no result", toolName)
	}
	e.logger.Warn("工具执行失败，尝试降级",
		zap.String("tool", toolName),
		zap.Error(err))

	// 10. 降级链
	return e.finish(toolName, start,
		e.fallback(ctx, plugin, settings, params, ec, cacheKey,
			domaintool.Fail(toolName, err.Error())))
}

// runWithRetry 执行插件并按 Retry 配置重试
func (e *Executor) runWithRetry(ctx context.Context, plugin domaintool.Plugin, settings domaintool.Settings, params map[string]interface{}, ec domaintool.ExecContext, timeoutOverride time.Duration) (*domaintool.Result, error) {
	timeout := timeoutOverride
	if timeout <= 0 && settings.RateLimit != nil && settings.RateLimit.Timeout > 0 {
		timeout = settings.RateLimit.Timeout
	}
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	attempts := 1
	baseWait := time.Duration(0)
	if settings.Retry != nil {
		attempts += settings.Retry.MaxRetries
		baseWait = settings.Retry.BaseWait
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && baseWait > 0 {
			wait := baseWait * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := e.runOnce(ctx, plugin, params, ec, timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// runOnce 单次执行，超时即失败
func (e *Executor) runOnce(ctx context.Context, plugin domaintool.Plugin, params map[string]interface{}, ec domaintool.ExecContext, timeout time.Duration) (*domaintool.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *domaintool.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := plugin.Execute(execCtx, params, ec)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-execCtx.Done():
		return nil, fmt.Errorf("tool %s timed out after %v", plugin.Name(), timeout)
	}
}

// finish 记录时延并返回
func (e *Executor) finish(toolName string, start time.Time, result *domaintool.Result) *domaintool.Result {
	elapsed := time.Since(start)
	result.Duration = elapsed
	e.bump(toolName, func(m *ToolMetrics) {
		m.LastDurationMs = elapsed.Milliseconds()
		// 累计平均
		if m.TotalCalls > 0 {
			m.AvgDurationMs += (float64(elapsed.Milliseconds()) - m.AvgDurationMs) / float64(m.TotalCalls)
		}
	})
	return result
}

func (e *Executor) bump(toolName string, update func(*ToolMetrics)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.metrics[toolName]
	if !ok {
		m = &ToolMetrics{}
		e.metrics[toolName] = m
	}
	update(m)
}

// Metrics 全部工具的指标快照
func (e *Executor) Metrics() map[string]ToolMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]ToolMetrics, len(e.metrics))
	for name, m := range e.metrics {
		out[name] = *m
	}
	return out
}

// BreakerSnapshots 全部熔断器状态
func (e *Executor) BreakerSnapshots() map[string]BreakerSnapshot {
	return e.breakers.Snapshots()
}

// CacheStats 缓存统计
func (e *Executor) CacheStats() CacheStats {
	return e.cache.Stats()
}

package tool

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

// DenyReason 限流拒绝原因
type DenyReason string

const (
	// DenyConcurrency 并发槽位已满
	DenyConcurrency DenyReason = "concurrency"
	// DenyRPM 每分钟调用数已达上限
	DenyRPM DenyReason = "rpm"
)

type toolLimiter struct {
	sem           *semaphore.Weighted
	maxConcurrent int
	maxPerMinute  int

	mu     sync.Mutex
	window []time.Time
}

// RateLimiter 按工具名隔离的限流器：信号量管并发，滑动窗口管 RPM。
// TryAcquire 不排队，拿不到直接拒绝。
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*toolLimiter
	now      func() time.Time
}

// NewRateLimiter 创建工具限流器
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*toolLimiter),
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiterFor(toolName string, settings *domaintool.RateLimitSettings) *toolLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[toolName]
	if ok && lim.maxConcurrent == settings.MaxConcurrent && lim.maxPerMinute == settings.MaxPerMinute {
		return lim
	}
	// 新建或配置变更后重建
	maxConcurrent := settings.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	lim = &toolLimiter{
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: settings.MaxConcurrent,
		maxPerMinute:  settings.MaxPerMinute,
	}
	rl.limiters[toolName] = lim
	return lim
}

// Acquire 申请一次调用。成功返回释放函数，失败返回拒绝原因。
// settings 为 nil 表示该工具不限流。
func (rl *RateLimiter) Acquire(toolName string, settings *domaintool.RateLimitSettings) (release func(), denied DenyReason, ok bool) {
	if settings == nil {
		return func() {}, "", true
	}

	lim := rl.limiterFor(toolName, settings)

	if !lim.sem.TryAcquire(1) {
		return nil, DenyConcurrency, false
	}

	if lim.maxPerMinute > 0 {
		now := rl.now()
		lim.mu.Lock()
		cutoff := now.Add(-time.Minute)
		i := 0
		for i < len(lim.window) && !lim.window[i].After(cutoff) {
			i++
		}
		lim.window = lim.window[i:]
		if len(lim.window) >= lim.maxPerMinute {
			lim.mu.Unlock()
			lim.sem.Release(1)
			return nil, DenyRPM, false
		}
		lim.window = append(lim.window, now)
		lim.mu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() { lim.sem.Release(1) })
	}, "", true
}

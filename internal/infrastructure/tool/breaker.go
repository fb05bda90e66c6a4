package tool

import (
	"sync"
	"time"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot 单个熔断器的可观测状态
type BreakerSnapshot struct {
	State            BreakerState `json:"state"`
	ConsecutiveFails int          `json:"consecutiveFails"`
	TotalTrips       int64        `json:"totalTrips"`
	Rejections       int64        `json:"rejections"`
}

// Breaker 单工具熔断器：连续失败达到阈值进入 open，
// resetTimeout 后转 half-open 放行 halfOpenRequests 个探测请求。
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenRequests int

	consecutiveFails int
	halfOpenInFlight int
	openedAt         time.Time
	totalTrips       int64
	rejections       int64
	now              func() time.Time
}

// NewBreaker 创建熔断器
func NewBreaker(settings domaintool.BreakerSettings) *Breaker {
	threshold := settings.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	resetTimeout := settings.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	halfOpen := settings.HalfOpenRequests
	if halfOpen <= 0 {
		halfOpen = 1
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
		halfOpenRequests: halfOpen,
		now:              time.Now,
	}
}

// Allow 判断请求能否通过
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			b.halfOpenInFlight = 1
			return true
		}
		b.rejections++
		return false
	case BreakerHalfOpen:
		if b.halfOpenInFlight < b.halfOpenRequests {
			b.halfOpenInFlight++
			return true
		}
		b.rejections++
		return false
	}
	return false
}

// RecordSuccess 记录成功
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.halfOpenInFlight = 0
	}
}

// RecordFailure 记录失败
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++
	if b.state == BreakerHalfOpen {
		// 半开时任何失败立即重新熔断
		b.trip()
		return
	}
	if b.state == BreakerClosed && b.consecutiveFails >= b.failureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.halfOpenInFlight = 0
	b.totalTrips++
}

// State 当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot 可观测状态
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		TotalTrips:       b.totalTrips,
		Rejections:       b.rejections,
	}
}

// globalErrorRateBreaker 全局错误率熔断：滚动窗口内错误率超限即 open。
// composite 模式下与单工具熔断器取更严格的决策。
type globalErrorRateBreaker struct {
	mu           sync.Mutex
	windowSize   int
	rateLimit    float64
	resetTimeout time.Duration
	outcomes     []bool
	openedAt     time.Time
	open         bool
	now          func() time.Time
}

func newGlobalErrorRateBreaker(windowSize int, rateLimit float64, resetTimeout time.Duration) *globalErrorRateBreaker {
	return &globalErrorRateBreaker{
		windowSize:   windowSize,
		rateLimit:    rateLimit,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

func (g *globalErrorRateBreaker) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return true
	}
	if g.now().Sub(g.openedAt) >= g.resetTimeout {
		g.open = false
		g.outcomes = nil
		return true
	}
	return false
}

func (g *globalErrorRateBreaker) Record(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.outcomes = append(g.outcomes, success)
	if len(g.outcomes) > g.windowSize {
		g.outcomes = g.outcomes[len(g.outcomes)-g.windowSize:]
	}
	if len(g.outcomes) < g.windowSize {
		return
	}
	failures := 0
	for _, ok := range g.outcomes {
		if !ok {
			failures++
		}
	}
	if float64(failures)/float64(len(g.outcomes)) >= g.rateLimit {
		g.open = true
		g.openedAt = g.now()
	}
}

// BreakerBoard 按工具名管理熔断器。
// mode=composite 时叠加全局错误率熔断，更严格的决策生效。
type BreakerBoard struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	global    *globalErrorRateBreaker
	composite bool
}

// NewBreakerBoard 创建熔断器面板。mode 取 "per-tool" 或 "composite"。
func NewBreakerBoard(mode string) *BreakerBoard {
	board := &BreakerBoard{
		breakers:  make(map[string]*Breaker),
		composite: mode == "composite",
	}
	if board.composite {
		board.global = newGlobalErrorRateBreaker(20, 0.5, 60*time.Second)
	}
	return board
}

func (bb *BreakerBoard) breakerFor(toolName string, settings *domaintool.BreakerSettings) *Breaker {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	b, ok := bb.breakers[toolName]
	if !ok {
		var s domaintool.BreakerSettings
		if settings != nil {
			s = *settings
		}
		b = NewBreaker(s)
		bb.breakers[toolName] = b
	}
	return b
}

// Allow 判断工具调用能否通过。settings 为 nil 表示该工具不熔断。
func (bb *BreakerBoard) Allow(toolName string, settings *domaintool.BreakerSettings) bool {
	if settings == nil {
		return true
	}
	allowed := bb.breakerFor(toolName, settings).Allow()
	if bb.composite && !bb.global.Allow() {
		allowed = false
	}
	return allowed
}

// RecordSuccess 记录成功
func (bb *BreakerBoard) RecordSuccess(toolName string, settings *domaintool.BreakerSettings) {
	if settings != nil {
		bb.breakerFor(toolName, settings).RecordSuccess()
	}
	if bb.composite {
		bb.global.Record(true)
	}
}

// RecordFailure 记录失败
func (bb *BreakerBoard) RecordFailure(toolName string, settings *domaintool.BreakerSettings) {
	if settings != nil {
		bb.breakerFor(toolName, settings).RecordFailure()
	}
	if bb.composite {
		bb.global.Record(false)
	}
}

// Snapshots 全部熔断器的可观测状态
func (bb *BreakerBoard) Snapshots() map[string]BreakerSnapshot {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	out := make(map[string]BreakerSnapshot, len(bb.breakers))
	for name, b := range bb.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

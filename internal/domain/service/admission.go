package service

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdmissionDecision 接入判定结果类型
type AdmissionDecision string

const (
	// AdmissionOK 准入，必须调用 Release 归还槽位
	AdmissionOK AdmissionDecision = "ok"
	// AdmissionQueued 排队，客户端按 RetryAfter 轮询
	AdmissionQueued AdmissionDecision = "queued"
	// AdmissionRejected 伪造令牌触发冷却，冷却期内一律拒绝
	AdmissionRejected AdmissionDecision = "rejected"
)

// AdmissionConfig SSE 接入限流配置
type AdmissionConfig struct {
	// MaxConnections 全局并发流上限
	MaxConnections int
	// MaxPerUser 单用户并发流上限
	MaxPerUser int
	// ReleasePerSecond 每秒从队头放行的槽位数
	ReleasePerSecond int
	// TokenTTL 排队令牌的有效期，每次轮询刷新
	TokenTTL time.Duration
	// AbuseWindow 伪造令牌的计数窗口
	AbuseWindow time.Duration
	// AbuseThreshold 窗口内触发冷却的伪造次数
	AbuseThreshold int
	// Cooldown 冷却时长
	Cooldown time.Duration
}

// DefaultAdmissionConfig 默认接入配置
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		MaxConnections:   20,
		MaxPerUser:       3,
		ReleasePerSecond: 5,
		TokenTTL:         3 * time.Minute,
		AbuseWindow:      10 * time.Second,
		AbuseThreshold:   3,
		Cooldown:         30 * time.Second,
	}
}

// AcquireResult 一次接入请求的判定
type AcquireResult struct {
	Decision AdmissionDecision
	// Release 归还槽位，幂等，准入时非 nil。
	// 流处理器的每条退出路径（完成、出错、断连）都必须调用。
	Release func()
	// Token 排队令牌
	Token string
	// Position 队列中的位置，0 为队头
	Position int
	// RetryAfter 建议的下次轮询间隔
	RetryAfter time.Duration
	// Cooldown 剩余冷却时长
	Cooldown time.Duration
}

type admissionWaiter struct {
	token      string
	userID     string
	enqueuedAt time.Time
	expiresAt  time.Time
}

type abuseRecord struct {
	events        []time.Time
	cooldownUntil time.Time
}

// AdmissionLimiter SSE 接入限流器。
//
// 容量耗尽时发放排队令牌，客户端带令牌轮询；队头令牌按固定速率放行，
// 保证同进程内先来先得。伪造令牌在窗口内累计到阈值后进入冷却。
// 过期令牌进入墓碑集合，借此与从未发放过的令牌区分开，
// 持过期令牌重试按新请求处理而不算滥用。所有清理都在 acquire 时惰性执行。
type AdmissionLimiter struct {
	mu  sync.Mutex
	cfg AdmissionConfig

	totalActive  int
	activeByUser map[string]int

	waiters       []*admissionWaiter
	index         map[string]*admissionWaiter
	waitersByUser map[string]int
	tombstones    map[string]time.Time
	abuse         map[string]*abuseRecord

	pacer  *rate.Limiter
	logger *zap.Logger

	// 测试注入点
	now    func() time.Time
	jitter func() time.Duration
}

// NewAdmissionLimiter 创建接入限流器
func NewAdmissionLimiter(cfg AdmissionConfig, logger *zap.Logger) *AdmissionLimiter {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultAdmissionConfig().MaxConnections
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = DefaultAdmissionConfig().MaxPerUser
	}
	if cfg.ReleasePerSecond <= 0 {
		cfg.ReleasePerSecond = DefaultAdmissionConfig().ReleasePerSecond
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultAdmissionConfig().TokenTTL
	}
	if cfg.AbuseWindow <= 0 {
		cfg.AbuseWindow = DefaultAdmissionConfig().AbuseWindow
	}
	if cfg.AbuseThreshold <= 0 {
		cfg.AbuseThreshold = DefaultAdmissionConfig().AbuseThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultAdmissionConfig().Cooldown
	}
	return &AdmissionLimiter{
		cfg:           cfg,
		activeByUser:  make(map[string]int),
		index:         make(map[string]*admissionWaiter),
		waitersByUser: make(map[string]int),
		tombstones:    make(map[string]time.Time),
		abuse:         make(map[string]*abuseRecord),
		pacer:        rate.NewLimiter(rate.Limit(cfg.ReleasePerSecond), cfg.ReleasePerSecond),
		logger:       logger,
		now:          time.Now,
		jitter: func() time.Duration {
			return 300*time.Millisecond + time.Duration(rand.Int63n(int64(701*time.Millisecond)))
		},
	}
}

// Acquire 申请一个流式槽位。existingToken 为空表示首次请求。
func (l *AdmissionLimiter) Acquire(userID, existingToken string) AcquireResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanupLocked(now)

	if rec, ok := l.abuse[userID]; ok && now.Before(rec.cooldownUntil) {
		return AcquireResult{
			Decision: AdmissionRejected,
			Cooldown: rec.cooldownUntil.Sub(now),
		}
	}

	waiter := l.lookupWaiter(userID, existingToken)

	if l.totalActive < l.cfg.MaxConnections && l.activeByUser[userID] < l.cfg.MaxPerUser {
		switch {
		case waiter != nil:
			// 队列放行受速率限制，超速时继续排队
			if l.pacer.Allow() {
				l.removeWaiterLocked(waiter.token)
				return l.admitLocked(userID)
			}
		case l.waitersByUser[userID] == 0:
			// 同一用户有在排队的请求时，新请求不得插队
			return l.admitLocked(userID)
		}
	}

	if waiter != nil {
		waiter.expiresAt = now.Add(l.cfg.TokenTTL)
		pos := l.positionLocked(waiter.token)
		return AcquireResult{
			Decision:   AdmissionQueued,
			Token:      waiter.token,
			Position:   pos,
			RetryAfter: l.retryAfter(pos),
		}
	}

	if existingToken != "" {
		if _, expired := l.tombstones[existingToken]; !expired {
			if rejected, cooldown := l.recordAbuseLocked(userID, now); rejected {
				return AcquireResult{Decision: AdmissionRejected, Cooldown: cooldown}
			}
		}
	}

	w := &admissionWaiter{
		token:      uuid.New().String(),
		userID:     userID,
		enqueuedAt: now,
		expiresAt:  now.Add(l.cfg.TokenTTL),
	}
	l.waiters = append(l.waiters, w)
	l.index[w.token] = w
	l.waitersByUser[userID]++
	pos := len(l.waiters) - 1

	l.logger.Debug("sse admission queued",
		zap.String("userId", userID),
		zap.Int("position", pos),
		zap.Int("queueDepth", len(l.waiters)))

	return AcquireResult{
		Decision:   AdmissionQueued,
		Token:      w.token,
		Position:   pos,
		RetryAfter: l.retryAfter(pos),
	}
}

// ReleaseToken 主动放弃排队令牌
func (l *AdmissionLimiter) ReleaseToken(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeWaiterLocked(token)
}

// AdmissionStats 接入层运行指标
type AdmissionStats struct {
	ActiveTotal    int `json:"activeTotal"`
	ActiveUsers    int `json:"activeUsers"`
	QueueDepth     int `json:"queueDepth"`
	CooldownUsers  int `json:"cooldownUsers"`
	MaxConnections int `json:"maxConnections"`
	MaxPerUser     int `json:"maxPerUser"`
}

// Stats 返回当前指标快照
func (l *AdmissionLimiter) Stats() AdmissionStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cooldowns := 0
	for _, rec := range l.abuse {
		if now.Before(rec.cooldownUntil) {
			cooldowns++
		}
	}
	return AdmissionStats{
		ActiveTotal:    l.totalActive,
		ActiveUsers:    len(l.activeByUser),
		QueueDepth:     len(l.waiters),
		CooldownUsers:  cooldowns,
		MaxConnections: l.cfg.MaxConnections,
		MaxPerUser:     l.cfg.MaxPerUser,
	}
}

func (l *AdmissionLimiter) admitLocked(userID string) AcquireResult {
	l.totalActive++
	l.activeByUser[userID]++

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.totalActive--
			if l.activeByUser[userID] <= 1 {
				delete(l.activeByUser, userID)
			} else {
				l.activeByUser[userID]--
			}
		})
	}
	return AcquireResult{Decision: AdmissionOK, Release: release}
}

// lookupWaiter 查找属于该用户的有效排队令牌
func (l *AdmissionLimiter) lookupWaiter(userID, token string) *admissionWaiter {
	if token == "" {
		return nil
	}
	w, ok := l.index[token]
	if !ok || w.userID != userID {
		return nil
	}
	return w
}

func (l *AdmissionLimiter) recordAbuseLocked(userID string, now time.Time) (bool, time.Duration) {
	rec, ok := l.abuse[userID]
	if !ok {
		rec = &abuseRecord{}
		l.abuse[userID] = rec
	}

	cutoff := now.Add(-l.cfg.AbuseWindow)
	kept := rec.events[:0]
	for _, t := range rec.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rec.events = append(kept, now)

	if len(rec.events) >= l.cfg.AbuseThreshold {
		rec.cooldownUntil = now.Add(l.cfg.Cooldown)
		rec.events = nil
		l.logger.Warn("sse admission cooldown triggered",
			zap.String("userId", userID),
			zap.Duration("cooldown", l.cfg.Cooldown))
		return true, l.cfg.Cooldown
	}
	return false, 0
}

func (l *AdmissionLimiter) positionLocked(token string) int {
	for i, w := range l.waiters {
		if w.token == token {
			return i
		}
	}
	return len(l.waiters)
}

func (l *AdmissionLimiter) removeWaiterLocked(token string) {
	w, ok := l.index[token]
	if !ok {
		return
	}
	delete(l.index, token)
	l.decWaiterCountLocked(w.userID)
	for i, entry := range l.waiters {
		if entry.token == token {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			break
		}
	}
}

func (l *AdmissionLimiter) decWaiterCountLocked(userID string) {
	if l.waitersByUser[userID] <= 1 {
		delete(l.waitersByUser, userID)
	} else {
		l.waitersByUser[userID]--
	}
}

// retryAfter 轮询间隔估计：前面每 R 个等待者约需 1 秒，再加抖动打散重试
func (l *AdmissionLimiter) retryAfter(position int) time.Duration {
	wait := math.Ceil(float64(position) / float64(l.cfg.ReleasePerSecond))
	return time.Duration(wait)*time.Second + l.jitter()
}

// cleanupLocked 惰性清理：过期令牌移入墓碑，过期墓碑和滥用记录删除
func (l *AdmissionLimiter) cleanupLocked(now time.Time) {
	if len(l.waiters) > 0 {
		kept := l.waiters[:0]
		for _, w := range l.waiters {
			if now.After(w.expiresAt) {
				delete(l.index, w.token)
				l.decWaiterCountLocked(w.userID)
				// 墓碑保留两个 TTL，期间持此令牌重试按新请求处理
				l.tombstones[w.token] = now.Add(2 * l.cfg.TokenTTL)
			} else {
				kept = append(kept, w)
			}
		}
		l.waiters = kept
	}

	for token, deadline := range l.tombstones {
		if now.After(deadline) {
			delete(l.tombstones, token)
		}
	}

	cutoff := now.Add(-l.cfg.AbuseWindow)
	for userID, rec := range l.abuse {
		if now.Before(rec.cooldownUntil) {
			continue
		}
		live := false
		for _, t := range rec.events {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.abuse, userID)
		}
	}
}

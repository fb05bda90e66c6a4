package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeartbeatFunc 发送一帧心跳，失败表示连接已断开
type HeartbeatFunc func() error

// Heartbeat 按固定间隔向流式连接发送心跳帧。
//
// SSE 长连接在工具执行或排队等待期间可能长时间无数据，
// 中间的代理会把空闲连接掐掉，心跳帧让连接保持活跃。
// 每条流各自持有一个实例，随流的生命周期启停。
type Heartbeat struct {
	interval time.Duration
	beat     HeartbeatFunc
	logger   *zap.Logger

	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

// NewHeartbeat 创建心跳器，interval 非正时取 15 秒
func NewHeartbeat(interval time.Duration, beat HeartbeatFunc, logger *zap.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Heartbeat{
		interval: interval,
		beat:     beat,
		logger:   logger,
	}
}

// Start 启动心跳循环，随 ctx 取消而停止。重复调用无效果。
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	h.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	go h.loop(loopCtx)
}

// Stop 停止心跳循环
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.cancel()
		h.running = false
	}
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.beat(); err != nil {
				h.logger.Debug("heartbeat write failed, stopping", zap.Error(err))
				return
			}
		}
	}
}

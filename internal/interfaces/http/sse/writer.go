// Package sse 自适应 SSE 输出。
// 逐字模式按打字机节奏推累计全文，积压超过阈值自动切换成块模式，
// 回落到阈值一半以下再切回来。
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/pkg/safego"
)

// Mode 输出模式
type Mode int32

const (
	// ModeCharacter 逐字输出，每个字符间隔 CharDelay
	ModeCharacter Mode = iota
	// ModeChunk 整段输出，段间最小停顿
	ModeChunk
)

func (m Mode) String() string {
	if m == ModeChunk {
		return "chunk"
	}
	return "character"
}

// Sink 底层帧输出。HTTP 和 WebSocket 各有实现。
type Sink interface {
	// WriteFrame 写一帧 data 负载
	WriteFrame(data []byte) error
	// WriteComment 写一行注释帧，心跳用
	WriteComment(text string) error
	// IsClosed 客户端是否已断开
	IsClosed() bool
}

// Options 写入器参数
type Options struct {
	// CharDelay 逐字间隔，限制在 20–40ms，默认 30ms
	CharDelay time.Duration
	// ChunkDelay 块间停顿
	ChunkDelay time.Duration
	// BackpressureThreshold 积压超过该字符数切块模式，低于一半切回
	BackpressureThreshold int
	// Adaptive 自动切换模式。false 时固定用 ForceMode。
	Adaptive  bool
	ForceMode Mode
}

func (o Options) withDefaults() Options {
	if o.CharDelay <= 0 {
		o.CharDelay = 30 * time.Millisecond
	}
	if o.CharDelay < 20*time.Millisecond {
		o.CharDelay = 20 * time.Millisecond
	}
	if o.CharDelay > 40*time.Millisecond {
		o.CharDelay = 40 * time.Millisecond
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = 5 * time.Millisecond
	}
	if o.BackpressureThreshold <= 0 {
		o.BackpressureThreshold = 500
	}
	return o
}

type opKind int

const (
	opContent opKind = iota
	opEvent
	opComment
	opReset
)

type op struct {
	kind    opKind
	text    string
	payload []byte
}

// Writer 自适应 SSE 写入器。
// 所有帧经单个发射协程按入队顺序输出，内容帧按当前模式逐字或整块推送。
type Writer struct {
	sink   Sink
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []op
	closing bool

	emitted  []rune
	pending  atomic.Int64
	mode     atomic.Int32
	switches atomic.Int64
	closed   atomic.Bool
	done     chan struct{}
}

// NewWriter 创建写入器并启动发射协程
func NewWriter(sink Sink, opts Options, logger *zap.Logger) *Writer {
	w := &Writer{
		sink:   sink,
		opts:   opts.withDefaults(),
		logger: logger,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	if !w.opts.Adaptive {
		w.mode.Store(int32(w.opts.ForceMode))
	}
	safego.Go(logger, "sse-writer", w.run)
	return w
}

// Append 追加待推送的内容增量
func (w *Writer) Append(delta string) {
	if delta == "" || w.closed.Load() {
		return
	}
	w.pending.Add(int64(len([]rune(delta))))
	w.enqueue(op{kind: opContent, text: delta})
}

// Event 推送一个完整事件帧，排在已入队的内容之后
func (w *Writer) Event(event *entity.ChatEvent) error {
	if w.closed.Load() {
		return fmt.Errorf("sse writer closed")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	w.enqueue(op{kind: opEvent, payload: payload})
	return nil
}

// ResetContent 清空累计内容。工具回合结束后新一轮回答从头累计。
func (w *Writer) ResetContent() {
	if w.closed.Load() {
		return
	}
	w.enqueue(op{kind: opReset})
}

// Comment 推送注释帧，心跳用
func (w *Writer) Comment(text string) {
	if w.closed.Load() {
		return
	}
	w.enqueue(op{kind: opComment, text: text})
}

func (w *Writer) enqueue(o op) {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, o)
	w.cond.Signal()
	w.mu.Unlock()
}

// Close 停止接收新帧，排空队列后返回
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closing = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
	w.closed.Store(true)
}

// IsClosed 客户端断开或写入器已关闭
func (w *Writer) IsClosed() bool {
	return w.closed.Load() || w.sink.IsClosed()
}

// Mode 当前输出模式
func (w *Writer) Mode() Mode {
	return Mode(w.mode.Load())
}

// Switches 模式切换次数
func (w *Writer) Switches() int64 {
	return w.switches.Load()
}

// Pending 未推送的内容字符数
func (w *Writer) Pending() int64 {
	return w.pending.Load()
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closing {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		next := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if w.sink.IsClosed() {
			w.abort()
			return
		}

		switch next.kind {
		case opEvent:
			if err := w.sink.WriteFrame(next.payload); err != nil {
				w.abort()
				return
			}
		case opComment:
			if err := w.sink.WriteComment(next.text); err != nil {
				w.abort()
				return
			}
		case opContent:
			if !w.emitContent(next.text) {
				w.abort()
				return
			}
		case opReset:
			w.emitted = w.emitted[:0]
		}
	}
}

// emitContent 按当前模式推送内容增量，返回 false 表示客户端已断开
func (w *Writer) emitContent(delta string) bool {
	runes := []rune(delta)
	for idx := 0; idx < len(runes); {
		if w.sink.IsClosed() {
			return false
		}
		switch w.decideMode() {
		case ModeChunk:
			rest := runes[idx:]
			w.emitted = append(w.emitted, rest...)
			w.pending.Add(-int64(len(rest)))
			idx = len(runes)
			if !w.writeCumulative() {
				return false
			}
			time.Sleep(w.opts.ChunkDelay)
		default:
			w.emitted = append(w.emitted, runes[idx])
			idx++
			w.pending.Add(-1)
			if !w.writeCumulative() {
				return false
			}
			time.Sleep(w.opts.CharDelay)
		}
	}
	// 排空后立刻重估模式，避免停留在块模式
	w.decideMode()
	return true
}

func (w *Writer) writeCumulative() bool {
	payload, err := json.Marshal(&entity.ChatEvent{Content: string(w.emitted)})
	if err != nil {
		return false
	}
	return w.sink.WriteFrame(payload) == nil
}

// decideMode 按积压量决定模式，每次切换计数
func (w *Writer) decideMode() Mode {
	if !w.opts.Adaptive {
		return w.opts.ForceMode
	}
	current := Mode(w.mode.Load())
	p := int(w.pending.Load())
	switch {
	case current == ModeCharacter && p > w.opts.BackpressureThreshold:
		w.mode.Store(int32(ModeChunk))
		w.switches.Add(1)
		w.logger.Debug("背压切换到块模式", zap.Int("pending", p))
		return ModeChunk
	case current == ModeChunk && p < w.opts.BackpressureThreshold/2:
		w.mode.Store(int32(ModeCharacter))
		w.switches.Add(1)
		w.logger.Debug("回落到逐字模式", zap.Int("pending", p))
		return ModeCharacter
	}
	return current
}

// abort 客户端断开后的收尾：标记关闭并清空积压计数
func (w *Writer) abort() {
	w.closed.Store(true)
	w.pending.Store(0)
	w.mu.Lock()
	w.queue = nil
	w.closing = true
	w.mu.Unlock()
}

// HTTPSink http.ResponseWriter 上的帧输出
type HTTPSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	mu      sync.Mutex
	closed  atomic.Bool
}

// NewHTTPSink 创建 SSE 输出并写响应头
func NewHTTPSink(ctx context.Context, w http.ResponseWriter) (*HTTPSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &HTTPSink{w: w, flusher: flusher, ctx: ctx}, nil
}

// WriteFrame 写一帧 data 负载
func (s *HTTPSink) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsClosed() {
		return fmt.Errorf("client disconnected")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.closed.Store(true)
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteComment 写注释帧
func (s *HTTPSink) WriteComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsClosed() {
		return fmt.Errorf("client disconnected")
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		s.closed.Store(true)
		return err
	}
	s.flusher.Flush()
	return nil
}

// IsClosed 客户端是否断开
func (s *HTTPSink) IsClosed() bool {
	if s.closed.Load() {
		return true
	}
	select {
	case <-s.ctx.Done():
		s.closed.Store(true)
		return true
	default:
		return false
	}
}

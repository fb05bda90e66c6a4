package service

import (
	"fmt"
	"sync"
	"time"
)

// StreamPhase 一条聊天流的生命周期阶段
type StreamPhase string

const (
	// PhaseInit 已接入，init 事件尚未发出
	PhaseInit StreamPhase = "init"
	// PhaseStreaming 正在转发模型输出
	PhaseStreaming StreamPhase = "streaming"
	// PhaseToolExec 正在执行工具
	PhaseToolExec StreamPhase = "tool_exec"
	// PhaseDone 正常完成，终态
	PhaseDone StreamPhase = "done"
	// PhaseError 出错终止，终态
	PhaseError StreamPhase = "error"
	// PhaseDisconnected 客户端断连，终态
	PhaseDisconnected StreamPhase = "disconnected"
)

// streamTransitions 合法的阶段迁移
var streamTransitions = map[StreamPhase]map[StreamPhase]bool{
	PhaseInit: {
		PhaseStreaming:    true,
		PhaseError:        true,
		PhaseDisconnected: true,
	},
	PhaseStreaming: {
		PhaseToolExec:     true,
		PhaseDone:         true,
		PhaseError:        true,
		PhaseDisconnected: true,
	},
	PhaseToolExec: {
		PhaseStreaming:    true,
		PhaseError:        true,
		PhaseDisconnected: true,
	},
	// 终态不再迁移
	PhaseDone:         {},
	PhaseError:        {},
	PhaseDisconnected: {},
}

// StreamSnapshot 流状态快照
type StreamSnapshot struct {
	Phase        StreamPhase   `json:"phase"`
	Iterations   int           `json:"iterations"`
	ToolCalls    int           `json:"toolCalls"`
	ContentChars int           `json:"contentChars"`
	TokensUsed   int           `json:"tokensUsed"`
	Model        string        `json:"model,omitempty"`
	LastTool     string        `json:"lastTool,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// StreamState 单条聊天流的状态机。
// 终态只能进入一次，终止事件和槽位释放都以此为据，可被多协程读取。
type StreamState struct {
	mu           sync.RWMutex
	phase        StreamPhase
	iterations   int
	toolCalls    int
	contentChars int
	tokensUsed   int
	model        string
	lastTool     string
	startedAt    time.Time
}

// NewStreamState 创建流状态机，初始阶段为 init
func NewStreamState() *StreamState {
	return &StreamState{
		phase:     PhaseInit,
		startedAt: time.Now(),
	}
}

// Phase 当前阶段
func (s *StreamState) Phase() StreamPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Transition 尝试迁移到新阶段，非法迁移返回错误
func (s *StreamState) Transition(to StreamPhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed, ok := streamTransitions[s.phase]
	if !ok || !allowed[to] {
		return fmt.Errorf("invalid stream transition: %s → %s", s.phase, to)
	}
	s.phase = to
	return nil
}

// TryFinish 尝试进入终态。返回 true 表示本次调用完成了迁移，
// 已处于终态时返回 false，调用方据此保证终止动作只执行一次。
func (s *StreamState) TryFinish(to StreamPhase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminalLocked() {
		return false
	}
	allowed, ok := streamTransitions[s.phase]
	if !ok || !allowed[to] {
		return false
	}
	s.phase = to
	return true
}

// IsTerminal 是否已处于终态
func (s *StreamState) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminalLocked()
}

func (s *StreamState) terminalLocked() bool {
	switch s.phase {
	case PhaseDone, PhaseError, PhaseDisconnected:
		return true
	}
	return false
}

// Snapshot 返回状态快照
func (s *StreamState) Snapshot() StreamSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamSnapshot{
		Phase:        s.phase,
		Iterations:   s.iterations,
		ToolCalls:    s.toolCalls,
		ContentChars: s.contentChars,
		TokensUsed:   s.tokensUsed,
		Model:        s.model,
		LastTool:     s.lastTool,
		Elapsed:      time.Since(s.startedAt),
	}
}

// RecordIteration 记录一次模型往返
func (s *StreamState) RecordIteration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
}

// RecordToolCall 记录一次工具调用
func (s *StreamState) RecordToolCall(toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls++
	s.lastTool = toolName
}

// RecordContent 累计转发的字符数
func (s *StreamState) RecordContent(chars int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contentChars += chars
}

// AddTokens 累计消耗的 token 数
func (s *StreamState) AddTokens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokensUsed += n
}

// SetModel 记录实际使用的模型
func (s *StreamState) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

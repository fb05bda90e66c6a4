package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/orchestration"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/domain/service"
	domaintool "github.com/nexchat/gateway/internal/domain/tool"
	"github.com/nexchat/gateway/internal/infrastructure/llm"
	"github.com/nexchat/gateway/internal/infrastructure/llm/protocol"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
)

// StreamEmitter 面向客户端的流式输出，SSE 和 WebSocket 各有实现
type StreamEmitter interface {
	// Append 追加内容增量，输出侧累计成全文推送
	Append(delta string)
	// ResetContent 清空累计内容，工具回合后新一轮回答从头开始
	ResetContent()
	// Event 推送完整事件帧
	Event(event *entity.ChatEvent) error
	// Comment 推送心跳帧
	Comment(text string)
	// IsClosed 客户端是否已断开
	IsClosed() bool
}

// ChatInput 一次聊天请求
type ChatInput struct {
	UserID          string
	ConversationID  string
	Content         string
	ClientMessageID string
	RequestID       string
	ModelType       string
}

// historyWindow 带进上下文的历史消息条数
const historyWindow = 20

// progressFlushInterval 进度落盘的时间阈值
const progressFlushInterval = time.Second

// progressFlushChars 进度落盘的字符阈值
const progressFlushChars = 100

// ChatStreamUseCase 单轮流式对话。
//
// 准入由接入层完成，这里负责会话与消息落盘、模型流消费、
// 工具回合递归和断点进度维护。
type ChatStreamUseCase struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	progress      repository.StreamProgressRepository
	queue         *llm.Queue
	provider      llm.Provider
	adapters      *protocol.Registry
	invoker       orchestration.Invoker
	runner        *orchestration.Runner
	registry      domaintool.Registry
	archiver      *scheduler.LRUScheduler
	monitor       *monitoring.Monitor
	heartbeat     time.Duration
	logger        *zap.Logger
}

// NewChatStreamUseCase 创建聊天用例
func NewChatStreamUseCase(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	progress repository.StreamProgressRepository,
	queue *llm.Queue,
	provider llm.Provider,
	adapters *protocol.Registry,
	invoker orchestration.Invoker,
	registry domaintool.Registry,
	archiver *scheduler.LRUScheduler,
	monitor *monitoring.Monitor,
	heartbeat time.Duration,
	logger *zap.Logger,
) *ChatStreamUseCase {
	return &ChatStreamUseCase{
		conversations: conversations,
		messages:      messages,
		progress:      progress,
		queue:         queue,
		provider:      provider,
		adapters:      adapters,
		invoker:       invoker,
		runner:        orchestration.NewRunner(invoker, logger),
		registry:      registry,
		archiver:      archiver,
		monitor:       monitor,
		heartbeat:     heartbeat,
		logger:        logger,
	}
}

// turnResult 一次模型调用的产出
type turnResult struct {
	raw       string
	toolCalls []llm.ToolCall
	finish    string
	model     string
	tokens    int
}

// Execute 处理一次聊天请求，入参已通过准入
func (uc *ChatStreamUseCase) Execute(ctx context.Context, input ChatInput, out StreamEmitter) error {
	start := time.Now()
	uc.monitor.IncRequestTotal()

	conv, userMsg, err := uc.prepare(ctx, input)
	if err != nil {
		uc.monitor.IncRequestFailed()
		uc.emitError(out, err.Error())
		return err
	}

	assistant := entity.NewAssistantMessage(conv.ID, input.UserID, "")
	if err := out.Event(entity.NewInitEvent(conv.ID, userMsg.ID, assistant.ID)); err != nil {
		uc.monitor.IncRequestFailed()
		return err
	}

	hb := service.NewHeartbeat(uc.heartbeat, func() error {
		if out.IsClosed() {
			return fmt.Errorf("client disconnected")
		}
		out.Comment("heartbeat")
		uc.monitor.IncHeartbeat()
		return nil
	}, uc.logger)
	hb.Start(ctx)
	defer hb.Stop()

	prog := entity.NewStreamProgress(assistant.ID, conv.ID, input.UserID)
	state := &streamCursor{progress: prog}

	// 流生命周期状态机：终态只进一次，收尾动作以 TryFinish 的结果为准
	life := service.NewStreamState()
	_ = life.Transition(service.PhaseStreaming)

	msgs, err := uc.buildMessages(ctx, conv.ID, input.UserID, input.Content)
	if err != nil {
		uc.monitor.IncRequestFailed()
		uc.emitError(out, err.Error())
		return err
	}

	ec := domaintool.ExecContext{
		UserID:         input.UserID,
		ConversationID: conv.ID,
		RequestID:      input.RequestID,
		Timestamp:      time.Now().UTC(),
	}

	flow := service.NewToolFlow(service.DefaultToolFlowConfig())
	var sources []entity.Source
	var tokens int

	for {
		life.RecordIteration()
		turn, err := uc.streamTurn(ctx, input, msgs, out, state)
		if err != nil {
			life.TryFinish(service.PhaseError)
			uc.finishWithError(ctx, out, assistant, state, err)
			uc.monitor.IncRequestFailed()
			return err
		}
		tokens += turn.tokens
		life.AddTokens(turn.tokens)
		if turn.model != "" {
			life.SetModel(turn.model)
		}

		visible, thinking := service.SplitThinking(turn.raw)
		life.RecordContent(len(visible))

		// 归一化本回合的工具调用：流式 tool_calls 优先，其次正文里的 <tool_call> 标签
		invocations := uc.collectInvocations(turn, &visible)
		if len(invocations) == 0 {
			// 文本回合结束，落盘并收尾
			assistant.Complete(visible, thinking, sources, tokens, time.Since(start))
			if err := uc.persistFinal(ctx, conv, assistant, state); err != nil {
				uc.monitor.IncRequestFailed()
				uc.emitError(out, err.Error())
				return err
			}
			if err := out.Event(entity.NewDoneEvent(conv.ID, assistant.ID, sources)); err != nil {
				uc.monitor.IncStreamAborted()
			}
			uc.monitor.IncRequestSuccess()
			uc.monitor.RecordRequestLatency(time.Since(start))
			if life.TryFinish(service.PhaseDone) {
				snap := life.Snapshot()
				uc.logger.Info("聊天流完成",
					zap.String("conversationId", conv.ID),
					zap.Int("iterations", snap.Iterations),
					zap.Int("toolCalls", snap.ToolCalls),
					zap.Int("tokens", snap.TokensUsed),
					zap.Duration("elapsed", snap.Elapsed))
			}
			return nil
		}

		if err := flow.Begin(); err != nil {
			life.TryFinish(service.PhaseError)
			uc.finishWithError(ctx, out, assistant, state, err)
			uc.monitor.IncRequestFailed()
			return err
		}
		_ = life.Transition(service.PhaseToolExec)

		if out.IsClosed() {
			life.TryFinish(service.PhaseDisconnected)
			uc.persistPartial(ctx, assistant, state)
			uc.monitor.IncStreamAborted()
			return fmt.Errorf("client disconnected during tool round")
		}

		// 整个回合是一条线性计划：后续步骤的参数可以用 ${stepN.data.x}
		// 引用之前步骤的结果，单步失败不阻断剩余步骤
		calls := make([]orchestration.Call, 0, len(invocations))
		for _, inv := range invocations {
			life.RecordToolCall(inv.invocation.ToolName)
			uc.monitor.IncToolCallTotal()
			if err := out.Event(entity.NewToolCallEvent(inv.invocation.ToolName, inv.invocation.Params)); err != nil {
				uc.logger.Debug("工具事件推送失败", zap.Error(err))
			}
			calls = append(calls, orchestration.Call{Tool: inv.invocation.ToolName, Params: inv.invocation.Params})
		}
		plan, planErr := orchestration.FromCalls(calls)
		if planErr != nil {
			life.TryFinish(service.PhaseError)
			uc.finishWithError(ctx, out, assistant, state, planErr)
			uc.monitor.IncRequestFailed()
			return planErr
		}
		planRes, _ := uc.runner.Run(ctx, plan, ec)

		for i, inv := range invocations {
			result := stepResult(planRes, i, inv.invocation.ToolName)
			uc.monitor.RecordToolLatency(result.Duration)

			formatted := inv.adapter.FormatResult(result, ec)
			sources = append(sources, formatted.Sources...)

			if result.Success {
				uc.monitor.IncToolCallSuccess()
				if result.FromCache {
					uc.monitor.IncToolCallCached()
				}
				flow.RecordSuccess(inv.invocation.ToolName)
			} else {
				uc.monitor.IncToolCallFailed()
				flow.RecordError(inv.invocation.ToolName)
			}

			// 工具回合写两条：助手侧的当前文本（或占位）加用户侧的工具结果
			assistantText := visible
			if strings.TrimSpace(assistantText) == "" {
				assistantText = fmt.Sprintf("调用工具 %s", inv.invocation.ToolName)
			}
			msgs = append(msgs,
				llm.ChatMessage{Role: string(entity.RoleAssistant), Content: assistantText},
				llm.ChatMessage{Role: string(entity.RoleUser), Content: formatted.Text},
			)

			if flow.ShouldAbort() {
				abortErr := fmt.Errorf("连续工具调用失败，已停止重试")
				life.TryFinish(service.PhaseError)
				uc.finishWithError(ctx, out, assistant, state, abortErr)
				uc.monitor.IncRequestFailed()
				return abortErr
			}
		}
		_ = life.Transition(service.PhaseStreaming)

		// 工具结果回灌后开启新回合，客户端侧内容从头累计
		out.ResetContent()
		state.reset()
	}
}

// boundInvocation 归一化调用与产出它的适配器
type boundInvocation struct {
	invocation *protocol.ToolInvocation
	adapter    protocol.Adapter
}

// stepResult 取计划中第 i 步的结果，缺失按失败处理
func stepResult(res *orchestration.PlanResult, i int, toolName string) *domaintool.Result {
	if res != nil {
		if oc, ok := res.Outcomes[fmt.Sprintf("step%d", i+1)]; ok && oc.Result != nil {
			return oc.Result
		}
	}
	return domaintool.Fail(toolName, "step not executed")
}

// collectInvocations 归一化一回合的全部工具调用。
// 正文里的 <tool_call> 标签命中时会同步剔除正文。
func (uc *ChatStreamUseCase) collectInvocations(turn *turnResult, visible *string) []boundInvocation {
	var out []boundInvocation
	for _, call := range turn.toolCalls {
		inv, adapter, err := uc.adapters.Normalize(call)
		if err != nil {
			uc.logger.Warn("工具调用归一化失败",
				zap.String("tool", call.Name),
				zap.Error(err))
			continue
		}
		out = append(out, boundInvocation{invocation: inv, adapter: adapter})
	}

	if len(out) == 0 && protocol.HasInTextCall(*visible) {
		if inv, adapter, remaining, ok := uc.adapters.ExtractInText(*visible); ok {
			*visible = remaining
			out = append(out, boundInvocation{invocation: inv, adapter: adapter})
		}
	}
	return out
}

// streamCursor 跨回合维护流式进度与已推送文本
type streamCursor struct {
	progress    *entity.StreamProgress
	prevVisible string
	thinking    string
	lastFlush   time.Time
	lastLen     int
	persisted   bool
}

func (s *streamCursor) reset() {
	s.prevVisible = ""
	s.lastLen = 0
}

// push 把新增的可见文本推给客户端并按阈值落盘进度
func (s *streamCursor) push(ctx context.Context, raw string, out StreamEmitter, store repository.StreamProgressRepository, logger *zap.Logger) {
	visible, thinking := service.SplitThinking(raw)

	if strings.HasPrefix(visible, s.prevVisible) {
		out.Append(visible[len(s.prevVisible):])
	} else {
		// think 标签闭合后可见文本会整体变化，重推全文
		out.ResetContent()
		out.Append(visible)
	}
	s.prevVisible = visible
	s.thinking = thinking

	if time.Since(s.lastFlush) >= progressFlushInterval || len(visible)-s.lastLen >= progressFlushChars {
		s.progress.Advance(visible, thinking)
		if err := store.Upsert(ctx, s.progress); err != nil {
			logger.Debug("进度落盘失败", zap.Error(err))
		}
		s.lastFlush = time.Now()
		s.lastLen = len(visible)
	}
}

// streamTurn 经优先级队列执行一次模型流式调用
func (uc *ChatStreamUseCase) streamTurn(ctx context.Context, input ChatInput, msgs []llm.ChatMessage, out StreamEmitter, state *streamCursor) (*turnResult, error) {
	turn := &turnResult{}

	err := uc.queue.Enqueue(ctx, llm.QueueOptions{Role: llm.RoleSingle}, func(execCtx context.Context) error {
		uc.monitor.IncModelCall()

		req := &llm.ChatRequest{
			Model:    input.ModelType,
			Messages: msgs,
			Tools:    uc.registry.Definitions(),
		}
		deltas, err := uc.provider.ChatStream(execCtx, req)
		if err != nil {
			return err
		}

		acc := llm.NewToolCallAccumulator()
		for delta := range deltas {
			if delta.Err != nil {
				return delta.Err
			}
			for _, tc := range delta.ToolCalls {
				acc.Add(tc)
			}
			if delta.Content != "" {
				turn.raw += delta.Content
				state.push(execCtx, turn.raw, out, uc.progress, uc.logger)
			}
			if delta.TokensUsed > 0 {
				turn.tokens = delta.TokensUsed
			}
			if delta.Model != "" {
				turn.model = delta.Model
			}
			if delta.FinishReason != "" {
				turn.finish = delta.FinishReason
			}
		}
		turn.toolCalls = acc.Calls()
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.monitor.AddTokensUsed(turn.tokens)
	return turn, nil
}

// prepare 建会话、幂等写入用户消息并触发归档检查
func (uc *ChatStreamUseCase) prepare(ctx context.Context, input ChatInput) (*entity.Conversation, *entity.Message, error) {
	return prepareTurn(ctx, input, uc.conversations, uc.messages, uc.archiver, uc.logger)
}

// prepareTurn 聊天与多智能体入口共用的请求前置：
// 建会话、幂等写入用户消息、刷新访问时间并触发归档检查。
func prepareTurn(
	ctx context.Context,
	input ChatInput,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	archiver *scheduler.LRUScheduler,
	logger *zap.Logger,
) (*entity.Conversation, *entity.Message, error) {
	var conv *entity.Conversation
	var err error
	if input.ConversationID != "" {
		conv, err = conversations.FindByID(ctx, input.ConversationID, input.UserID)
	} else {
		conv = entity.NewConversation(input.UserID, "", input.ModelType)
		err = conversations.Save(ctx, conv)
	}
	if err != nil {
		return nil, nil, err
	}

	userMsg := entity.NewUserMessage(conv.ID, input.UserID, input.Content, input.ClientMessageID)
	duplicate := false
	if input.ClientMessageID != "" {
		duplicate, err = messages.ExistsByClientMessageID(ctx, conv.ID, input.ClientMessageID)
		if err != nil {
			return nil, nil, err
		}
	}
	if !duplicate {
		if err := messages.Save(ctx, userMsg); err != nil {
			return nil, nil, err
		}
		conv.IncrementMessageCount()
		if conv.Title == "" {
			conv.Title = titleFromContent(input.Content)
		}
		if err := conversations.Update(ctx, conv); err != nil {
			return nil, nil, err
		}
	}

	archiver.Touch(ctx, conv.ID)
	if _, err := archiver.ArchiveExcessForUser(ctx, input.UserID); err != nil {
		logger.Warn("归档检查失败", zap.String("userId", input.UserID), zap.Error(err))
	}
	return conv, userMsg, nil
}

// buildMessages 取最近的历史消息拼上下文
func (uc *ChatStreamUseCase) buildMessages(ctx context.Context, conversationID, userID, content string) ([]llm.ChatMessage, error) {
	total, err := uc.messages.Count(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	offset := 0
	if total > historyWindow {
		offset = int(total) - historyWindow
	}
	history, _, err := uc.messages.FindByConversationID(ctx, conversationID, userID, historyWindow, offset)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Role != entity.RoleUser && m.Role != entity.RoleAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	// 最新的用户消息由 prepare 落盘，这里确保它在末位
	if len(msgs) == 0 || msgs[len(msgs)-1].Content != content {
		msgs = append(msgs, llm.ChatMessage{Role: string(entity.RoleUser), Content: content})
	}
	return msgs, nil
}

// persistFinal 落盘最终消息并标记进度完成
func (uc *ChatStreamUseCase) persistFinal(ctx context.Context, conv *entity.Conversation, assistant *entity.Message, state *streamCursor) error {
	if state.persisted {
		return nil
	}
	if err := uc.messages.Save(ctx, assistant); err != nil {
		return err
	}
	state.persisted = true

	conv.IncrementMessageCount()
	if err := uc.conversations.Update(ctx, conv); err != nil {
		uc.logger.Warn("更新会话计数失败", zap.Error(err))
	}

	state.progress.Advance(assistant.Content, assistant.Thinking)
	state.progress.Finish()
	if err := uc.progress.Upsert(ctx, state.progress); err != nil {
		uc.logger.Debug("完成进度落盘失败", zap.Error(err))
	}
	return nil
}

// persistPartial 断连或出错时保存已生成的部分内容
func (uc *ChatStreamUseCase) persistPartial(ctx context.Context, assistant *entity.Message, state *streamCursor) {
	if state.persisted || state.prevVisible == "" {
		return
	}
	visible, thinking := state.prevVisible, state.thinking
	assistant.MarkPartial(visible, thinking)
	if err := uc.messages.Save(ctx, assistant); err != nil {
		uc.logger.Warn("部分内容落盘失败", zap.Error(err))
		return
	}
	state.persisted = true

	state.progress.Advance(visible, thinking)
	state.progress.Fail()
	if err := uc.progress.Upsert(ctx, state.progress); err != nil {
		uc.logger.Debug("进度落盘失败", zap.Error(err))
	}
}

func (uc *ChatStreamUseCase) finishWithError(ctx context.Context, out StreamEmitter, assistant *entity.Message, state *streamCursor, cause error) {
	uc.emitError(out, cause.Error())
	uc.persistPartial(ctx, assistant, state)
}

func (uc *ChatStreamUseCase) emitError(out StreamEmitter, message string) {
	if out.IsClosed() {
		return
	}
	if err := out.Event(entity.NewErrorEvent(message)); err != nil {
		uc.logger.Debug("错误事件推送失败", zap.Error(err))
	}
}

// titleFromContent 用首条消息的前若干字符当标题
func titleFromContent(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > 20 {
		return string(runes[:20])
	}
	return string(runes)
}

package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/domain/service"
	"github.com/nexchat/gateway/internal/infrastructure/llm"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
)

// defaultAgentRounds 多智能体流水线默认轮数
const defaultAgentRounds = 5

// MultiAgentInput 一次多智能体请求。
// ResumeFromRound 大于 0 时按 AssistantMessageID 找断点续跑。
type MultiAgentInput struct {
	UserID             string
	ConversationID     string
	Content            string
	ClientMessageID    string
	RequestID          string
	ModelType          string
	TotalRounds        int
	ResumeFromRound    int
	AssistantMessageID string
}

// MultiAgentUseCase 固定角色流水线的多轮编排。
//
// 主持人 → 规划者 → 评审者 → 汇报者 → 汇报者（终稿），一轮一个角色。
// 每轮经优先级队列执行，轮次结果幂等落盘，断线后可从已完成的轮次续跑。
type MultiAgentUseCase struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	progress      repository.StreamProgressRepository
	sessions      repository.AgentSessionRepository
	queue         *llm.Queue
	provider      llm.Provider
	archiver      *scheduler.LRUScheduler
	monitor       *monitoring.Monitor
	heartbeat     time.Duration
	logger        *zap.Logger
}

// NewMultiAgentUseCase 创建多智能体用例
func NewMultiAgentUseCase(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	progress repository.StreamProgressRepository,
	sessions repository.AgentSessionRepository,
	queue *llm.Queue,
	provider llm.Provider,
	archiver *scheduler.LRUScheduler,
	monitor *monitoring.Monitor,
	heartbeat time.Duration,
	logger *zap.Logger,
) *MultiAgentUseCase {
	return &MultiAgentUseCase{
		conversations: conversations,
		messages:      messages,
		progress:      progress,
		sessions:      sessions,
		queue:         queue,
		provider:      provider,
		archiver:      archiver,
		monitor:       monitor,
		heartbeat:     heartbeat,
		logger:        logger,
	}
}

// Execute 跑完整条流水线（或从断点续跑）
func (uc *MultiAgentUseCase) Execute(ctx context.Context, input MultiAgentInput, out StreamEmitter) error {
	start := time.Now()
	uc.monitor.IncRequestTotal()

	if input.TotalRounds <= 0 {
		input.TotalRounds = defaultAgentRounds
	}

	conv, userMsg, err := prepareTurn(ctx, ChatInput{
		UserID:          input.UserID,
		ConversationID:  input.ConversationID,
		Content:         input.Content,
		ClientMessageID: input.ClientMessageID,
		RequestID:       input.RequestID,
		ModelType:       input.ModelType,
	}, uc.conversations, uc.messages, uc.archiver, uc.logger)
	if err != nil {
		uc.monitor.IncRequestFailed()
		uc.emitError(out, err.Error())
		return err
	}

	assistant := entity.NewAssistantMessage(conv.ID, input.UserID, "")
	session, startRound := uc.resolveSession(ctx, conv.ID, input, assistant)

	if err := out.Event(entity.NewInitEvent(conv.ID, userMsg.ID, session.AssistantMessageID)); err != nil {
		uc.monitor.IncRequestFailed()
		return err
	}
	if startRound > 1 {
		uc.monitor.IncStreamResumed()
		if err := out.Event(entity.NewResumeEvent(session.CompletedRounds, startRound)); err != nil {
			uc.monitor.IncRequestFailed()
			return err
		}
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

	prog := entity.NewStreamProgress(session.AssistantMessageID, conv.ID, input.UserID)
	state := &streamCursor{progress: prog}
	var tokens int

	for round := startRound; round <= session.TotalRounds; round++ {
		if out.IsClosed() {
			// 断点已随上一轮落盘，续跑时从这里接上
			uc.monitor.IncStreamAborted()
			return fmt.Errorf("client disconnected before round %d", round)
		}

		role := pipelineRole(round, session.TotalRounds)
		final := round == session.TotalRounds

		var raw string
		var roundTokens int
		err := uc.queue.Enqueue(ctx, llm.QueueOptions{Role: role}, func(execCtx context.Context) error {
			uc.monitor.IncModelCall()
			req := &llm.ChatRequest{
				Model:    input.ModelType,
				Messages: roundMessages(role, final, input.Content, session.Rounds),
			}
			deltas, err := uc.provider.ChatStream(execCtx, req)
			if err != nil {
				return err
			}
			if !final {
				result, err := llm.Collect(execCtx, deltas)
				if err != nil {
					return err
				}
				raw = result.Content
				roundTokens = result.TokensUsed
				return nil
			}
			// 终稿轮直接推给客户端
			for delta := range deltas {
				if delta.Err != nil {
					return delta.Err
				}
				if delta.Content != "" {
					raw += delta.Content
					state.push(execCtx, raw, out, uc.progress, uc.logger)
				}
				if delta.TokensUsed > 0 {
					roundTokens = delta.TokensUsed
				}
			}
			return nil
		})
		if err != nil {
			uc.emitError(out, err.Error())
			uc.persistFinalRoundPartial(ctx, assistant, state)
			uc.monitor.IncRequestFailed()
			return err
		}
		tokens += roundTokens

		visible, thinking := service.SplitThinking(raw)
		session.RecordRound(entity.RoundOutput{Round: round, Role: string(role), Content: visible})
		if final {
			session.Complete()
		}
		if err := uc.sessions.Save(ctx, session); err != nil {
			uc.logger.Warn("会话断点落盘失败",
				zap.String("sessionId", session.ID),
				zap.Error(err))
		}

		if final {
			assistant.Complete(visible, thinking, nil, tokens, time.Since(start))
			if err := uc.persistFinal(ctx, conv, assistant, state); err != nil {
				uc.monitor.IncRequestFailed()
				uc.emitError(out, err.Error())
				return err
			}
		}
	}

	if err := out.Event(entity.NewSessionCompleteEvent(session.TotalRounds)); err != nil {
		uc.monitor.IncStreamAborted()
	}
	if err := out.Event(entity.NewDoneEvent(conv.ID, session.AssistantMessageID, nil)); err != nil {
		uc.monitor.IncStreamAborted()
	}
	uc.monitor.IncRequestSuccess()
	uc.monitor.RecordRequestLatency(time.Since(start))
	return nil
}

// resolveSession 找断点或建新会话，返回起始轮次。
// 断点缺失或过期时从第一轮重来。
func (uc *MultiAgentUseCase) resolveSession(ctx context.Context, conversationID string, input MultiAgentInput, assistant *entity.Message) (*entity.AgentSession, int) {
	if input.ResumeFromRound > 0 && input.AssistantMessageID != "" {
		session, err := uc.sessions.Find(ctx, conversationID, input.UserID, input.AssistantMessageID)
		if err == nil && session != nil && session.CompletedRounds > 0 && session.Status == entity.SessionStatusRunning {
			assistant.ID = session.AssistantMessageID
			return session, session.CompletedRounds + 1
		}
		uc.logger.Info("会话断点缺失或已过期，从头开始",
			zap.String("conversationId", conversationID),
			zap.String("assistantMessageId", input.AssistantMessageID))
	}
	session := entity.NewAgentSession(conversationID, input.UserID, assistant.ID, input.TotalRounds)
	return session, 1
}

// persistFinal 落盘终稿并标记进度完成
func (uc *MultiAgentUseCase) persistFinal(ctx context.Context, conv *entity.Conversation, assistant *entity.Message, state *streamCursor) error {
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

// persistFinalRoundPartial 终稿轮中途失败时保存已生成的部分
func (uc *MultiAgentUseCase) persistFinalRoundPartial(ctx context.Context, assistant *entity.Message, state *streamCursor) {
	if state.persisted || state.prevVisible == "" {
		return
	}
	assistant.MarkPartial(state.prevVisible, state.thinking)
	if err := uc.messages.Save(ctx, assistant); err != nil {
		uc.logger.Warn("部分内容落盘失败", zap.Error(err))
		return
	}
	state.persisted = true

	state.progress.Advance(state.prevVisible, state.thinking)
	state.progress.Fail()
	if err := uc.progress.Upsert(ctx, state.progress); err != nil {
		uc.logger.Debug("进度落盘失败", zap.Error(err))
	}
}

func (uc *MultiAgentUseCase) emitError(out StreamEmitter, message string) {
	if out.IsClosed() {
		return
	}
	if err := out.Event(entity.NewErrorEvent(message)); err != nil {
		uc.logger.Debug("错误事件推送失败", zap.Error(err))
	}
}

// pipelineRole 轮次到角色的映射：前几轮依次走固定流水线，
// 超出的轮次和末轮都由汇报者承担。
func pipelineRole(round, total int) llm.Role {
	if round == total {
		return llm.RoleReporter
	}
	pipeline := []llm.Role{llm.RoleHost, llm.RolePlanner, llm.RoleCritic, llm.RoleReporter}
	if round-1 < len(pipeline) {
		return pipeline[round-1]
	}
	return llm.RoleReporter
}

// agentSystemPrompts 各角色的系统提示
var agentSystemPrompts = map[llm.Role]string{
	llm.RoleHost:     "你是圆桌讨论的主持人。理解用户的问题，拆解出需要讨论的关键点，不直接给出结论。",
	llm.RolePlanner:  "你是规划者。基于主持人拆解的要点，给出具体可执行的方案。",
	llm.RoleCritic:   "你是评审者。审视已有方案，指出疏漏、风险和待确认的假设。",
	llm.RoleReporter: "你是汇报者。综合前面各轮的讨论，给出修订后的结论。",
}

// finalReporterPrompt 终稿轮的系统提示
const finalReporterPrompt = "你是汇报者。综合整场讨论，面向用户输出完整、清晰的最终回答，不要提及讨论过程。"

// roundMessages 组装某一轮的上下文：系统提示、用户问题和已完成轮次的转写
func roundMessages(role llm.Role, final bool, userContent string, rounds []entity.RoundOutput) []llm.ChatMessage {
	system := agentSystemPrompts[role]
	if final {
		system = finalReporterPrompt
	}

	msgs := []llm.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: userContent},
	}
	if len(rounds) == 0 {
		return msgs
	}

	var sb strings.Builder
	sb.WriteString("以下是此前各轮的讨论记录：\n")
	for _, r := range rounds {
		sb.WriteString(fmt.Sprintf("\n[第 %d 轮 · %s]\n%s\n", r.Round, r.Role, r.Content))
	}
	msgs = append(msgs, llm.ChatMessage{Role: "user", Content: sb.String()})
	return msgs
}

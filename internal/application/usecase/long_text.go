package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/longtext"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/domain/service"
	"github.com/nexchat/gateway/internal/infrastructure/embedding"
	"github.com/nexchat/gateway/internal/infrastructure/llm"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
)

// semanticDedupThreshold 任务标题的语义去重相似度阈值
const semanticDedupThreshold = 0.92

// LongTextOptions 长文本处理选项
type LongTextOptions struct {
	// SemanticDedup 配置了向量服务时对任务做语义去重
	SemanticDedup bool `json:"semanticDedup"`
	// MaxChunks 分片数上限覆盖，0 用默认
	MaxChunks int `json:"maxChunks"`
}

// LongTextInput 一次长文本评审请求
type LongTextInput struct {
	UserID          string
	ConversationID  string
	Content         string
	ClientMessageID string
	RequestID       string
	ModelType       string
	Options         LongTextOptions
}

// LongTextUseCase 长文本的分片-提取-归并流水线。
//
// 正文切片后逐片走 map 提取，归并去重，最后渲染汇总提示词
// 把终稿流式推给客户端。客户端断开时在片间中止，不落终稿。
type LongTextUseCase struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	progress      repository.StreamProgressRepository
	queue         *llm.Queue
	provider      llm.Provider
	embedder      embedding.Embedder
	archiver      *scheduler.LRUScheduler
	monitor       *monitoring.Monitor
	heartbeat     time.Duration
	logger        *zap.Logger
}

// NewLongTextUseCase 创建长文本用例。embedder 可为 nil，此时跳过语义去重。
func NewLongTextUseCase(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	progress repository.StreamProgressRepository,
	queue *llm.Queue,
	provider llm.Provider,
	embedder embedding.Embedder,
	archiver *scheduler.LRUScheduler,
	monitor *monitoring.Monitor,
	heartbeat time.Duration,
	logger *zap.Logger,
) *LongTextUseCase {
	return &LongTextUseCase{
		conversations: conversations,
		messages:      messages,
		progress:      progress,
		queue:         queue,
		provider:      provider,
		embedder:      embedder,
		archiver:      archiver,
		monitor:       monitor,
		heartbeat:     heartbeat,
		logger:        logger,
	}
}

// Execute 跑完整条流水线
func (uc *LongTextUseCase) Execute(ctx context.Context, input LongTextInput, out StreamEmitter) error {
	start := time.Now()
	uc.monitor.IncRequestTotal()

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

	cfg := longtext.DefaultChunkerConfig()
	if input.Options.MaxChunks > 0 {
		cfg.MaxChunks = input.Options.MaxChunks
	}
	chunks := longtext.SplitChunks(input.Content, cfg)
	if err := out.Event(entity.NewChunkingInitEvent(len(chunks), estimateSeconds(len(chunks)))); err != nil {
		uc.monitor.IncRequestFailed()
		return err
	}

	extractions, err := uc.mapChunks(ctx, input, chunks, out)
	if err != nil {
		uc.monitor.IncRequestFailed()
		return err
	}

	if err := out.Event(entity.NewChunkingProgressEvent("reduce", 0, len(chunks))); err != nil {
		uc.logger.Debug("归并进度推送失败", zap.Error(err))
	}
	merged := longtext.Merge(extractions)
	if input.Options.SemanticDedup && uc.embedder != nil {
		merged.Tasks = uc.dedupTasksBySimilarity(ctx, merged.Tasks)
	}
	if err := out.Event(entity.NewChunkingProgressEvent("final", 0, len(chunks))); err != nil {
		uc.logger.Debug("终稿进度推送失败", zap.Error(err))
	}

	// 终稿流式推送并照常落盘
	prog := entity.NewStreamProgress(assistant.ID, conv.ID, input.UserID)
	state := &streamCursor{progress: prog}
	var raw string
	var tokens int

	err = uc.queue.Enqueue(ctx, llm.QueueOptions{Role: llm.RoleSingle}, func(execCtx context.Context) error {
		uc.monitor.IncModelCall()
		req := &llm.ChatRequest{
			Model:    input.ModelType,
			Messages: reduceMessages(merged),
		}
		deltas, err := uc.provider.ChatStream(execCtx, req)
		if err != nil {
			return err
		}
		for delta := range deltas {
			if delta.Err != nil {
				return delta.Err
			}
			if delta.Content != "" {
				raw += delta.Content
				state.push(execCtx, raw, out, uc.progress, uc.logger)
			}
			if delta.TokensUsed > 0 {
				tokens = delta.TokensUsed
			}
		}
		return nil
	})
	if err != nil {
		uc.emitError(out, err.Error())
		uc.persistPartial(ctx, assistant, state)
		uc.monitor.IncRequestFailed()
		return err
	}

	visible, thinking := service.SplitThinking(raw)
	assistant.Complete(visible, thinking, nil, tokens, time.Since(start))
	if err := uc.persistFinal(ctx, conv, assistant, state); err != nil {
		uc.monitor.IncRequestFailed()
		uc.emitError(out, err.Error())
		return err
	}
	if err := out.Event(entity.NewDoneEvent(conv.ID, assistant.ID, nil)); err != nil {
		uc.monitor.IncStreamAborted()
	}
	uc.monitor.IncRequestSuccess()
	uc.monitor.RecordRequestLatency(time.Since(start))
	return nil
}

// mapChunks 逐片提取。单片解析失败只记日志，不影响其余分片。
func (uc *LongTextUseCase) mapChunks(ctx context.Context, input LongTextInput, chunks []longtext.Chunk, out StreamEmitter) ([]*longtext.Extraction, error) {
	total := len(chunks)
	extractions := make([]*longtext.Extraction, 0, total)

	for _, chunk := range chunks {
		if out.IsClosed() {
			uc.monitor.IncStreamAborted()
			return nil, fmt.Errorf("client disconnected at chunk %d/%d", chunk.Index+1, total)
		}

		if err := out.Event(entity.NewChunkingProgressEvent("map", chunk.Index+1, total)); err != nil {
			uc.logger.Debug("分片进度推送失败", zap.Error(err))
		}

		var content string
		// 批量提取让路给交互请求
		err := uc.queue.Enqueue(ctx, llm.QueueOptions{Role: llm.RoleSingle, PriorityOffset: -10}, func(execCtx context.Context) error {
			uc.monitor.IncModelCall()
			req := &llm.ChatRequest{
				Model:    input.ModelType,
				Messages: mapMessages(chunk, total),
			}
			deltas, err := uc.provider.ChatStream(execCtx, req)
			if err != nil {
				return err
			}
			result, err := llm.Collect(execCtx, deltas)
			if err != nil {
				return err
			}
			content = result.Content
			return nil
		})
		if err != nil {
			return nil, err
		}

		var summary string
		extraction, err := longtext.ParseExtraction(content)
		if err != nil {
			uc.logger.Warn("分片提取结果不可解析，按空结果处理",
				zap.Int("chunk", chunk.Index+1),
				zap.Error(err))
		} else {
			extractions = append(extractions, extraction)
			summary = extraction.Summary()
		}

		if err := out.Event(entity.NewChunkingChunkEvent(chunk.Index+1, summary)); err != nil {
			uc.logger.Debug("分片完成推送失败", zap.Error(err))
		}
	}
	return extractions, nil
}

// estimateSeconds 粗估流水线耗时：每片一次提取调用，终稿再算一次
func estimateSeconds(totalChunks int) int {
	return (totalChunks + 1) * 8
}

// dedupTasksBySimilarity 对任务标题做语义去重，先出现的保留。
// 向量服务不可用时原样返回，去重只是尽力而为。
func (uc *LongTextUseCase) dedupTasksBySimilarity(ctx context.Context, tasks []entity.Task) []entity.Task {
	if len(tasks) < 2 {
		return tasks
	}
	titles := make([]string, len(tasks))
	for i, t := range tasks {
		titles[i] = t.Title
	}
	vectors, err := uc.embedder.EmbedBatch(ctx, titles)
	if err != nil || len(vectors) != len(tasks) {
		uc.logger.Warn("任务标题向量化失败，跳过语义去重", zap.Error(err))
		return tasks
	}

	kept := make([]entity.Task, 0, len(tasks))
	keptVecs := make([][]float32, 0, len(tasks))
	for i, t := range tasks {
		duplicate := false
		for _, v := range keptVecs {
			if embedding.Cosine(vectors[i], v) >= semanticDedupThreshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, t)
		keptVecs = append(keptVecs, vectors[i])
	}
	if len(kept) < len(tasks) {
		uc.logger.Info("语义去重合并任务",
			zap.Int("before", len(tasks)),
			zap.Int("after", len(kept)))
	}
	return kept
}

// persistFinal 落盘终稿并标记进度完成
func (uc *LongTextUseCase) persistFinal(ctx context.Context, conv *entity.Conversation, assistant *entity.Message, state *streamCursor) error {
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

// persistPartial 终稿流中途失败时保存已生成的部分
func (uc *LongTextUseCase) persistPartial(ctx context.Context, assistant *entity.Message, state *streamCursor) {
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

func (uc *LongTextUseCase) emitError(out StreamEmitter, message string) {
	if out.IsClosed() {
		return
	}
	if err := out.Event(entity.NewErrorEvent(message)); err != nil {
		uc.logger.Debug("错误事件推送失败", zap.Error(err))
	}
}

// mapExtractionPrompt 分片提取的系统提示
const mapExtractionPrompt = `你是项目计划分析助手。从给定的文档片段中提取结构化信息，只输出一个 JSON 对象，格式：
{"extracted":{"goals":[],"milestones":[{"title":"","due":""}],"tasks":[{"title":"","owner":"","deadline":"","dependsOn":[]}],"metrics":[],"risks":[{"risk":"","mitigation":""}],"unknowns":[]}}
片段中没有的维度用空数组，不要输出 JSON 以外的内容。`

// mapMessages 组装单个分片的提取请求
func mapMessages(chunk longtext.Chunk, total int) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: "system", Content: mapExtractionPrompt},
		{Role: "user", Content: fmt.Sprintf("这是第 %d/%d 个片段：\n\n%s", chunk.Index+1, total, chunk.Text)},
	}
}

// reduceReportPrompt 汇总评审的系统提示
const reduceReportPrompt = `你是项目计划评审专家。基于给定的结构化提取结果，输出一份完整的计划评审报告：
先总结目标与里程碑，再逐项评审任务安排，指出风险与待澄清问题，最后给出改进建议。用清晰的标题分节。`

// reduceMessages 组装终稿请求
func reduceMessages(merged *longtext.Extraction) []llm.ChatMessage {
	var sb strings.Builder
	sb.WriteString("以下是从全文提取并归并后的结构化结果：\n\n")
	sb.WriteString(merged.ToJSON())
	return []llm.ChatMessage{
		{Role: "system", Content: reduceReportPrompt},
		{Role: "user", Content: sb.String()},
	}
}

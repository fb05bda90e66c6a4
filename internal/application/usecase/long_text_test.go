package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/infrastructure/embedding"
	"github.com/nexchat/gateway/internal/infrastructure/llm"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/infrastructure/persistence"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
)

const extractionJSON = `{"extracted":{"goals":["上线新版本"],"milestones":[{"title":"里程碑一"}],"tasks":[{"title":"编写方案"}],"metrics":["可用率"],"risks":[{"risk":"排期紧张"}],"unknowns":["预算未定"]}}`

type longTextEnv struct {
	messages repository.MessageRepository
	provider *scriptedProvider
	pipeline *LongTextUseCase
}

func newLongTextEnv(t *testing.T, embedder embedding.Embedder, respond func(call int, req *llm.ChatRequest) []llm.StreamDelta) *longTextEnv {
	t.Helper()
	logger := zap.NewNop()

	conversations := persistence.NewMemoryConversationRepository()
	messages := persistence.NewMemoryMessageRepository()
	progress := persistence.NewMemoryStreamProgressRepository()

	provider := &scriptedProvider{respond: respond}
	queue := llm.NewQueue(2, 600, 5*time.Second, logger)
	archiver := scheduler.NewLRUScheduler(conversations, scheduler.Limits{}, logger)
	monitor := monitoring.NewMonitor(logger)

	pipeline := NewLongTextUseCase(conversations, messages, progress, queue, provider, embedder,
		archiver, monitor, time.Minute, logger)

	return &longTextEnv{messages: messages, provider: provider, pipeline: pipeline}
}

// planDocument 生成一份会被切成多片的计划文档
func planDocument() string {
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		sb.WriteString(strings.Repeat("本季度需要完成的工作包括架构设计评审和灰度发布。", 80))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// mapOrReduceResponse 按提示词区分 map 调用和终稿调用
func mapOrReduceResponse(req *llm.ChatRequest) []llm.StreamDelta {
	if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "JSON") {
		return textDeltas(extractionJSON)
	}
	return textDeltas("评审报告正文")
}

func TestLongText_PipelineEndToEnd(t *testing.T) {
	env := newLongTextEnv(t, nil, func(call int, req *llm.ChatRequest) []llm.StreamDelta {
		return mapOrReduceResponse(req)
	})

	out := &fakeEmitter{}
	err := env.pipeline.Execute(context.Background(), LongTextInput{
		UserID:  "u1",
		Content: planDocument(),
	}, out)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	initEvent := out.eventOfType(entity.EventChunkingInit)
	if initEvent == nil || initEvent.TotalChunks < 2 {
		t.Fatalf("chunking_init missing or too few chunks: %+v", initEvent)
	}
	if initEvent.EstimatedSeconds <= 0 {
		t.Fatalf("chunking_init estimatedSeconds = %d, want positive", initEvent.EstimatedSeconds)
	}
	totalChunks := initEvent.TotalChunks

	// 每片一次 map 调用加一次终稿调用
	if env.provider.callCount() != totalChunks+1 {
		t.Fatalf("model calls = %d, want %d", env.provider.callCount(), totalChunks+1)
	}

	var mapEvents, chunkEvents int
	var sawReduce, sawFinal bool
	out.mu.Lock()
	for _, e := range out.events {
		switch {
		case e.Type == entity.EventChunkingProgress && e.Stage == "map":
			if e.ChunkIndex <= 0 || e.TotalChunks != totalChunks {
				t.Fatalf("map progress frame missing chunkIndex/totalChunks: %+v", e)
			}
			mapEvents++
		case e.Type == entity.EventChunkingProgress && e.Stage == "reduce":
			sawReduce = true
		case e.Type == entity.EventChunkingProgress && e.Stage == "final":
			sawFinal = true
		case e.Type == entity.EventChunkingChunk:
			if e.ChunkSummary == "" {
				t.Fatalf("chunking_chunk frame missing summary: %+v", e)
			}
			chunkEvents++
		}
	}
	out.mu.Unlock()
	if mapEvents != totalChunks || chunkEvents != totalChunks {
		t.Fatalf("map/chunk events = %d/%d, want %d each", mapEvents, chunkEvents, totalChunks)
	}
	if !sawReduce || !sawFinal {
		t.Fatal("reduce and final stage events missing")
	}

	if out.text() != "评审报告正文" {
		t.Fatalf("final content = %q", out.text())
	}

	chatInit := out.eventOfType(entity.EventInit)
	msgs, total, err := env.messages.FindByConversationID(context.Background(), chatInit.ConversationID, "u1", 10, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if total != 2 {
		t.Fatalf("persisted messages = %d, want user + final report", total)
	}
	if msgs[len(msgs)-1].Content != "评审报告正文" {
		t.Fatalf("persisted report = %q", msgs[len(msgs)-1].Content)
	}
}

func TestLongText_DisconnectAbortsWithoutFinal(t *testing.T) {
	var out *fakeEmitter
	env := newLongTextEnv(t, nil, func(call int, req *llm.ChatRequest) []llm.StreamDelta {
		if call == 0 {
			// 第一片处理完后客户端断开
			defer out.closed.Store(true)
		}
		return mapOrReduceResponse(req)
	})

	out = &fakeEmitter{}
	err := env.pipeline.Execute(context.Background(), LongTextInput{
		UserID:  "u1",
		Content: planDocument(),
	}, out)
	if err == nil {
		t.Fatal("disconnect must abort the pipeline")
	}

	chatInit := out.eventOfType(entity.EventInit)
	_, total, listErr := env.messages.FindByConversationID(context.Background(), chatInit.ConversationID, "u1", 10, 0)
	if listErr != nil {
		t.Fatalf("list messages: %v", listErr)
	}
	// 只有用户消息，终稿没有落盘
	if total != 1 {
		t.Fatalf("persisted messages = %d, want user message only", total)
	}
}

// fixedEmbedder 按标题返回固定向量，相同语义的标题返回同一向量
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *fixedEmbedder) Dimension() int { return 3 }

func TestLongText_SemanticDedupMergesNearDuplicates(t *testing.T) {
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"编写方案":   {1, 0, 0},
		"撰写设计方案": {0.99, 0.14, 0}, // 与「编写方案」余弦 > 0.92
		"部署上线":   {0, 1, 0},
	}}

	// 两个分片产出语义重复的任务
	call := 0
	env := newLongTextEnv(t, embedder, func(n int, req *llm.ChatRequest) []llm.StreamDelta {
		if strings.Contains(req.Messages[0].Content, "JSON") {
			call++
			if call == 1 {
				return textDeltas(`{"extracted":{"tasks":[{"title":"编写方案"},{"title":"部署上线"}]}}`)
			}
			return textDeltas(`{"extracted":{"tasks":[{"title":"撰写设计方案"}]}}`)
		}
		return textDeltas("报告")
	})

	out := &fakeEmitter{}
	err := env.pipeline.Execute(context.Background(), LongTextInput{
		UserID:  "u1",
		Content: planDocument(),
		Options: LongTextOptions{SemanticDedup: true},
	}, out)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// 终稿提示词里只应出现两个任务：语义重复的「撰写设计方案」被并掉
	var reducePrompt string
	for _, req := range env.provider.requests() {
		if !strings.Contains(req.Messages[0].Content, "JSON") {
			reducePrompt = req.Messages[len(req.Messages)-1].Content
		}
	}
	if reducePrompt == "" {
		t.Fatal("reduce call not captured")
	}
	if !strings.Contains(reducePrompt, "编写方案") || !strings.Contains(reducePrompt, "部署上线") {
		t.Fatalf("kept tasks missing from reduce prompt: %s", reducePrompt)
	}
	if strings.Contains(reducePrompt, "撰写设计方案") {
		t.Fatal("near-duplicate task should have been merged away")
	}
}

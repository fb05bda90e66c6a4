package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/infrastructure/llm"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/infrastructure/persistence"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
)

type agentEnv struct {
	conversations *persistence.MemoryConversationRepository
	messages      repository.MessageRepository
	sessions      repository.AgentSessionRepository
	provider      *scriptedProvider
	agents        *MultiAgentUseCase
}

func newAgentEnv(t *testing.T, respond func(call int, req *llm.ChatRequest) []llm.StreamDelta) *agentEnv {
	t.Helper()
	logger := zap.NewNop()

	conversations := persistence.NewMemoryConversationRepository()
	messages := persistence.NewMemoryMessageRepository()
	progress := persistence.NewMemoryStreamProgressRepository()
	sessions := persistence.NewMemoryAgentSessionRepository()

	provider := &scriptedProvider{respond: respond}
	queue := llm.NewQueue(2, 600, 5*time.Second, logger)
	archiver := scheduler.NewLRUScheduler(conversations, scheduler.Limits{}, logger)
	monitor := monitoring.NewMonitor(logger)

	agents := NewMultiAgentUseCase(conversations, messages, progress, sessions, queue, provider,
		archiver, monitor, time.Minute, logger)

	return &agentEnv{
		conversations: conversations,
		messages:      messages,
		sessions:      sessions,
		provider:      provider,
		agents:        agents,
	}
}

func TestMultiAgent_RunsFullPipeline(t *testing.T) {
	env := newAgentEnv(t, func(call int, req *llm.ChatRequest) []llm.StreamDelta {
		return textDeltas(fmt.Sprintf("第 %d 次输出", call+1))
	})

	out := &fakeEmitter{}
	err := env.agents.Execute(context.Background(), MultiAgentInput{
		UserID:  "u1",
		Content: "讨论一个问题",
	}, out)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if env.provider.callCount() != defaultAgentRounds {
		t.Fatalf("model calls = %d, want %d", env.provider.callCount(), defaultAgentRounds)
	}
	complete := out.eventOfType(entity.EventSessionComplete)
	if complete == nil || complete.Rounds != defaultAgentRounds {
		t.Fatalf("session_complete missing or wrong: %+v", complete)
	}
	if out.doneEvent() == nil {
		t.Fatal("terminal done event missing")
	}
	// 只有终稿轮流式推给客户端
	if out.text() != fmt.Sprintf("第 %d 次输出", defaultAgentRounds) {
		t.Fatalf("streamed content = %q", out.text())
	}

	init := out.eventOfType(entity.EventInit)
	session, err := env.sessions.Find(context.Background(), init.ConversationID, "u1", init.AssistantMessageID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if session.Status != entity.SessionStatusCompleted || session.CompletedRounds != defaultAgentRounds {
		t.Fatalf("session state wrong: status=%s rounds=%d", session.Status, session.CompletedRounds)
	}
}

func TestMultiAgent_ResumeSkipsCompletedRounds(t *testing.T) {
	env := newAgentEnv(t, func(call int, req *llm.ChatRequest) []llm.StreamDelta {
		return textDeltas(fmt.Sprintf("续跑输出 %d", call+1))
	})

	conv := entity.NewConversation("u1", "讨论", "ark")
	if err := env.conversations.Save(context.Background(), conv); err != nil {
		t.Fatalf("save conversation: %v", err)
	}

	session := entity.NewAgentSession(conv.ID, "u1", "am-1", 5)
	session.RecordRound(entity.RoundOutput{Round: 1, Role: "host", Content: "要点"})
	session.RecordRound(entity.RoundOutput{Round: 2, Role: "planner", Content: "方案"})
	if err := env.sessions.Save(context.Background(), session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	out := &fakeEmitter{}
	err := env.agents.Execute(context.Background(), MultiAgentInput{
		UserID:             "u1",
		ConversationID:     conv.ID,
		Content:            "继续",
		TotalRounds:        5,
		ResumeFromRound:    3,
		AssistantMessageID: "am-1",
	}, out)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	resume := out.eventOfType(entity.EventResume)
	if resume == nil {
		t.Fatal("resume event missing")
	}
	if resume.ResumedFromRound != 2 || resume.ContinueFromRound != 3 {
		t.Fatalf("resume event wrong: %+v", resume)
	}
	// 只补跑剩下的三轮
	if env.provider.callCount() != 3 {
		t.Fatalf("model calls = %d, want 3", env.provider.callCount())
	}

	saved, err := env.sessions.Find(context.Background(), conv.ID, "u1", "am-1")
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if saved.CompletedRounds != 5 || saved.Status != entity.SessionStatusCompleted {
		t.Fatalf("session state wrong: rounds=%d status=%s", saved.CompletedRounds, saved.Status)
	}
	if saved.RoundContent(1) != "要点" {
		t.Fatal("earlier round outputs must survive the resume")
	}
}

func TestMultiAgent_MissingSessionStartsOver(t *testing.T) {
	env := newAgentEnv(t, func(call int, req *llm.ChatRequest) []llm.StreamDelta {
		return textDeltas("从头开始")
	})

	conv := entity.NewConversation("u1", "讨论", "ark")
	if err := env.conversations.Save(context.Background(), conv); err != nil {
		t.Fatalf("save conversation: %v", err)
	}

	out := &fakeEmitter{}
	err := env.agents.Execute(context.Background(), MultiAgentInput{
		UserID:             "u1",
		ConversationID:     conv.ID,
		Content:            "继续",
		TotalRounds:        3,
		ResumeFromRound:    2,
		AssistantMessageID: "no-such-message",
	}, out)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if out.eventOfType(entity.EventResume) != nil {
		t.Fatal("no resume event when the checkpoint is gone")
	}
	if env.provider.callCount() != 3 {
		t.Fatalf("model calls = %d, want all 3 rounds", env.provider.callCount())
	}
}

func TestMultiAgent_RoundOutputsFeedLaterRounds(t *testing.T) {
	var sawTranscript bool
	env := newAgentEnv(t, func(call int, req *llm.ChatRequest) []llm.StreamDelta {
		if call > 0 {
			for _, m := range req.Messages {
				if m.Role == "user" && strings.Contains(m.Content, "讨论记录") {
					sawTranscript = true
				}
			}
		}
		return textDeltas(fmt.Sprintf("轮次 %d", call+1))
	})

	out := &fakeEmitter{}
	if err := env.agents.Execute(context.Background(), MultiAgentInput{
		UserID:      "u1",
		Content:     "问题",
		TotalRounds: 3,
	}, out); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !sawTranscript {
		t.Fatal("later rounds must receive the transcript of earlier rounds")
	}
}

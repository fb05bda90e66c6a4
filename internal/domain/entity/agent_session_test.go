package entity

import (
	"testing"
	"time"
)

func TestAgentSessionKeyIsTriple(t *testing.T) {
	s := NewAgentSession("c1", "u1", "m1", 5)
	if s.ID != "c1:u1:m1" {
		t.Errorf("id = %q", s.ID)
	}
	if s.Status != SessionStatusRunning {
		t.Errorf("status = %q", s.Status)
	}
}

func TestRecordRoundMonotonic(t *testing.T) {
	s := NewAgentSession("c1", "u1", "m1", 5)

	s.RecordRound(RoundOutput{Round: 1, Role: "host", Content: "开场"})
	s.RecordRound(RoundOutput{Round: 2, Role: "planner", Content: "拆解"})
	if s.CompletedRounds != 2 {
		t.Fatalf("completedRounds = %d, want 2", s.CompletedRounds)
	}

	// 重复与回退都不生效
	s.RecordRound(RoundOutput{Round: 2, Role: "planner", Content: "重复"})
	s.RecordRound(RoundOutput{Round: 1, Role: "host", Content: "回退"})
	if s.CompletedRounds != 2 {
		t.Errorf("completedRounds = %d after replay, want 2", s.CompletedRounds)
	}
	if len(s.Rounds) != 2 {
		t.Errorf("rounds = %d, want 2", len(s.Rounds))
	}
	if s.RoundContent(1) != "开场" {
		t.Errorf("round 1 content = %q, want original", s.RoundContent(1))
	}
}

func TestRoundContentMissingRound(t *testing.T) {
	s := NewAgentSession("c1", "u1", "m1", 5)
	if s.RoundContent(3) != "" {
		t.Error("missing round should return empty string")
	}
}

func TestRecordRoundRefreshesExpiry(t *testing.T) {
	s := NewAgentSession("c1", "u1", "m1", 5)
	s.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if !s.Expired(time.Now().UTC()) {
		t.Fatal("session should be expired before the round lands")
	}
	s.RecordRound(RoundOutput{Round: 1, Role: "host", Content: "x"})
	if s.Expired(time.Now().UTC()) {
		t.Error("recording a round should refresh the TTL")
	}
}

func TestAgentSessionComplete(t *testing.T) {
	s := NewAgentSession("c1", "u1", "m1", 2)
	s.RecordRound(RoundOutput{Round: 1, Role: "host", Content: "a"})
	s.RecordRound(RoundOutput{Round: 2, Role: "reporter", Content: "b"})
	s.Complete()
	if s.Status != SessionStatusCompleted {
		t.Errorf("status = %q", s.Status)
	}
}

func TestStreamProgressLifecycle(t *testing.T) {
	p := NewStreamProgress("m1", "c1", "u1")
	if p.Status != StreamStatusStreaming {
		t.Fatalf("status = %q", p.Status)
	}

	p.Advance("你好，世界", "思考中")
	if p.LastSentPosition != 5 {
		t.Errorf("lastSentPosition = %d, want rune count 5", p.LastSentPosition)
	}

	p.Finish()
	if p.Status != StreamStatusCompleted {
		t.Errorf("status = %q after finish", p.Status)
	}

	p.Fail()
	if p.Status != StreamStatusError {
		t.Errorf("status = %q after fail", p.Status)
	}
}

func TestStreamProgressExpiry(t *testing.T) {
	p := NewStreamProgress("m1", "c1", "u1")
	if p.Expired(time.Now().UTC()) {
		t.Error("fresh progress should not be expired")
	}
	if !p.Expired(time.Now().UTC().Add(StreamProgressTTL + time.Minute)) {
		t.Error("progress past TTL should be expired")
	}
}

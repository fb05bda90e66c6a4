package sse

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/entity"
)

// memorySink 收集帧的测试输出
type memorySink struct {
	mu       sync.Mutex
	frames   []string
	comments []string
	closed   atomic.Bool
}

func (s *memorySink) WriteFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(data))
	return nil
}

func (s *memorySink) WriteComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, text)
	return nil
}

func (s *memorySink) IsClosed() bool { return s.closed.Load() }

func (s *memorySink) allFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *memorySink) allComments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comments...)
}

func fastOptions() Options {
	return Options{
		CharDelay:             20 * time.Millisecond,
		ChunkDelay:            time.Millisecond,
		BackpressureThreshold: 10,
		Adaptive:              true,
	}
}

func TestWriter_CharacterModeCumulative(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, Options{Adaptive: false, ForceMode: ModeCharacter, CharDelay: 20 * time.Millisecond}, zap.NewNop())

	w.Append("你好")
	w.Close()

	frames := sink.allFrames()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2 (one per character)", len(frames))
	}
	var first, second entity.ChatEvent
	if err := json.Unmarshal([]byte(frames[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(frames[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Content != "你" || second.Content != "你好" {
		t.Fatalf("cumulative content wrong: %q %q", first.Content, second.Content)
	}
}

func TestWriter_ChunkModeSingleFrame(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, Options{Adaptive: false, ForceMode: ModeChunk}, zap.NewNop())

	w.Append("整段一次推完")
	w.Close()

	frames := sink.allFrames()
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if !strings.Contains(frames[0], "整段一次推完") {
		t.Fatalf("unexpected frame: %s", frames[0])
	}
}

func TestWriter_BackpressureSwitchesToChunk(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, fastOptions(), zap.NewNop())

	// 积压远超阈值 10，应当切到块模式快速排空
	w.Append(strings.Repeat("a", 200))
	w.Close()

	if w.Switches() == 0 {
		t.Fatal("expected at least one mode switch under backpressure")
	}
	frames := sink.allFrames()
	if len(frames) >= 200 {
		t.Fatalf("chunk mode should coalesce frames, got %d", len(frames))
	}
	last := frames[len(frames)-1]
	var event entity.ChatEvent
	if err := json.Unmarshal([]byte(last), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(event.Content) != 200 {
		t.Fatalf("final cumulative length = %d, want 200", len(event.Content))
	}
}

func TestWriter_SwitchesBackWhenDrained(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, fastOptions(), zap.NewNop())

	w.Append(strings.Repeat("b", 100))
	w.Close()

	// 排空后回到逐字模式
	if w.Mode() != ModeCharacter {
		t.Fatalf("mode after drain = %s, want character", w.Mode())
	}
	if w.Switches() < 2 {
		t.Fatalf("switches = %d, want >= 2 (up and back)", w.Switches())
	}
}

func TestWriter_EventOrderedAfterContent(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, Options{Adaptive: false, ForceMode: ModeChunk}, zap.NewNop())

	w.Append("before")
	if err := w.Event(entity.NewDoneEvent("c1", "m1", nil)); err != nil {
		t.Fatalf("event: %v", err)
	}
	w.Close()

	frames := sink.allFrames()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if !strings.Contains(frames[0], "before") {
		t.Fatalf("content frame should come first: %s", frames[0])
	}
	var done entity.ChatEvent
	if err := json.Unmarshal([]byte(frames[1]), &done); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !done.Done {
		t.Fatalf("terminal frame not done: %s", frames[1])
	}
}

func TestWriter_Comment(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, Options{}, zap.NewNop())

	w.Comment("heartbeat")
	w.Close()

	comments := sink.allComments()
	if len(comments) != 1 || comments[0] != "heartbeat" {
		t.Fatalf("unexpected comments: %v", comments)
	}
}

func TestWriter_StopsWhenSinkClosed(t *testing.T) {
	sink := &memorySink{}
	sink.closed.Store(true)
	w := NewWriter(sink, Options{}, zap.NewNop())

	w.Append("dropped")
	w.Close()

	if len(sink.allFrames()) != 0 {
		t.Fatal("no frames should be written after the client disconnects")
	}
	if !w.IsClosed() {
		t.Fatal("writer should report closed")
	}
	if err := w.Event(entity.NewErrorEvent("x")); err == nil {
		t.Fatal("events after close must error")
	}
}

func TestWriter_AppendAfterCloseIgnored(t *testing.T) {
	sink := &memorySink{}
	w := NewWriter(sink, Options{Adaptive: false, ForceMode: ModeChunk}, zap.NewNop())
	w.Append("kept")
	w.Close()

	w.Append("late")
	time.Sleep(20 * time.Millisecond)

	frames := sink.allFrames()
	for _, f := range frames {
		if strings.Contains(f, "late") {
			t.Fatal("appends after Close must be dropped")
		}
	}
}

package longtext

import (
	"strings"
	"testing"
)

func TestSplitChunksEmptyText(t *testing.T) {
	if got := SplitChunks("   \n\n  ", DefaultChunkerConfig()); got != nil {
		t.Errorf("blank input should produce no chunks, got %d", len(got))
	}
}

func TestSplitChunksShortTextSingleChunk(t *testing.T) {
	text := "第一段内容。\n\n第二段内容。"
	chunks := SplitChunks(text, DefaultChunkerConfig())
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Index != 0 {
		t.Errorf("index = %d, want 0", chunks[0].Index)
	}
	if !strings.Contains(chunks[0].Text, "第一段内容") || !strings.Contains(chunks[0].Text, "第二段内容") {
		t.Errorf("chunk lost paragraphs: %q", chunks[0].Text)
	}
}

func TestSplitChunksRespectsTargetSize(t *testing.T) {
	para := strings.Repeat("这是一个用于测试分片边界的句子。", 20)
	text := strings.Join([]string{para, para, para, para}, "\n\n")
	cfg := ChunkerConfig{MaxChunkSize: 800, TargetChunkSize: 600, Overlap: 50, MaxChunks: 30}

	chunks := SplitChunks(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}
	for _, c := range chunks {
		if runeLen(c.Text) > cfg.MaxChunkSize {
			t.Errorf("chunk %d has %d runes, exceeds max %d", c.Index, runeLen(c.Text), cfg.MaxChunkSize)
		}
	}
}

func TestSplitChunksOverlapCarriesContext(t *testing.T) {
	para := strings.Repeat("边界上下文测试句子。", 40)
	text := para + "\n\n" + para
	cfg := ChunkerConfig{MaxChunkSize: 500, TargetChunkSize: 400, Overlap: 60, MaxChunks: 30}

	chunks := SplitChunks(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		tail := string(prev[len(prev)-10:])
		if !strings.Contains(chunks[i].Text, tail) {
			t.Errorf("chunk %d does not carry the tail of chunk %d", i, i-1)
		}
	}
}

func TestSplitChunksListBlockStaysTogether(t *testing.T) {
	list := "- 第一项任务\n- 第二项任务\n- 第三项任务"
	text := "前置说明段落。\n\n" + list + "\n\n结尾段落。"

	chunks := SplitChunks(text, DefaultChunkerConfig())
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, list) {
		t.Errorf("list block was split apart: %q", chunks[0].Text)
	}
}

func TestSplitChunksOversizedSentenceHardSplit(t *testing.T) {
	// 整段没有任何句子终止符，只能按字符硬切
	blob := strings.Repeat("无终止符", 500)
	cfg := ChunkerConfig{MaxChunkSize: 400, TargetChunkSize: 300, Overlap: 0, MaxChunks: 30}

	chunks := SplitChunks(blob, cfg)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}
	for _, c := range chunks {
		if runeLen(c.Text) > cfg.MaxChunkSize {
			t.Errorf("chunk %d has %d runes, exceeds max %d", c.Index, runeLen(c.Text), cfg.MaxChunkSize)
		}
	}
}

func TestSplitChunksMaxChunksMergesTail(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(strings.Repeat("填充分片上限测试的句子。", 10))
		sb.WriteString("\n\n")
	}
	cfg := ChunkerConfig{MaxChunkSize: 150, TargetChunkSize: 120, Overlap: 0, MaxChunks: 5}

	chunks := SplitChunks(sb.String(), cfg)
	if len(chunks) != cfg.MaxChunks {
		t.Fatalf("chunks = %d, want %d", len(chunks), cfg.MaxChunks)
	}
	last := chunks[len(chunks)-1]
	if runeLen(last.Text) <= cfg.MaxChunkSize {
		t.Errorf("tail merge expected the last chunk to absorb the overflow, got %d runes", runeLen(last.Text))
	}
}

func TestSplitChunksZeroConfigFallsBackToDefaults(t *testing.T) {
	text := strings.Repeat("默认配置回退测试。", 100)
	chunks := SplitChunks(text, ChunkerConfig{})
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1 under default sizes", len(chunks))
	}
}

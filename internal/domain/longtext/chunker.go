// Package longtext 实现长文本的结构化分片和提取结果归并。
// 分片供 map 阶段逐块送入模型，归并供 reduce 阶段去重汇总。
package longtext

import (
	"regexp"
	"strings"
)

// ChunkerConfig 分片配置
type ChunkerConfig struct {
	// MaxChunkSize 单片硬上限，超过的段落会被按句切开
	MaxChunkSize int
	// TargetChunkSize 打包目标大小，尽量在此附近闭合分片
	TargetChunkSize int
	// Overlap 相邻分片间携带的重叠字符数
	Overlap int
	// MaxChunks 分片数上限，超出部分并入最后一片
	MaxChunks int
}

// DefaultChunkerConfig 默认分片配置
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxChunkSize:    8000,
		TargetChunkSize: 6000,
		Overlap:         300,
		MaxChunks:       30,
	}
}

// Chunk 一个分片，Index 从 0 开始
type Chunk struct {
	Index int
	Text  string
}

// listLineRe 列表行前缀：- * • 数字. 字母.
var listLineRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.、)]|[a-zA-Z][.、)])\s+`)

// sentenceEnd 句子终止符，中英文都认
const sentenceEnd = "。！？；.!?;"

// SplitChunks 把长文本切成结构化分片。
//
// 空行是段落边界，连续的列表行连同其间空行并成一个不可拆块；
// 超过硬上限的块按句子终止符切分，句子本身超限时按字符数硬切；
// 相邻分片间携带约 Overlap 个字符的重叠，保住跨片的上下文。
func SplitChunks(text string, cfg ChunkerConfig) []Chunk {
	if cfg.MaxChunkSize <= 0 {
		cfg = DefaultChunkerConfig()
	}

	text = normalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	blocks := splitBlocks(text)

	// 超限块先行拆小，之后的打包阶段只做合并
	var units []string
	for _, b := range blocks {
		if runeLen(b) > cfg.MaxChunkSize {
			units = append(units, splitOversized(b, cfg.TargetChunkSize, cfg.MaxChunkSize)...)
		} else {
			units = append(units, b)
		}
	}

	var chunks []Chunk
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: cur.String()})
		cur.Reset()
	}

	for _, u := range units {
		if cur.Len() > 0 && runeLen(cur.String())+runeLen(u) > cfg.TargetChunkSize {
			tail := overlapTail(cur.String(), cfg.Overlap)
			flush()
			if tail != "" {
				cur.WriteString(tail)
				cur.WriteString("\n\n")
			}
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(u)
	}
	flush()

	// 超出上限的分片全部并入最后一片
	if len(chunks) > cfg.MaxChunks {
		last := chunks[cfg.MaxChunks-1]
		var rest strings.Builder
		rest.WriteString(last.Text)
		for _, c := range chunks[cfg.MaxChunks:] {
			rest.WriteString("\n\n")
			rest.WriteString(c.Text)
		}
		chunks = chunks[:cfg.MaxChunks]
		chunks[cfg.MaxChunks-1] = Chunk{Index: cfg.MaxChunks - 1, Text: rest.String()}
	}
	return chunks
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// splitBlocks 按空行切段，连续的列表段并成一块
func splitBlocks(text string) []string {
	rawParas := regexp.MustCompile(`\n\s*\n`).Split(text, -1)

	var blocks []string
	var listRun []string
	flushList := func() {
		if len(listRun) > 0 {
			blocks = append(blocks, strings.Join(listRun, "\n"))
			listRun = nil
		}
	}

	for _, p := range rawParas {
		p = strings.TrimRight(p, "\n ")
		if strings.TrimSpace(p) == "" {
			continue
		}
		if isListBlock(p) {
			listRun = append(listRun, p)
			continue
		}
		flushList()
		blocks = append(blocks, p)
	}
	flushList()
	return blocks
}

// isListBlock 段内每一行都是列表行
func isListBlock(p string) bool {
	lines := strings.Split(p, "\n")
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		if !listLineRe.MatchString(ln) {
			return false
		}
	}
	return true
}

// splitOversized 按句子打包超限段落，单句仍超限时按字符硬切
func splitOversized(block string, target, max int) []string {
	sentences := splitSentences(block)

	var out []string
	var cur strings.Builder
	for _, s := range sentences {
		if runeLen(s) > max {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, hardSplit(s, target)...)
			continue
		}
		if cur.Len() > 0 && runeLen(cur.String())+runeLen(s) > target {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitSentences 在句子终止符后断开，保留终止符
func splitSentences(s string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range s {
		cur.WriteRune(r)
		if strings.ContainsRune(sentenceEnd, r) {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// hardSplit 按字符数硬切
func hardSplit(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// overlapTail 取末尾约 n 个字符作为下一片的重叠前缀
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func runeLen(s string) int {
	return len([]rune(s))
}

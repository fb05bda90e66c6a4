package longtext

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genDocument 随机拼一篇由普通段落、列表段和长段组成的文档
func genDocument() gopter.Gen {
	sentences := []string{
		"项目需要在本季度完成上线。",
		"数据库迁移是当前最大的风险点。",
		"The rollout plan covers three regions.",
		"验收指标包括延迟和错误率；两项都要达标。",
		"- 完成接口联调\n- 准备回滚预案",
	}
	return gen.SliceOfN(30, gen.IntRange(0, len(sentences)-1)).Map(func(picks []int) string {
		var sb strings.Builder
		for i, p := range picks {
			sb.WriteString(strings.Repeat(sentences[p], p+1))
			if i%3 == 2 {
				sb.WriteString("\n\n")
			}
		}
		return sb.String()
	})
}

func TestSplitChunksProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cfg := ChunkerConfig{MaxChunkSize: 400, TargetChunkSize: 300, Overlap: 40, MaxChunks: 10}

	properties.Property("indexes are dense and ordered", prop.ForAll(
		func(doc string) bool {
			chunks := SplitChunks(doc, cfg)
			for i, c := range chunks {
				if c.Index != i {
					return false
				}
			}
			return true
		},
		genDocument(),
	))

	properties.Property("chunk count never exceeds the limit", prop.ForAll(
		func(doc string) bool {
			return len(SplitChunks(doc, cfg)) <= cfg.MaxChunks
		},
		genDocument(),
	))

	properties.Property("only the tail-merged last chunk may exceed the hard cap", prop.ForAll(
		func(doc string) bool {
			chunks := SplitChunks(doc, cfg)
			for i, c := range chunks {
				if i < len(chunks)-1 && runeLen(c.Text) > cfg.MaxChunkSize {
					return false
				}
			}
			return true
		},
		genDocument(),
	))

	properties.Property("no non-blank input content is dropped", prop.ForAll(
		func(doc string) bool {
			chunks := SplitChunks(doc, cfg)
			if strings.TrimSpace(doc) == "" {
				return len(chunks) == 0
			}
			var sb strings.Builder
			for _, c := range chunks {
				sb.WriteString(c.Text)
			}
			joined := sb.String()
			// 逐段检查：每个输入段落都要出现在某个分片里
			for _, para := range strings.Split(normalizeNewlines(doc), "\n\n") {
				para = strings.TrimSpace(para)
				if para == "" {
					continue
				}
				probe := para
				if runeLen(probe) > 50 {
					probe = string([]rune(probe)[:50])
				}
				if !strings.Contains(joined, probe) {
					return false
				}
			}
			return true
		},
		genDocument(),
	))

	properties.TestingRun(t)
}

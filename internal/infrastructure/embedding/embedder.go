// Package embedding 文本向量化客户端。
// 长文本归并阶段用向量余弦相似度做近重复合并。
package embedding

import (
	"context"
	"math"
)

// Embedder 向量化接口
type Embedder interface {
	// Embed 向量化单条文本
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 批量向量化
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension 向量维度
	Dimension() int
}

// Cosine 余弦相似度。维度不一致或零向量返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

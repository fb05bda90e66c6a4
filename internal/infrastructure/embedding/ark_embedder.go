package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ArkEmbedder generates embeddings via the Ark embeddings API
// (OpenAI-compatible /embeddings endpoint).
type ArkEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	logger    *zap.Logger
}

type arkEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type arkEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

var _ Embedder = (*ArkEmbedder)(nil)

// NewArkEmbedder creates an Ark embedding provider.
// It probes the model to auto-detect the vector dimension.
func NewArkEmbedder(baseURL, apiKey, model string, logger *zap.Logger) (*ArkEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &ArkEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	probe, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("failed to probe embedding dimension for model %s: %w", model, err)
	}
	e.dimension = len(probe)

	logger.Info("ArkEmbedder initialized",
		zap.String("model", model),
		zap.Int("dimension", e.dimension),
	)

	return e, nil
}

// Embed generates an embedding vector for a single text.
func (e *ArkEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.doEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding response from Ark")
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for multiple texts in one call.
func (e *ArkEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.doEmbed(ctx, texts)
}

// Dimension returns the vector dimension (auto-detected on init).
func (e *ArkEmbedder) Dimension() int {
	return e.dimension
}

func (e *ArkEmbedder) doEmbed(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(arkEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ark embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ark embed returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var embedResp arkEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("ark returned empty embeddings array")
	}

	vectors := make([][]float32, len(embedResp.Data))
	for _, item := range embedResp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("ark embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

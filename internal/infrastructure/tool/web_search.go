package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// WebSearchPlugin 网络搜索插件，走 Tavily HTTP API
type WebSearchPlugin struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewWebSearchPlugin 创建搜索插件
func NewWebSearchPlugin(apiKey string, logger *zap.Logger) *WebSearchPlugin {
	return &WebSearchPlugin{
		apiKey:   apiKey,
		endpoint: tavilyEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

var _ domaintool.Plugin = (*WebSearchPlugin)(nil)

func (t *WebSearchPlugin) Name() string    { return "web_search" }
func (t *WebSearchPlugin) Version() string { return "1.0.0" }

func (t *WebSearchPlugin) Description() string {
	return "搜索互联网并返回带标题、链接和摘要的结果列表。适合回答需要实时信息的问题。"
}

func (t *WebSearchPlugin) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "搜索关键词",
			},
			"maxResults": map[string]interface{}{
				"type":        "integer",
				"description": "返回结果数，默认 5",
				"minimum":     1,
				"maximum":     10,
			},
			"searchDepth": map[string]interface{}{
				"type":        "string",
				"description": "搜索深度",
				"enum":        []interface{}{"basic", "advanced"},
			},
		},
		"required": []interface{}{"query"},
	}
}

type webSearchParams struct {
	Query       string `mapstructure:"query"`
	MaxResults  int    `mapstructure:"maxResults"`
	SearchDepth string `mapstructure:"searchDepth"`
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results,omitempty"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Execute 执行搜索
func (t *WebSearchPlugin) Execute(ctx context.Context, params map[string]interface{}, ec domaintool.ExecContext) (*domaintool.Result, error) {
	var p webSearchParams
	if err := mapstructure.Decode(params, &p); err != nil {
		return domaintool.Fail(t.Name(), "invalid params: "+err.Error()), nil
	}
	if p.Query == "" {
		return domaintool.Fail(t.Name(), "query is required"), nil
	}
	if p.MaxResults <= 0 {
		p.MaxResults = 5
	}
	if t.apiKey == "" {
		return nil, fmt.Errorf("TAVILY_API_KEY not configured")
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:      t.apiKey,
		Query:       p.Query,
		MaxResults:  p.MaxResults,
		SearchDepth: p.SearchDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API error %d: %s", resp.StatusCode, string(respBody))
	}

	var searchResp tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]map[string]interface{}, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		results = append(results, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"content": r.Content,
			"score":   r.Score,
		})
	}

	t.logger.Info("搜索完成",
		zap.String("query", p.Query),
		zap.Int("results", len(results)))

	return &domaintool.Result{
		ToolName: t.Name(),
		Success:  true,
		Data: map[string]interface{}{
			"answer":  searchResp.Answer,
			"results": results,
		},
	}, nil
}

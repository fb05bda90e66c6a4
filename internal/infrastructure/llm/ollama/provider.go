// Package ollama 本地 Ollama 的 /api/chat 客户端。
// 流式响应是 NDJSON：每行一个 JSON 对象，done=true 的行收尾。
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	llm "github.com/nexchat/gateway/internal/infrastructure/llm"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
	"github.com/nexchat/gateway/pkg/safego"
)

func init() {
	llm.RegisterFactory("ollama", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider Ollama 客户端
type Provider struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// New 创建 Ollama provider
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	name := cfg.Name
	if name == "" {
		name = "ollama"
	}
	return &Provider{
		name:    name,
		baseURL: baseURL,
		model:   cfg.Model,
		client:  &http.Client{},
		logger:  logger.With(zap.String("provider", name)),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

// IsAvailable 探测本地服务是否可达
func (p *Provider) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, "GET", p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Tools    []toolDef     `json:"tools,omitempty"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type toolCall struct {
	Function toolCallFunc `json:"function"`
}

type toolCallFunc struct {
	Name string `json:"name"`
	// Ollama 的 arguments 是对象而不是字符串
	Arguments map[string]interface{} `json:"arguments"`
}

type chatChunk struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	EvalCount       int         `json:"eval_count"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

// ChatStream 打开流式对话
func (p *Provider) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	apiReq := chatRequest{Model: model, Stream: true}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		apiReq.Options = &chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	for _, msg := range req.Messages {
		m := chatMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, toolCall{Function: toolCallFunc{Name: tc.Name, Arguments: tc.Arguments}})
		}
		apiReq.Messages = append(apiReq.Messages, m)
	}
	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type: "function",
			Function: toolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, domainErrors.NewUpstreamError("ollama request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, domainErrors.NewUpstreamError(
			fmt.Sprintf("ollama API error %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	deltas := make(chan llm.StreamDelta)
	safego.Go(p.logger, "ollama-stream", func() {
		defer close(deltas)
		defer resp.Body.Close()

		if err := p.readStream(ctx, resp.Body, deltas); err != nil {
			select {
			case deltas <- llm.StreamDelta{Err: domainErrors.NewUpstreamError("ollama stream failed", err)}:
			case <-ctx.Done():
			}
		}
	})

	return deltas, nil
}

// readStream 逐行解析 NDJSON
func (p *Provider) readStream(ctx context.Context, reader io.Reader, deltas chan<- llm.StreamDelta) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCallIndex := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			p.logger.Debug("Skip unparseable NDJSON line", zap.Error(err))
			continue
		}

		out := llm.StreamDelta{Model: chunk.Model, Content: chunk.Message.Content}
		for _, tc := range chunk.Message.ToolCalls {
			args, _ := json.Marshal(tc.Function.Arguments)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCallDelta{
				Index:     toolCallIndex,
				Name:      tc.Function.Name,
				Arguments: string(args),
			})
			toolCallIndex++
		}
		if chunk.Done {
			out.FinishReason = chunk.DoneReason
			if out.FinishReason == "" {
				out.FinishReason = "stop"
			}
			out.TokensUsed = chunk.EvalCount + chunk.PromptEvalCount
		}

		if out.Content != "" || len(out.ToolCalls) > 0 || out.FinishReason != "" {
			select {
			case deltas <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}

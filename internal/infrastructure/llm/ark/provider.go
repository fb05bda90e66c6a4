package ark

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	llm "github.com/nexchat/gateway/internal/infrastructure/llm"
	domainErrors "github.com/nexchat/gateway/pkg/errors"
	"github.com/nexchat/gateway/pkg/safego"
)

func init() {
	llm.RegisterFactory("ark", func(cfg llm.ProviderConfig, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is the Volcengine Ark client (OpenAI-compatible chat completions).
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// New creates an Ark LLM provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}
	name := cfg.Name
	if name == "" {
		name = "ark"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client: &http.Client{
			Transport: transport,
		},
		logger: logger.With(zap.String("provider", name)),
	}
}

// Compile-time interface check
var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// ChatStream opens an SSE completion stream.
func (p *Provider) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	streamBody := StreamRequest{
		Request:       p.buildAPIRequest(req),
		Stream:        true,
		StreamOptions: map[string]interface{}{"include_usage": true},
	}

	body, err := json.Marshal(streamBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, domainErrors.NewUpstreamError("ark request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, domainErrors.NewUpstreamError(
			fmt.Sprintf("ark API error %d: %s", resp.StatusCode, truncate(string(respBody), 300)), nil)
	}

	deltas := make(chan llm.StreamDelta)
	safego.Go(p.logger, "ark-stream", func() {
		defer close(deltas)
		defer resp.Body.Close()

		// Context cancellation body-close watchdog
		streamDone := make(chan struct{})
		defer close(streamDone)
		safego.Go(p.logger, "ark-stream-watchdog", func() {
			select {
			case <-ctx.Done():
				p.logger.Info("Context cancelled, force-closing SSE stream", zap.Error(ctx.Err()))
				resp.Body.Close()
			case <-streamDone:
			}
		})

		if err := ParseSSEStream(ctx, resp.Body, deltas, p.logger); err != nil {
			select {
			case deltas <- llm.StreamDelta{Err: domainErrors.NewUpstreamError("ark stream failed", err)}:
			case <-ctx.Done():
			}
		}
	})

	return deltas, nil
}

func (p *Provider) buildAPIRequest(req *llm.ChatRequest) *Request {
	model := req.Model
	if model == "" {
		model = p.model
	}

	apiReq := &Request{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		apiMsg := Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}

		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}

		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			},
		})
	}

	return apiReq
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

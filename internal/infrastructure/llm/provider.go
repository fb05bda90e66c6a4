package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nexchat/gateway/internal/domain/tool"
)

// ChatMessage is a single turn in the conversation sent upstream.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a fully-assembled tool invocation attributed to the assistant.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ChatRequest is the provider-agnostic chat completion request.
type ChatRequest struct {
	Model       string            `json:"model"`
	Messages    []ChatMessage     `json:"messages"`
	Tools       []tool.Definition `json:"tools,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
}

// ToolCallDelta is a raw tool-call fragment from a streaming response.
// Arguments arrive as partial JSON text and must be accumulated by index.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamDelta is one event from a provider stream.
// A terminal delta carries FinishReason or Err; the channel closes after it.
type StreamDelta struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Model        string
	TokensUsed   int
	Err          error
}

// ChatResult is a buffered (non-streaming) completion.
type ChatResult struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Model        string
	TokensUsed   int
}

// Provider is the upstream LLM client interface.
type Provider interface {
	// Name returns the provider identifier (e.g. "ark", "ollama")
	Name() string

	// Model returns the default model identifier
	Model() string

	// ChatStream opens a streaming completion. The returned channel closes
	// when the stream ends; a mid-stream failure is delivered as a delta
	// with Err set.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamDelta, error)

	// IsAvailable reports whether the provider is configured and reachable
	IsAvailable(ctx context.Context) bool
}

// Collect drains a stream into a buffered result. Used by callers that do
// not forward deltas to a client (e.g. the long-text map stage).
func Collect(ctx context.Context, deltas <-chan StreamDelta) (*ChatResult, error) {
	var sb strings.Builder
	acc := NewToolCallAccumulator()
	result := &ChatResult{}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case delta, ok := <-deltas:
			if !ok {
				result.Content = sb.String()
				result.ToolCalls = acc.Calls()
				return result, nil
			}
			if delta.Err != nil {
				return nil, delta.Err
			}
			sb.WriteString(delta.Content)
			for _, tc := range delta.ToolCalls {
				acc.Add(tc)
			}
			if delta.FinishReason != "" {
				result.FinishReason = delta.FinishReason
			}
			if delta.Model != "" {
				result.Model = delta.Model
			}
			if delta.TokensUsed > 0 {
				result.TokensUsed = delta.TokensUsed
			}
		}
	}
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.
// Adding a new provider type = implement Provider + RegisterFactory("type", New).

// ProviderConfig holds configuration for an LLM provider.
type ProviderConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (e.g. llm/ark, llm/ollama).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider creates a Provider using the registered factory for typeName.
func CreateProvider(typeName string, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	factoryMu.RLock()
	factory, ok := factories[typeName]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", typeName, available)
	}

	return factory(cfg, logger), nil
}

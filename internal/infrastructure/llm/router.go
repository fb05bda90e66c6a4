package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Router routes chat requests to a concrete provider by the request's
// model type ("local" → ollama, "volcano" → ark) and fails over to the
// other registered provider when the preferred one is unavailable or
// its circuit is open.
type Router struct {
	mu       sync.RWMutex
	byType   map[string]Provider
	order    []string // registration order doubles as failover preference
	stats    map[string]*providerStats
	breakers map[string]*CircuitBreaker
	logger   *zap.Logger
}

// providerStats tracks per-provider performance metrics.
type providerStats struct {
	TotalCalls   int64
	FailureCount int64
	LastLatency  time.Duration
}

// NewRouter creates an empty router; register providers with Register.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		byType:   make(map[string]Provider),
		stats:    make(map[string]*providerStats),
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger.With(zap.String("component", "llm-router")),
	}
}

// Compile-time interface check: Router is itself a Provider
var _ Provider = (*Router)(nil)

// Register binds a model type to a provider. The first registration is
// the default when a request carries no or an unknown model type.
func (r *Router) Register(modelType string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[modelType] = p
	r.order = append(r.order, modelType)
	r.stats[p.Name()] = &providerStats{}
	r.breakers[p.Name()] = NewCircuitBreaker(5, 30*time.Second)
	r.logger.Info("LLM provider registered",
		zap.String("modelType", modelType),
		zap.String("provider", p.Name()),
		zap.String("model", p.Model()),
	)
}

func (r *Router) Name() string { return "router" }

// Model reports the default provider's upstream model.
func (r *Router) Model() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ""
	}
	return r.byType[r.order[0]].Model()
}

// IsAvailable reports whether any registered provider is reachable.
func (r *Router) IsAvailable(ctx context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.order {
		if r.byType[t].IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// ChatStream picks a provider for req.Model and streams through it.
// The model type is consumed here; the concrete provider falls back to
// its own configured upstream model name.
func (r *Router) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamDelta, error) {
	candidates := r.candidates(req.Model)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no provider registered")
	}

	var lastErr error
	for _, p := range candidates {
		if cb := r.breaker(p.Name()); cb != nil && !cb.Allow() {
			r.logger.Debug("Provider circuit open, skipping",
				zap.String("provider", p.Name()),
			)
			continue
		}
		if !p.IsAvailable(ctx) {
			r.logger.Debug("Provider unavailable, skipping",
				zap.String("provider", p.Name()),
			)
			continue
		}

		forward := *req
		forward.Model = ""

		start := time.Now()
		deltas, err := p.ChatStream(ctx, &forward)
		if err != nil {
			r.record(p.Name(), time.Since(start), err)
			lastErr = err
			r.logger.Warn("Provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			continue
		}

		r.logger.Debug("Streaming via provider",
			zap.String("provider", p.Name()),
			zap.String("modelType", req.Model),
		)
		return r.relay(p.Name(), start, deltas), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return nil, fmt.Errorf("no provider available for model type '%s'", req.Model)
}

// candidates returns the preferred provider first, then the rest in
// registration order.
func (r *Router) candidates(modelType string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	if p, ok := r.byType[modelType]; ok {
		out = append(out, p)
	}
	for _, t := range r.order {
		p := r.byType[t]
		if len(out) > 0 && p == out[0] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// relay forwards deltas while recording the stream outcome on the
// provider's breaker and stats.
func (r *Router) relay(name string, start time.Time, in <-chan StreamDelta) <-chan StreamDelta {
	out := make(chan StreamDelta)
	go func() {
		defer close(out)
		var failed bool
		for delta := range in {
			if delta.Err != nil {
				failed = true
			}
			out <- delta
		}
		if failed {
			r.record(name, time.Since(start), fmt.Errorf("stream error"))
		} else {
			r.record(name, time.Since(start), nil)
		}
	}()
	return out
}

func (r *Router) breaker(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

func (r *Router) record(name string, latency time.Duration, err error) {
	r.mu.Lock()
	if s, ok := r.stats[name]; ok {
		s.TotalCalls++
		s.LastLatency = latency
		if err != nil {
			s.FailureCount++
		}
	}
	cb := r.breakers[name]
	r.mu.Unlock()

	if cb != nil {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
	}
}

// Statuses returns status and performance stats of all registered providers.
func (r *Router) Statuses(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []ProviderStatus
	for _, t := range r.order {
		p := r.byType[t]
		ps := ProviderStatus{
			ModelType: t,
			Name:      p.Name(),
			Model:     p.Model(),
			Available: p.IsAvailable(ctx),
		}
		if s, ok := r.stats[p.Name()]; ok {
			ps.TotalCalls = s.TotalCalls
			ps.FailureCount = s.FailureCount
			ps.LastLatencyMs = float64(s.LastLatency) / float64(time.Millisecond)
		}
		if cb, ok := r.breakers[p.Name()]; ok {
			ps.CircuitState = cb.State().String()
		}
		result = append(result, ps)
	}
	return result
}

// ProviderStatus describes a provider's current state and performance
type ProviderStatus struct {
	ModelType     string  `json:"model_type"`
	Name          string  `json:"name"`
	Model         string  `json:"model"`
	Available     bool    `json:"available"`
	TotalCalls    int64   `json:"total_calls"`
	FailureCount  int64   `json:"failure_count"`
	LastLatencyMs float64 `json:"last_latency_ms"`
	CircuitState  string  `json:"circuit_state"`
}

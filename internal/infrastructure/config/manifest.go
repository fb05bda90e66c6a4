package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexchat/gateway/internal/domain/tool"
)

// ToolManifest tools.yaml 的根结构，按工具名声明运行时配置
type ToolManifest struct {
	Tools map[string]ToolManifestEntry `yaml:"tools"`
}

// ToolManifestEntry 单个工具的清单项。
// 时长字段用 Go duration 字面量（"30s"、"2m"）。
type ToolManifestEntry struct {
	Enabled   *bool                 `yaml:"enabled"`
	RateLimit *ManifestRateLimit    `yaml:"rateLimit"`
	Cache     *ManifestCache        `yaml:"cache"`
	Breaker   *ManifestBreaker      `yaml:"breaker"`
	Retry     *ManifestRetry        `yaml:"retry"`
	Fallback  *ManifestFallback     `yaml:"fallback"`
}

// ManifestRateLimit 限流清单项
type ManifestRateLimit struct {
	MaxConcurrent int    `yaml:"maxConcurrent"`
	MaxPerMinute  int    `yaml:"maxPerMinute"`
	Timeout       string `yaml:"timeout"`
}

// ManifestCache 缓存清单项
type ManifestCache struct {
	Enabled     bool   `yaml:"enabled"`
	TTL         string `yaml:"ttl"`
	KeyStrategy string `yaml:"keyStrategy"`
}

// ManifestBreaker 熔断清单项
type ManifestBreaker struct {
	FailureThreshold int    `yaml:"failureThreshold"`
	ResetTimeout     string `yaml:"resetTimeout"`
	HalfOpenRequests int    `yaml:"halfOpenRequests"`
}

// ManifestRetry 重试清单项
type ManifestRetry struct {
	MaxRetries int    `yaml:"maxRetries"`
	BaseWait   string `yaml:"baseWait"`
}

// ManifestFallback 降级链清单项
type ManifestFallback struct {
	Timeout         string                 `yaml:"timeout"`
	AllowStaleCache bool                   `yaml:"allowStaleCache"`
	Steps           []ManifestFallbackStep `yaml:"steps"`
}

// ManifestFallbackStep 降级链中的一步
type ManifestFallbackStep struct {
	Kind             string                 `yaml:"kind"`
	Tool             string                 `yaml:"tool"`
	SimplifiedParams map[string]interface{} `yaml:"simplifiedParams"`
	DefaultData      interface{}            `yaml:"defaultData"`
	DefaultMessage   string                 `yaml:"defaultMessage"`
}

// LoadToolManifest 读取并解析 tools.yaml。文件不存在不算错误，返回空清单。
func LoadToolManifest(path string) (*ToolManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ToolManifest{Tools: map[string]ToolManifestEntry{}}, nil
		}
		return nil, fmt.Errorf("read tool manifest %s: %w", path, err)
	}

	var m ToolManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse tool manifest %s: %w", path, err)
	}
	if m.Tools == nil {
		m.Tools = map[string]ToolManifestEntry{}
	}
	return &m, nil
}

// SettingsFor 把清单项合并到插件默认配置上，清单里没有的字段保留默认值
func (m *ToolManifest) SettingsFor(name string, defaults tool.Settings) (tool.Settings, error) {
	entry, ok := m.Tools[name]
	if !ok {
		return defaults, nil
	}

	out := defaults
	if entry.Enabled != nil {
		out.Enabled = *entry.Enabled
	}
	if entry.RateLimit != nil {
		timeout, err := parseDuration(entry.RateLimit.Timeout, name, "rateLimit.timeout")
		if err != nil {
			return out, err
		}
		out.RateLimit = &tool.RateLimitSettings{
			MaxConcurrent: entry.RateLimit.MaxConcurrent,
			MaxPerMinute:  entry.RateLimit.MaxPerMinute,
			Timeout:       timeout,
		}
	}
	if entry.Cache != nil {
		ttl, err := parseDuration(entry.Cache.TTL, name, "cache.ttl")
		if err != nil {
			return out, err
		}
		out.Cache = &tool.CacheSettings{
			Enabled:     entry.Cache.Enabled,
			TTL:         ttl,
			KeyStrategy: tool.CacheKeyStrategy(entry.Cache.KeyStrategy),
		}
		if out.Cache.KeyStrategy == "" {
			out.Cache.KeyStrategy = tool.KeyParamsHash
		}
	}
	if entry.Breaker != nil {
		reset, err := parseDuration(entry.Breaker.ResetTimeout, name, "breaker.resetTimeout")
		if err != nil {
			return out, err
		}
		out.Breaker = &tool.BreakerSettings{
			FailureThreshold: entry.Breaker.FailureThreshold,
			ResetTimeout:     reset,
			HalfOpenRequests: entry.Breaker.HalfOpenRequests,
		}
	}
	if entry.Retry != nil {
		wait, err := parseDuration(entry.Retry.BaseWait, name, "retry.baseWait")
		if err != nil {
			return out, err
		}
		out.Retry = &tool.RetrySettings{
			MaxRetries: entry.Retry.MaxRetries,
			BaseWait:   wait,
		}
	}
	if entry.Fallback != nil {
		timeout, err := parseDuration(entry.Fallback.Timeout, name, "fallback.timeout")
		if err != nil {
			return out, err
		}
		fb := &tool.FallbackSettings{
			Timeout:         timeout,
			AllowStaleCache: entry.Fallback.AllowStaleCache,
		}
		for _, step := range entry.Fallback.Steps {
			fb.Steps = append(fb.Steps, tool.FallbackStep{
				Kind:             tool.FallbackKind(step.Kind),
				Tool:             step.Tool,
				SimplifiedParams: step.SimplifiedParams,
				DefaultData:      step.DefaultData,
				DefaultMessage:   step.DefaultMessage,
			})
		}
		out.Fallback = fb
	}
	return out, nil
}

func parseDuration(s, toolName, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("tool %s: invalid %s %q: %w", toolName, field, s, err)
	}
	return d, nil
}

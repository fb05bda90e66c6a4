package tool

import "time"

// CacheKeyStrategy 缓存键的生成策略
type CacheKeyStrategy string

const (
	// KeyParamsHash 按工具名加参数哈希，所有用户共享
	KeyParamsHash CacheKeyStrategy = "params_hash"
	// KeyUserScoped 在参数哈希之外加入用户ID
	KeyUserScoped CacheKeyStrategy = "user_scoped"
	// KeyCustom 使用插件注册的自定义键函数
	KeyCustom CacheKeyStrategy = "custom"
)

// FallbackKind 降级策略类型
type FallbackKind string

const (
	// FallbackCache 读未过期缓存
	FallbackCache FallbackKind = "cache"
	// FallbackStaleCache 读已过期缓存
	FallbackStaleCache FallbackKind = "stale-cache"
	// FallbackTool 改调替代工具
	FallbackTool FallbackKind = "fallback-tool"
	// FallbackSimplified 用简化参数重试本工具
	FallbackSimplified FallbackKind = "simplified"
	// FallbackDefault 返回配置的兜底结果
	FallbackDefault FallbackKind = "default"
)

// RateLimitSettings 单个工具的限流配置
type RateLimitSettings struct {
	MaxConcurrent int           `json:"maxConcurrent"`
	MaxPerMinute  int           `json:"maxPerMinute"`
	Timeout       time.Duration `json:"timeout"`
}

// CacheSettings 单个工具的缓存配置
type CacheSettings struct {
	Enabled     bool             `json:"enabled"`
	TTL         time.Duration    `json:"ttl"`
	KeyStrategy CacheKeyStrategy `json:"keyStrategy"`
}

// BreakerSettings 单个工具的熔断配置
type BreakerSettings struct {
	FailureThreshold int           `json:"failureThreshold"`
	ResetTimeout     time.Duration `json:"resetTimeout"`
	HalfOpenRequests int           `json:"halfOpenRequests"`
}

// RetrySettings 执行失败后的重试配置
type RetrySettings struct {
	MaxRetries int           `json:"maxRetries"`
	BaseWait   time.Duration `json:"baseWait"`
}

// FallbackStep 降级链中的一步
type FallbackStep struct {
	Kind FallbackKind `json:"kind"`
	// Tool 替代工具名，kind 为 fallback-tool 时必填
	Tool string `json:"tool,omitempty"`
	// SimplifiedParams 合并进原参数，kind 为 simplified 时使用
	SimplifiedParams map[string]interface{} `json:"simplifiedParams,omitempty"`
	// DefaultData 兜底数据，kind 为 default 时使用
	DefaultData interface{} `json:"defaultData,omitempty"`
	// DefaultMessage 兜底文案
	DefaultMessage string `json:"defaultMessage,omitempty"`
}

// FallbackSettings 降级链配置，按顺序尝试，第一个产出结果的生效
type FallbackSettings struct {
	Timeout         time.Duration  `json:"timeout"`
	AllowStaleCache bool           `json:"allowStaleCache"`
	Steps           []FallbackStep `json:"steps"`
}

// Settings 单个工具的全部运行时配置，nil 字段表示该能力未启用
type Settings struct {
	Enabled   bool               `json:"enabled"`
	RateLimit *RateLimitSettings `json:"rateLimit,omitempty"`
	Cache     *CacheSettings     `json:"cache,omitempty"`
	Breaker   *BreakerSettings   `json:"breaker,omitempty"`
	Retry     *RetrySettings     `json:"retry,omitempty"`
	Fallback  *FallbackSettings  `json:"fallback,omitempty"`
}

// DefaultSettings 默认启用、无附加能力的配置
func DefaultSettings() Settings {
	return Settings{Enabled: true}
}

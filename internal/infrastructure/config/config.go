// Package config 加载网关配置。
//
// 分层加载：默认值 → config.yaml → 环境变量。
// 规格约定的环境变量（MAX_SSE_CONNECTIONS、ARK_API_KEY 等）不带前缀直接绑定，
// 其余配置走 NEXCHAT_ 前缀的自动映射。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Admission AdmissionConfig `mapstructure:"admission"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Stream    StreamConfig    `mapstructure:"stream"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // debug, release
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Driver sqlite | postgres | memory
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置，Addr 为空时进度和会话断点落在主库
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdmissionConfig SSE 接入限流配置
type AdmissionConfig struct {
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxPerUser       int           `mapstructure:"max_per_user"`
	ReleasePerSecond int           `mapstructure:"release_per_second"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	AbuseWindow      time.Duration `mapstructure:"abuse_window"`
	AbuseThreshold   int           `mapstructure:"abuse_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// LLMConfig 模型层配置：请求队列 + 各 Provider 接入点
type LLMConfig struct {
	// MaxConcurrent 同时在途的上游请求数
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// MaxRPM 每分钟放行的上游请求数
	MaxRPM int `mapstructure:"max_rpm"`
	// Timeout 单次上游请求超时
	Timeout time.Duration `mapstructure:"timeout"`

	Ark    ArkConfig    `mapstructure:"ark"`
	Ollama OllamaConfig `mapstructure:"ollama"`
}

// ArkConfig 火山方舟（OpenAI 兼容）接入配置
type ArkConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OllamaConfig 本地 Ollama 接入配置
type OllamaConfig struct {
	APIURL string `mapstructure:"api_url"`
	Model  string `mapstructure:"model"`
}

// EmbeddingConfig 向量化配置，长文本归并的近似去重用
type EmbeddingConfig struct {
	// Provider ark | ollama | 空（禁用）
	Provider string `mapstructure:"provider"`
	APIURL   string `mapstructure:"api_url"`
	Model    string `mapstructure:"model"`
}

// ToolsConfig 工具子系统配置
type ToolsConfig struct {
	// ManifestPath tools.yaml 路径，声明每个工具的限流/缓存/熔断/降级
	ManifestPath string `mapstructure:"manifest_path"`
	// BreakerMode composite | default
	BreakerMode string `mapstructure:"breaker_mode"`
	// TavilyAPIKey 搜索工具密钥
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
}

// SchedulerConfig LRU 归档调度配置
type SchedulerConfig struct {
	MaxActivePerUser        int           `mapstructure:"max_active_per_user"`
	AutoArchiveAfterDays    int           `mapstructure:"auto_archive_after_days"`
	MaxArchivedPerUser      int           `mapstructure:"max_archived_per_user"`
	DeleteArchivedAfterDays int           `mapstructure:"delete_archived_after_days"`
	SweepInterval           time.Duration `mapstructure:"sweep_interval"`
}

// UploadConfig 分片上传配置
type UploadConfig struct {
	// DataDir 分片落盘目录
	DataDir string `mapstructure:"data_dir"`
}

// StreamConfig 流式输出配置
type StreamConfig struct {
	// CharDelay 打字机模式的逐字间隔
	CharDelay time.Duration `mapstructure:"char_delay"`
	// BackpressureThreshold 待发缓冲超过该字符数切换成块模式
	BackpressureThreshold int `mapstructure:"backpressure_threshold"`
	// HeartbeatInterval SSE 心跳间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// directEnvBindings 部署约定的环境变量，不带前缀直接生效
var directEnvBindings = map[string]string{
	"admission.max_connections":  "MAX_SSE_CONNECTIONS",
	"admission.max_per_user":     "MAX_SSE_CONNECTIONS_PER_USER",
	"llm.max_concurrent":         "LLM_MAX_CONCURRENT",
	"llm.max_rpm":                "LLM_MAX_RPM",
	"llm.timeout":                "LLM_TIMEOUT",
	"llm.ollama.api_url":         "OLLAMA_API_URL",
	"llm.ollama.model":           "OLLAMA_MODEL",
	"llm.ark.api_key":            "ARK_API_KEY",
	"llm.ark.api_url":            "ARK_API_URL",
	"embedding.api_url":          "ARK_EMBEDDING_API_URL",
	"embedding.model":            "ARK_EMBEDDING_MODEL",
	"tools.tavily_api_key":       "TAVILY_API_KEY",
	"tools.breaker_mode":         "TOOL_CIRCUIT_BREAKER_MODE",
	"tools.manifest_path":        "TOOLS_MANIFEST",
	"database.driver":            "DATABASE_DRIVER",
	"database.dsn":               "DATABASE_DSN",
	"redis.addr":                 "REDIS_ADDR",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"server.addr":                "SERVER_ADDR",
}

// Load 加载配置。configPath 为空时在工作目录找 config.yaml。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		for _, dir := range []string{".", "./config"} {
			if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil {
				v.AddConfigPath(dir)
				break
			}
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for key, env := range directEnvBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	v.SetEnvPrefix("NEXCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "nexchat.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("admission.max_connections", 20)
	v.SetDefault("admission.max_per_user", 3)
	v.SetDefault("admission.release_per_second", 5)
	v.SetDefault("admission.token_ttl", "3m")
	v.SetDefault("admission.abuse_window", "10s")
	v.SetDefault("admission.abuse_threshold", 3)
	v.SetDefault("admission.cooldown", "30s")

	v.SetDefault("llm.max_concurrent", 3)
	v.SetDefault("llm.max_rpm", 60)
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.ark.api_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("llm.ark.model", "doubao-pro-32k")
	v.SetDefault("llm.ollama.api_url", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "qwen3:8b")

	v.SetDefault("tools.breaker_mode", "default")
	v.SetDefault("tools.manifest_path", "tools.yaml")

	v.SetDefault("scheduler.max_active_per_user", 50)
	v.SetDefault("scheduler.auto_archive_after_days", 30)
	v.SetDefault("scheduler.max_archived_per_user", 100)
	v.SetDefault("scheduler.delete_archived_after_days", 0)
	v.SetDefault("scheduler.sweep_interval", "1h")

	v.SetDefault("upload.data_dir", "data/uploads")

	v.SetDefault("stream.char_delay", "30ms")
	v.SetDefault("stream.backpressure_threshold", 500)
	v.SetDefault("stream.heartbeat_interval", "15s")
}

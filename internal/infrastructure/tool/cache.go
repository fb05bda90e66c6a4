package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

// KeyGenerator 自定义缓存键函数，keyStrategy=custom 时使用
type KeyGenerator func(toolName string, params map[string]interface{}, ec domaintool.ExecContext) string

type cacheEntry struct {
	result   *domaintool.Result
	storedAt time.Time
	ttl      time.Duration
}

func (e *cacheEntry) fresh(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

// CacheStats 缓存统计
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	StaleHits int64 `json:"staleHits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ResultCache 工具结果缓存。
// 条目数超限时淘汰最老的条目；过期条目只有降级链的 GetStale 能读到。
type ResultCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	keyGens    map[string]KeyGenerator
	now        func() time.Time

	hits      int64
	staleHits int64
	misses    int64
	evictions int64
}

// NewResultCache 创建结果缓存
func NewResultCache(maxEntries int) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &ResultCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		keyGens:    make(map[string]KeyGenerator),
		now:        time.Now,
	}
}

// RegisterKeyGenerator 注册自定义键函数
func (c *ResultCache) RegisterKeyGenerator(toolName string, gen KeyGenerator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyGens[toolName] = gen
}

// Key 按策略生成缓存键
func (c *ResultCache) Key(toolName string, params map[string]interface{}, ec domaintool.ExecContext, strategy domaintool.CacheKeyStrategy) string {
	switch strategy {
	case domaintool.KeyUserScoped:
		return fmt.Sprintf("%s:%s:%s", toolName, ec.UserID, paramsHash(params))
	case domaintool.KeyCustom:
		c.mu.Lock()
		gen, ok := c.keyGens[toolName]
		c.mu.Unlock()
		if ok {
			return gen(toolName, params, ec)
		}
		fallthrough
	default:
		return fmt.Sprintf("%s:%s", toolName, paramsHash(params))
	}
}

// Get 读取未过期的缓存
func (c *ResultCache) Get(key string) (*domaintool.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !entry.fresh(c.now()) {
		c.misses++
		return nil, false
	}
	c.hits++
	copied := *entry.result
	copied.FromCache = true
	return &copied, true
}

// GetStale 读取缓存而不管是否过期，仅供降级链使用
func (c *ResultCache) GetStale(key string) (*domaintool.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.staleHits++
	copied := *entry.result
	copied.FromCache = true
	return &copied, true
}

// Set 写入缓存。只缓存成功结果，由调用方保证。
func (c *ResultCache) Set(key string, result *domaintool.Result, ttl time.Duration) {
	if result == nil || ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	copied := *result
	copied.FromCache = false
	c.entries[key] = &cacheEntry{
		result:   &copied,
		storedAt: c.now(),
		ttl:      ttl,
	}
}

// Invalidate 删除一个键
func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats 返回缓存统计
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		StaleHits: c.staleHits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *ResultCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// paramsHash 参数的规范化哈希：键排序后序列化，取 sha256 前16位十六进制
func paramsHash(params map[string]interface{}) string {
	canonical := canonicalJSON(params)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

func canonicalJSON(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + canonicalJSON(val[k])
		}
		return out + "}"
	case []interface{}:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			out += canonicalJSON(item)
		}
		return out + "]"
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

package tool

import (
	"fmt"
	"testing"
	"time"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

func TestResultCache_KeyStrategies(t *testing.T) {
	c := NewResultCache(10)
	params := map[string]interface{}{"q": "go"}
	ec := domaintool.ExecContext{UserID: "u1"}

	shared := c.Key("search", params, ec, domaintool.KeyParamsHash)
	scoped := c.Key("search", params, ec, domaintool.KeyUserScoped)
	if shared == scoped {
		t.Fatal("user_scoped key must differ from params_hash key")
	}

	other := c.Key("search", params, domaintool.ExecContext{UserID: "u2"}, domaintool.KeyUserScoped)
	if scoped == other {
		t.Fatal("user_scoped keys must differ across users")
	}

	// 参数顺序不影响键
	reordered := c.Key("search", map[string]interface{}{"q": "go"}, ec, domaintool.KeyParamsHash)
	if shared != reordered {
		t.Fatal("same params must produce the same key")
	}
}

func TestResultCache_CustomKeyGenerator(t *testing.T) {
	c := NewResultCache(10)
	c.RegisterKeyGenerator("search", func(toolName string, params map[string]interface{}, ec domaintool.ExecContext) string {
		return "fixed-key"
	})

	got := c.Key("search", map[string]interface{}{"q": "a"}, domaintool.ExecContext{}, domaintool.KeyCustom)
	if got != "fixed-key" {
		t.Fatalf("key = %q, want fixed-key", got)
	}

	// 未注册生成器时退回 params_hash
	fallback := c.Key("other", map[string]interface{}{"q": "a"}, domaintool.ExecContext{}, domaintool.KeyCustom)
	if fallback == "" || fallback == "fixed-key" {
		t.Fatalf("unexpected fallback key: %q", fallback)
	}
}

func TestResultCache_FreshAndStale(t *testing.T) {
	c := NewResultCache(10)
	result := &domaintool.Result{ToolName: "search", Success: true, Data: "cached"}

	c.Set("k", result, 30*time.Millisecond)
	if got, ok := c.Get("k"); !ok || !got.FromCache {
		t.Fatalf("expected fresh hit, got %v %v", got, ok)
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry must miss on Get")
	}
	if got, ok := c.GetStale("k"); !ok || got.Data != "cached" {
		t.Fatal("expired entry should still be served by GetStale")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.StaleHits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestResultCache_ZeroTTLNotStored(t *testing.T) {
	c := NewResultCache(10)
	c.Set("k", &domaintool.Result{Success: true}, 0)
	if _, ok := c.GetStale("k"); ok {
		t.Fatal("zero TTL result must not be stored")
	}
}

func TestResultCache_EvictsOldest(t *testing.T) {
	c := NewResultCache(3)
	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), &domaintool.Result{Success: true}, time.Minute)
		time.Sleep(time.Millisecond)
	}

	stats := c.Stats()
	if stats.Entries != 3 || stats.Evictions != 1 {
		t.Fatalf("unexpected stats after eviction: %+v", stats)
	}
	if _, ok := c.Get("k0"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get("k3"); !ok {
		t.Fatal("newest entry must survive eviction")
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	rl := NewRateLimiter()
	settings := &domaintool.RateLimitSettings{MaxConcurrent: 2}

	rel1, _, ok1 := rl.Acquire("t", settings)
	rel2, _, ok2 := rl.Acquire("t", settings)
	if !ok1 || !ok2 {
		t.Fatal("first two acquisitions should succeed")
	}

	_, reason, ok := rl.Acquire("t", settings)
	if ok || reason != DenyConcurrency {
		t.Fatalf("third acquisition should be denied with concurrency, got ok=%v reason=%s", ok, reason)
	}

	rel1()
	rel1() // 幂等
	if _, _, ok := rl.Acquire("t", settings); !ok {
		t.Fatal("slot should be free after release")
	}
	rel2()
}

func TestRateLimiter_RPMWindow(t *testing.T) {
	rl := NewRateLimiter()
	clock := time.Now()
	rl.now = func() time.Time { return clock }
	settings := &domaintool.RateLimitSettings{MaxConcurrent: 10, MaxPerMinute: 2}

	for i := 0; i < 2; i++ {
		rel, _, ok := rl.Acquire("t", settings)
		if !ok {
			t.Fatalf("acquisition %d should succeed", i)
		}
		rel()
	}

	_, reason, ok := rl.Acquire("t", settings)
	if ok || reason != DenyRPM {
		t.Fatalf("expected rpm denial, got ok=%v reason=%s", ok, reason)
	}

	// 窗口滑过后恢复
	clock = clock.Add(61 * time.Second)
	if rel, _, ok := rl.Acquire("t", settings); !ok {
		t.Fatal("window should have cleared")
	} else {
		rel()
	}
}

func TestRateLimiter_NilSettingsUnlimited(t *testing.T) {
	rl := NewRateLimiter()
	for i := 0; i < 100; i++ {
		rel, _, ok := rl.Acquire("free", nil)
		if !ok {
			t.Fatal("nil settings must never deny")
		}
		rel()
	}
}

package service

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestLimiter(maxConn, maxPerUser int) (*AdmissionLimiter, *time.Time) {
	cfg := DefaultAdmissionConfig()
	cfg.MaxConnections = maxConn
	cfg.MaxPerUser = maxPerUser
	l := NewAdmissionLimiter(cfg, zap.NewNop())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.jitter = func() time.Duration { return 500 * time.Millisecond }
	return l, &now
}

func TestAdmissionCapacityAndQueue(t *testing.T) {
	l, _ := newTestLimiter(2, 10)

	r1 := l.Acquire("u1", "")
	if r1.Decision != AdmissionOK || r1.Release == nil {
		t.Fatalf("u1 expected ok, got %s", r1.Decision)
	}
	r2 := l.Acquire("u2", "")
	if r2.Decision != AdmissionOK {
		t.Fatalf("u2 expected ok, got %s", r2.Decision)
	}

	r3 := l.Acquire("u3", "")
	if r3.Decision != AdmissionQueued {
		t.Fatalf("u3 expected queued, got %s", r3.Decision)
	}
	if r3.Token == "" || r3.Position < 0 {
		t.Errorf("queued result incomplete: token=%q position=%d", r3.Token, r3.Position)
	}
	if r3.RetryAfter <= 0 {
		t.Errorf("retryAfter should be positive, got %v", r3.RetryAfter)
	}

	// 带令牌轮询：位置只会前移
	r3b := l.Acquire("u3", r3.Token)
	if r3b.Decision != AdmissionQueued {
		t.Fatalf("poll expected queued, got %s", r3b.Decision)
	}
	if r3b.Position > r3.Position {
		t.Errorf("position moved backwards: %d > %d", r3b.Position, r3.Position)
	}
	if r3b.Token != r3.Token {
		t.Errorf("poll should keep the same token")
	}

	// 释放一个槽位后，持令牌的等待者应被准入
	r1.Release()
	r3c := l.Acquire("u3", r3.Token)
	if r3c.Decision != AdmissionOK || r3c.Release == nil {
		t.Fatalf("after release expected ok, got %s", r3c.Decision)
	}

	stats := l.Stats()
	if stats.QueueDepth != 0 {
		t.Errorf("queue should be drained, depth=%d", stats.QueueDepth)
	}
	if stats.ActiveTotal != 2 {
		t.Errorf("activeTotal = %d, want 2", stats.ActiveTotal)
	}
}

func TestAdmissionPerUserCap(t *testing.T) {
	l, _ := newTestLimiter(10, 1)

	if r := l.Acquire("u1", ""); r.Decision != AdmissionOK {
		t.Fatalf("first stream expected ok, got %s", r.Decision)
	}
	if r := l.Acquire("u1", ""); r.Decision != AdmissionQueued {
		t.Errorf("second stream of same user expected queued, got %s", r.Decision)
	}
	// 其他用户不受影响
	if r := l.Acquire("u2", ""); r.Decision != AdmissionOK {
		t.Errorf("other user expected ok, got %s", r.Decision)
	}
}

func TestAdmissionForgedTokenCooldown(t *testing.T) {
	l, now := newTestLimiter(1, 1)

	if r := l.Acquire("legit", ""); r.Decision != AdmissionOK {
		t.Fatalf("setup failed: %s", r.Decision)
	}

	// 10 秒窗口内三次伪造令牌触发 30 秒冷却
	if r := l.Acquire("attacker", "fake-1"); r.Decision != AdmissionQueued {
		t.Fatalf("first forged expected queued, got %s", r.Decision)
	}
	*now = now.Add(2 * time.Second)
	if r := l.Acquire("attacker", "fake-2"); r.Decision != AdmissionQueued {
		t.Fatalf("second forged expected queued, got %s", r.Decision)
	}
	*now = now.Add(2 * time.Second)
	r := l.Acquire("attacker", "fake-3")
	if r.Decision != AdmissionRejected {
		t.Fatalf("third forged expected rejected, got %s", r.Decision)
	}
	if r.Cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", r.Cooldown)
	}

	// 冷却期内即使不带令牌也拒绝
	*now = now.Add(10 * time.Second)
	if r := l.Acquire("attacker", ""); r.Decision != AdmissionRejected {
		t.Errorf("during cooldown expected rejected, got %s", r.Decision)
	}

	// 冷却结束后恢复正常排队
	*now = now.Add(25 * time.Second)
	if r := l.Acquire("attacker", ""); r.Decision != AdmissionQueued {
		t.Errorf("after cooldown expected queued, got %s", r.Decision)
	}
}

func TestAdmissionForgedBelowThreshold(t *testing.T) {
	l, now := newTestLimiter(1, 1)
	l.Acquire("legit", "")

	// 窗口外的伪造不累计
	l.Acquire("u2", "fake-1")
	*now = now.Add(11 * time.Second)
	l.Acquire("u2", "fake-2")
	*now = now.Add(11 * time.Second)
	if r := l.Acquire("u2", "fake-3"); r.Decision != AdmissionQueued {
		t.Errorf("spaced forged tokens should not reject, got %s", r.Decision)
	}
}

func TestAdmissionExpiredTokenIsNotAbuse(t *testing.T) {
	l, now := newTestLimiter(1, 1)
	l.Acquire("legit", "")

	r := l.Acquire("u2", "")
	if r.Decision != AdmissionQueued {
		t.Fatalf("setup failed: %s", r.Decision)
	}

	// 超过 TTL 后令牌被惰性清理，持其重试按新请求处理
	*now = now.Add(4 * time.Minute)
	r2 := l.Acquire("u2", r.Token)
	if r2.Decision != AdmissionQueued {
		t.Fatalf("expired token retry expected queued, got %s", r2.Decision)
	}
	if r2.Token == r.Token {
		t.Errorf("expired token should be replaced with a fresh one")
	}
	if l.Stats().CooldownUsers != 0 {
		t.Errorf("expired token must not count as abuse")
	}
}

func TestAdmissionReleaseIdempotent(t *testing.T) {
	l, _ := newTestLimiter(2, 2)

	r := l.Acquire("u1", "")
	if r.Decision != AdmissionOK {
		t.Fatalf("setup failed: %s", r.Decision)
	}
	r.Release()
	r.Release()
	r.Release()

	if got := l.Stats().ActiveTotal; got != 0 {
		t.Errorf("activeTotal after double release = %d, want 0", got)
	}
}

func TestAdmissionQueueFIFO(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	l.Acquire("holder", "")

	first := l.Acquire("u1", "")
	second := l.Acquire("u2", "")
	if first.Position >= second.Position {
		t.Errorf("queue positions not FIFO: first=%d second=%d", first.Position, second.Position)
	}
	if second.RetryAfter < first.RetryAfter {
		t.Errorf("deeper position should not retry sooner: %v < %v", second.RetryAfter, first.RetryAfter)
	}
}

func TestAdmissionReleaseToken(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	l.Acquire("holder", "")

	r := l.Acquire("u1", "")
	l.ReleaseToken(r.Token)
	if got := l.Stats().QueueDepth; got != 0 {
		t.Errorf("queueDepth after ReleaseToken = %d, want 0", got)
	}
}

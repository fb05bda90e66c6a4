package tool

import (
	"testing"
	"time"

	domaintool "github.com/nexchat/gateway/internal/domain/tool"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := NewBreaker(domaintool.BreakerSettings{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if !b.Allow() {
		t.Fatal("breaker should stay closed below threshold")
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker must reject")
	}
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b := NewBreaker(domaintool.BreakerSettings{FailureThreshold: 2, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatal("success in between should reset the failure streak")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clock := time.Now()
	b := NewBreaker(domaintool.BreakerSettings{FailureThreshold: 1, ResetTimeout: 10 * time.Second, HalfOpenRequests: 1})
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("open breaker must reject")
	}

	// resetTimeout 过后放行一个探测请求
	clock = clock.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatal("half-open breaker should admit one probe")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	if b.Allow() {
		t.Fatal("second probe beyond half-open quota must be rejected")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatal("successful probe should close the breaker")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	b := NewBreaker(domaintool.BreakerSettings{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatal("expected half-open probe")
	}
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("half-open failure should re-trip the breaker")
	}

	snap := b.Snapshot()
	if snap.TotalTrips != 2 {
		t.Fatalf("TotalTrips = %d, want 2", snap.TotalTrips)
	}
}

func TestBreakerBoard_NilSettingsNeverBreaks(t *testing.T) {
	board := NewBreakerBoard("per-tool")
	for i := 0; i < 20; i++ {
		board.RecordFailure("free", nil)
	}
	if !board.Allow("free", nil) {
		t.Fatal("tool without breaker settings must never be rejected")
	}
}

func TestBreakerBoard_CompositeGlobalRate(t *testing.T) {
	board := NewBreakerBoard("composite")
	settings := &domaintool.BreakerSettings{FailureThreshold: 1000, ResetTimeout: time.Minute}

	// 填满全局窗口且全部失败，错误率 100%
	for i := 0; i < 20; i++ {
		board.RecordFailure("a", settings)
	}
	if board.Allow("b", settings) {
		t.Fatal("composite board should reject all tools when global error rate trips")
	}
}

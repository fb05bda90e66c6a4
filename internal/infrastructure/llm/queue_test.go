package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/nexchat/gateway/pkg/errors"
)

func newTestQueue(t *testing.T, maxConcurrent, maxRPM int, timeout time.Duration) *Queue {
	t.Helper()
	q := NewQueue(maxConcurrent, maxRPM, timeout, zap.NewNop())
	t.Cleanup(q.Stop)
	return q
}

func TestQueue_ExecutesWork(t *testing.T) {
	q := newTestQueue(t, 2, 100, time.Second)

	var ran atomic.Bool
	err := q.Enqueue(context.Background(), QueueOptions{Role: RoleSingle}, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran.Load() {
		t.Fatal("work did not run")
	}

	m := q.Metrics()
	if m.Processed != 1 || m.Succeeded != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	// 单并发队列：先占住唯一槽位，积压三个不同优先级的请求，
	// 释放后应按 host > single > reporter 的顺序派发。
	q := newTestQueue(t, 1, 1000, 5*time.Second)

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Enqueue(context.Background(), QueueOptions{Role: RoleSingle}, func(ctx context.Context) error {
			<-block
			return nil
		})
	}()

	// 等首个请求占住槽位
	waitFor(t, func() bool { return q.Metrics().Active == 1 })

	var mu sync.Mutex
	var order []Role
	depth := 0
	enqueue := func(role Role) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), QueueOptions{Role: role}, func(ctx context.Context) error {
				mu.Lock()
				order = append(order, role)
				mu.Unlock()
				return nil
			})
		}()
		depth++
		want := depth
		waitFor(t, func() bool { return q.Metrics().Depth == want })
	}

	enqueue(RoleReporter)
	enqueue(RoleSingle)
	enqueue(RoleHost)
	close(block)
	wg.Wait()

	want := []Role{RoleHost, RoleSingle, RoleReporter}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("expected %d executions, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestQueue_TimeoutFreesSlot(t *testing.T) {
	q := newTestQueue(t, 1, 1000, 5*time.Second)

	release := make(chan struct{})
	defer close(release)
	err := q.Enqueue(context.Background(), QueueOptions{Role: RoleSingle, Timeout: 20 * time.Millisecond}, func(ctx context.Context) error {
		<-release
		return nil
	})
	if err == nil || !domainErrors.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	// 槽位已释放，后续请求可以立即执行
	err = q.Enqueue(context.Background(), QueueOptions{Role: RoleSingle}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("slot not freed after timeout: %v", err)
	}

	m := q.Metrics()
	if m.TimedOut != 1 {
		t.Fatalf("expected 1 timeout, got %+v", m)
	}
}

func TestQueue_SkipRateLimitBypasses(t *testing.T) {
	q := newTestQueue(t, 1, 1, time.Second)

	var ran bool
	err := q.Enqueue(context.Background(), QueueOptions{Role: RoleSingle, SkipRateLimit: true}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("bypass should run immediately: err=%v ran=%v", err, ran)
	}
	if q.Metrics().Bypassed != 1 {
		t.Fatalf("bypass not counted: %+v", q.Metrics())
	}
}

func TestQueue_CallerCancellation(t *testing.T) {
	q := newTestQueue(t, 1, 1000, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(ctx, QueueOptions{Role: RoleSingle}, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("caller not released after cancellation")
	}

	// 取消后槽位回收
	waitFor(t, func() bool { return q.Metrics().Active == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

package llm

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/nexchat/gateway/pkg/errors"
	"github.com/nexchat/gateway/pkg/safego"
)

// Role identifies the caller class for priority assignment.
type Role string

const (
	RoleHost     Role = "host"
	RolePlanner  Role = "planner"
	RoleCritic   Role = "critic"
	RoleReporter Role = "reporter"
	RoleSingle   Role = "single"
)

// basePriority maps roles to base priorities. Higher dispatches first.
func basePriority(role Role) int {
	switch role {
	case RoleHost:
		return 100
	case RolePlanner:
		return 80
	case RoleCritic:
		return 60
	case RoleReporter:
		return 40
	default:
		return 50
	}
}

// QueueOptions controls a single enqueue.
type QueueOptions struct {
	Role Role
	// PriorityOffset adjusts the role's base priority
	PriorityOffset int
	// Timeout bounds the execution; zero uses the queue default
	Timeout time.Duration
	// SkipRateLimit runs the work immediately, bypassing the queue
	SkipRateLimit bool
}

// QueueMetrics is a point-in-time snapshot of queue counters.
type QueueMetrics struct {
	Depth        int     `json:"depth"`
	Active       int     `json:"active"`
	Processed    int64   `json:"processed"`
	Succeeded    int64   `json:"succeeded"`
	Failed       int64   `json:"failed"`
	TimedOut     int64   `json:"timedOut"`
	Bypassed     int64   `json:"bypassed"`
	P95LatencyMs float64 `json:"p95LatencyMs"`
}

type queueItem struct {
	priority int
	seq      uint64
	ctx      context.Context
	timeout  time.Duration
	execute  func(ctx context.Context) error
	resultCh chan error
}

// itemHeap orders by priority desc, then arrival order.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*queueItem))
}
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

const latencySampleSize = 128

// Queue is the single in-process gate in front of upstream LLM APIs.
//
// A single dispatcher goroutine owns the heap, the active count and the
// RPM sliding window; callers talk to it over channels, so no lock guards
// the scheduling state.
type Queue struct {
	maxConcurrent  int
	maxRPM         int
	defaultTimeout time.Duration
	logger         *zap.Logger

	submitCh chan *queueItem
	doneCh   chan time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	seq uint64

	mu        sync.Mutex
	depth     int
	active    int
	processed int64
	succeeded int64
	failed    int64
	timedOut  int64
	bypassed  int64
	samples   []time.Duration
	sampleIdx int
}

// NewQueue creates the LLM request queue and starts its dispatcher.
func NewQueue(maxConcurrent, maxRPM int, defaultTimeout time.Duration, logger *zap.Logger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if maxRPM <= 0 {
		maxRPM = 60
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 120 * time.Second
	}
	q := &Queue{
		maxConcurrent:  maxConcurrent,
		maxRPM:         maxRPM,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		submitCh:       make(chan *queueItem),
		doneCh:         make(chan time.Duration),
		stopCh:         make(chan struct{}),
	}
	safego.Go(logger, "llm-queue-dispatcher", q.dispatch)
	return q
}

// Stop shuts the dispatcher down. Pending items fail with cancelled.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Enqueue schedules execute behind the priority queue and blocks until it
// finishes, times out, or ctx is cancelled. SkipRateLimit bypasses the
// queue entirely (still counted in metrics).
func (q *Queue) Enqueue(ctx context.Context, opts QueueOptions, execute func(ctx context.Context) error) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}

	if opts.SkipRateLimit {
		q.mu.Lock()
		q.bypassed++
		q.mu.Unlock()
		execCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return execute(execCtx)
	}

	item := &queueItem{
		priority: basePriority(opts.Role) + opts.PriorityOffset,
		ctx:      ctx,
		timeout:  timeout,
		execute:  execute,
		resultCh: make(chan error, 1),
	}

	select {
	case q.submitCh <- item:
	case <-ctx.Done():
		return domainErrors.NewTimeoutError("llm request cancelled before enqueue")
	case <-q.stopCh:
		return domainErrors.NewServiceUnavailError("llm queue stopped")
	}

	select {
	case err := <-item.resultCh:
		return err
	case <-ctx.Done():
		// 槽位由 worker 在超时或取消时释放
		return domainErrors.NewTimeoutError("llm request cancelled")
	}
}

// Metrics returns a snapshot of queue counters.
func (q *Queue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueMetrics{
		Depth:        q.depth,
		Active:       q.active,
		Processed:    q.processed,
		Succeeded:    q.succeeded,
		Failed:       q.failed,
		TimedOut:     q.timedOut,
		Bypassed:     q.bypassed,
		P95LatencyMs: q.p95Locked(),
	}
}

func (q *Queue) p95Locked() float64 {
	if len(q.samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(q.samples))
	copy(sorted, q.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx].Milliseconds())
}

func (q *Queue) recordLatency(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.samples) < latencySampleSize {
		q.samples = append(q.samples, d)
	} else {
		q.samples[q.sampleIdx] = d
		q.sampleIdx = (q.sampleIdx + 1) % latencySampleSize
	}
}

// dispatch is the single scheduling loop. It pops the highest-priority
// item whenever a concurrency slot and an RPM slot are both free; when the
// RPM window is full it re-checks after one second.
func (q *Queue) dispatch() {
	var pending itemHeap
	heap.Init(&pending)
	active := 0
	var window []time.Time
	var retryTimer *time.Timer
	var retryCh <-chan time.Time

	updateGauges := func() {
		q.mu.Lock()
		q.depth = pending.Len()
		q.active = active
		q.mu.Unlock()
	}

	for {
		// 先尽量派发
		for pending.Len() > 0 && active < q.maxConcurrent {
			now := time.Now()
			window = pruneWindow(window, now)
			if len(window) >= q.maxRPM {
				if retryTimer == nil {
					retryTimer = time.NewTimer(time.Second)
					retryCh = retryTimer.C
				}
				break
			}
			item := heap.Pop(&pending).(*queueItem)
			if item.ctx.Err() != nil {
				item.resultCh <- domainErrors.NewTimeoutError("llm request cancelled")
				continue
			}
			window = append(window, now)
			active++
			q.runItem(item)
		}
		updateGauges()

		select {
		case item := <-q.submitCh:
			item.seq = q.seq
			q.seq++
			heap.Push(&pending, item)
		case d := <-q.doneCh:
			active--
			if d >= 0 {
				q.recordLatency(d)
			}
		case <-retryCh:
			retryTimer = nil
			retryCh = nil
		case <-q.stopCh:
			for pending.Len() > 0 {
				item := heap.Pop(&pending).(*queueItem)
				item.resultCh <- domainErrors.NewServiceUnavailError("llm queue stopped")
			}
			updateGauges()
			return
		}
	}
}

// runItem executes one item on its own goroutine, racing execute against
// the item timeout and caller cancellation. The slot is freed as soon as
// the race settles; a late execute result is discarded.
func (q *Queue) runItem(item *queueItem) {
	safego.Go(q.logger, "llm-queue-worker", func() {
		start := time.Now()
		execCtx, cancel := context.WithTimeout(item.ctx, item.timeout)

		execDone := make(chan error, 1)
		safego.Go(q.logger, "llm-queue-exec", func() {
			execDone <- item.execute(execCtx)
		})

		var result error
		var timedOut bool
		select {
		case err := <-execDone:
			result = err
		case <-execCtx.Done():
			timedOut = item.ctx.Err() == nil
			if timedOut {
				result = domainErrors.NewTimeoutError("llm request timed out")
			} else {
				result = domainErrors.NewTimeoutError("llm request cancelled")
			}
		}
		cancel()

		latency := time.Since(start)
		q.mu.Lock()
		q.processed++
		switch {
		case timedOut:
			q.timedOut++
		case result != nil:
			q.failed++
		default:
			q.succeeded++
		}
		q.mu.Unlock()

		item.resultCh <- result
		select {
		case q.doneCh <- latency:
		case <-q.stopCh:
		}
	})
}

func pruneWindow(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}

package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// This avoids pulling in the full prometheus/client_golang dependency.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		// Write metrics in Prometheus exposition format
		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// Request counters
			{"gateway_requests_total", "Total number of chat requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"gateway_requests_success_total", "Total successful requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"gateway_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			// Admission
			{"gateway_admission_rejected_total", "Requests rejected by the SSE admission limiter", "counter", atomic.LoadUint64(&m.metrics.AdmissionRejected)},
			{"gateway_admission_queued_total", "Requests placed in the admission wait queue", "counter", atomic.LoadUint64(&m.metrics.AdmissionQueued)},

			// Streaming
			{"gateway_streams_resumed_total", "Streams resumed from a progress checkpoint", "counter", atomic.LoadUint64(&m.metrics.StreamsResumed)},
			{"gateway_streams_aborted_total", "Streams aborted before completion", "counter", atomic.LoadUint64(&m.metrics.StreamsAborted)},
			{"gateway_heartbeats_sent_total", "SSE heartbeat comments sent", "counter", atomic.LoadUint64(&m.metrics.HeartbeatsSent)},

			// Tool call counters
			{"gateway_tool_calls_total", "Total tool calls executed", "counter", atomic.LoadUint64(&m.metrics.ToolCallsTotal)},
			{"gateway_tool_calls_success_total", "Total successful tool calls", "counter", atomic.LoadUint64(&m.metrics.ToolCallsSuccess)},
			{"gateway_tool_calls_failed_total", "Total failed tool calls", "counter", atomic.LoadUint64(&m.metrics.ToolCallsFailed)},
			{"gateway_tool_calls_cached_total", "Tool calls served from the result cache", "counter", atomic.LoadUint64(&m.metrics.ToolCallsCached)},

			// Model counters
			{"gateway_model_calls_total", "Total LLM model calls", "counter", atomic.LoadUint64(&m.metrics.ModelCallsTotal)},
			{"gateway_model_tokens_used_total", "Total tokens consumed", "counter", atomic.LoadUint64(&m.metrics.ModelTokensUsed)},

			// Errors
			{"gateway_errors_total", "Total errors encountered", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

			// Gauges
			{"gateway_active_streams", "Number of active SSE/WebSocket streams", "gauge", atomic.LoadInt64(&m.metrics.ActiveStreams)},
			{"gateway_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			// Runtime metrics
			{"gateway_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"gateway_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"gateway_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"gateway_gc_pause_total_ns", "Total GC pause time in nanoseconds", "counter", memStats.PauseTotalNs},
			{"gateway_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		// Latency summaries
		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP gateway_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE gateway_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "gateway_request_latency_avg_ms %f\n\n", avgMs)
		}

		toolCount := atomic.LoadUint64(&m.metrics.ToolLatencyCount)
		if toolCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.ToolLatencySum)) / float64(toolCount) / 1e6
			fmt.Fprintf(w, "# HELP gateway_tool_latency_avg_ms Average tool execution latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE gateway_tool_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "gateway_tool_latency_avg_ms %f\n\n", avgMs)
		}
	})
}

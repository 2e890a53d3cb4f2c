package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
// A nil *Collector is valid and records nothing.
type Collector struct {
	startedAt time.Time

	eventsTotal atomic.Uint64
	byType      sync.Map // string -> *atomic.Uint64

	replies sync.Map // "operation\x00status" -> *atomic.Uint64

	inFlight      atomic.Int64
	execCount     atomic.Uint64
	execNanosSum  atomic.Uint64
	eventFailures atomic.Uint64

	appendCount    atomic.Uint64
	appendNanosSum atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.Add(1)
	if eventType == "" {
		eventType = "unknown"
	}
	ptr, _ := c.byType.LoadOrStore(eventType, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

func (c *Collector) IncEventFailure() {
	if c == nil {
		return
	}
	c.eventFailures.Add(1)
}

// IncReply counts one gateway reply for an operation and status.
func (c *Collector) IncReply(operation, status string) {
	if c == nil {
		return
	}
	ptr, _ := c.replies.LoadOrStore(operation+"\x00"+status, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

// ExecStarted marks a child process as running and returns a func that
// records its completion.
func (c *Collector) ExecStarted() func() {
	if c == nil {
		return func() {}
	}
	c.inFlight.Add(1)
	start := time.Now()
	return func() {
		c.inFlight.Add(-1)
		c.execCount.Add(1)
		c.execNanosSum.Add(uint64(time.Since(start)))
	}
}

// ObserveAppend records how long one audit append took across all sinks.
func (c *Collector) ObserveAppend(d time.Duration) {
	if c == nil {
		return
	}
	c.appendCount.Add(1)
	c.appendNanosSum.Add(uint64(d))
}

type HandlerOptions struct {
	WhitelistSize func() int
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP artisan_mcp_up Whether the artisan-mcp server is running.\n")
		fmt.Fprint(w, "# TYPE artisan_mcp_up gauge\n")
		fmt.Fprint(w, "artisan_mcp_up 1\n")

		fmt.Fprint(w, "# HELP artisan_mcp_uptime_seconds Seconds since the collector was created.\n")
		fmt.Fprint(w, "# TYPE artisan_mcp_uptime_seconds gauge\n")
		fmt.Fprintf(w, "artisan_mcp_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP artisan_mcp_executions_in_flight Child processes currently running.\n")
		fmt.Fprint(w, "# TYPE artisan_mcp_executions_in_flight gauge\n")
		fmt.Fprintf(w, "artisan_mcp_executions_in_flight %d\n", c.inFlight.Load())

		fmt.Fprint(w, "# HELP artisan_mcp_execution_duration_seconds Wall time of finished child processes.\n")
		fmt.Fprint(w, "# TYPE artisan_mcp_execution_duration_seconds summary\n")
		fmt.Fprintf(w, "artisan_mcp_execution_duration_seconds_sum %.6f\n", time.Duration(c.execNanosSum.Load()).Seconds())
		fmt.Fprintf(w, "artisan_mcp_execution_duration_seconds_count %d\n", c.execCount.Load())

		fmt.Fprint(w, "# HELP artisan_mcp_events_total Total number of audit events appended.\n")
		fmt.Fprint(w, "# TYPE artisan_mcp_events_total counter\n")
		fmt.Fprintf(w, "artisan_mcp_events_total %d\n", c.eventsTotal.Load())

		fmt.Fprint(w, "# HELP artisan_mcp_event_failures_total Audit events that could not be stored.\n")
		fmt.Fprint(w, "# TYPE artisan_mcp_event_failures_total counter\n")
		fmt.Fprintf(w, "artisan_mcp_event_failures_total %d\n", c.eventFailures.Load())

		fmt.Fprint(w, "# HELP artisan_mcp_event_append_duration_seconds Time spent writing audit events to the sinks.\n")
		fmt.Fprint(w, "# TYPE artisan_mcp_event_append_duration_seconds summary\n")
		fmt.Fprintf(w, "artisan_mcp_event_append_duration_seconds_sum %.6f\n", time.Duration(c.appendNanosSum.Load()).Seconds())
		fmt.Fprintf(w, "artisan_mcp_event_append_duration_seconds_count %d\n", c.appendCount.Load())

		types := snapshotKeys(&c.byType)
		if len(types) > 0 {
			fmt.Fprint(w, "# HELP artisan_mcp_events_by_type_total Total audit events appended by type.\n")
			fmt.Fprint(w, "# TYPE artisan_mcp_events_by_type_total counter\n")
			for _, t := range types {
				fmt.Fprintf(w, "artisan_mcp_events_by_type_total{type=\"%s\"} %d\n", escapeLabelValue(t), load(&c.byType, t))
			}
		}

		replies := snapshotKeys(&c.replies)
		if len(replies) > 0 {
			fmt.Fprint(w, "# HELP artisan_mcp_replies_total Gateway replies by operation and status.\n")
			fmt.Fprint(w, "# TYPE artisan_mcp_replies_total counter\n")
			for _, k := range replies {
				op, status, _ := strings.Cut(k, "\x00")
				fmt.Fprintf(w, "artisan_mcp_replies_total{operation=\"%s\",status=\"%s\"} %d\n",
					escapeLabelValue(op), escapeLabelValue(status), load(&c.replies, k))
			}
		}

		if opts.WhitelistSize != nil {
			fmt.Fprint(w, "# HELP artisan_mcp_whitelist_entries Configured allow-list entries.\n")
			fmt.Fprint(w, "# TYPE artisan_mcp_whitelist_entries gauge\n")
			fmt.Fprintf(w, "artisan_mcp_whitelist_entries %d\n", opts.WhitelistSize())
		}
	})
}

func load(m *sync.Map, key string) uint64 {
	ptr, _ := m.Load(key)
	if ptr == nil {
		return 0
	}
	return ptr.(*atomic.Uint64).Load()
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}

// Package metrics is a small Prometheus-text-format collector for the
// agent, without pulling in client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewCollector()

type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

func (c *MetricsCollector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(name, &Counter{name: name, help: help})
	return actual.(*Counter)
}

func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(name, &Gauge{name: name, help: help})
	return actual.(*Gauge)
}

func (c *MetricsCollector) Histogram(name, help string, buckets []float64) *Histogram {
	if v, ok := c.histograms.Load(name); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(name, &Histogram{name: name, help: help, buckets: hb})
	return actual.(*Histogram)
}

// Handler renders all metrics in Prometheus text exposition format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP blenderagent_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE blenderagent_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "blenderagent_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		c.counters.Range(func(_, value any) bool {
			ctr := value.(*Counter)
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", ctr.name, ctr.help, ctr.name, ctr.name, ctr.Value())
			return true
		})
		c.gauges.Range(func(_, value any) bool {
			g := value.(*Gauge)
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", g.name, g.help, g.name, g.name, g.Value())
			return true
		})
		c.histograms.Range(func(_, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
			for _, b := range h.buckets {
				le := fmt.Sprintf("%g", b.le)
				if math.IsInf(b.le, 1) {
					le = "+Inf"
				}
				fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", h.name, le, b.count)
			}
			fmt.Fprintf(&sb, "%s_count %d\n%s_sum %f\n", h.name, h.count, h.name, h.sum)
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// Pre-defined metrics used across the agent.
var (
	TurnsTotal        = Collector.Counter("blenderagent_turns_total", "User turns processed")
	RoundsTotal       = Collector.Counter("blenderagent_rounds_total", "Model rounds run")
	ToolExecutions    = Collector.Counter("blenderagent_tool_executions_total", "Tool calls executed")
	ValidationFails   = Collector.Counter("blenderagent_validation_failures_total", "Tool calls rejected by schema validation")
	PseudoRecoveries  = Collector.Counter("blenderagent_pseudo_recoveries_total", "Tool calls recovered from untagged text")
	ModeFallbacks     = Collector.Counter("blenderagent_mode_fallbacks_total", "Native to structured engine fallbacks")
	PermissionDenials = Collector.Counter("blenderagent_permission_denials_total", "Tool calls refused or denied by the guard")
	AbortsTotal       = Collector.Counter("blenderagent_aborts_total", "Requests aborted by the user")
	PanelConnections  = Collector.Gauge("blenderagent_panel_connections", "Connected panel clients")

	LLMLatency = Collector.Histogram("blenderagent_llm_latency_seconds", "Provider request latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ToolLatency = Collector.Histogram("blenderagent_tool_latency_seconds", "Tool execution latency in seconds",
		[]float64{0.1, 0.5, 1, 5, 10, 30})
)

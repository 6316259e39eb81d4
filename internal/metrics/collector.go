// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the recruitbot gateway. It outputs text/plain in Prometheus
// exposition format without the prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type metricType string

const (
	typeCounter   metricType = "counter"
	typeGauge     metricType = "gauge"
	typeHistogram metricType = "histogram"
)

// series is one labelled time series of a family.
type series interface {
	writeTo(sb *strings.Builder, name, labels string)
}

// family groups the series sharing a metric name, help text and type.
type family struct {
	name   string
	help   string
	typ    metricType
	series map[string]series // keyed by label string
}

// MetricsCollector is a registry of metric families.
type MetricsCollector struct {
	mu        sync.Mutex
	families  map[string]*family
	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{families: make(map[string]*family), startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// lookup returns the series for name and labels, creating it with create on
// first use. Reusing a name with a different type is a programming error.
func (c *MetricsCollector) lookup(name, help, labels string, typ metricType, create func() series) series {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, typ: typ, series: make(map[string]series)}
		c.families[name] = f
	}
	if f.typ != typ {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.typ, typ))
	}
	s, ok := f.series[labels]
	if !ok {
		s = create()
		f.series[labels] = s
	}
	return s
}

// Counter is a monotonically increasing counter.
type Counter struct{ value atomic.Int64 }

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) writeTo(sb *strings.Builder, name, labels string) {
	writeSample(sb, name, labels, strconv.FormatInt(c.Value(), 10))
}

// Gauge is a value that can go up and down.
type Gauge struct{ value atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) writeTo(sb *strings.Builder, name, labels string) {
	writeSample(sb, name, labels, strconv.FormatInt(g.Value(), 10))
}

// Histogram tracks the distribution of observed values over fixed upper
// bounds. Bucket counts are cumulative, as the exposition format expects.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // per bound, non-cumulative
	count  int64
	sum    float64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) writeTo(sb *strings.Builder, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cumulative int64
	for i, le := range h.bounds {
		cumulative += h.counts[i]
		writeSample(sb, name+"_bucket", joinLabels(labels, `le="`+strconv.FormatFloat(le, 'g', -1, 64)+`"`), strconv.FormatInt(cumulative, 10))
	}
	writeSample(sb, name+"_bucket", joinLabels(labels, `le="+Inf"`), strconv.FormatInt(h.count, 10))
	writeSample(sb, name+"_sum", labels, strconv.FormatFloat(h.sum, 'f', -1, 64))
	writeSample(sb, name+"_count", labels, strconv.FormatInt(h.count, 10))
}

// Counter returns or creates a counter with the given name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.lookup(name, help, labels, typeCounter, func() series { return &Counter{} }).(*Counter)
}

// Gauge returns or creates a gauge with the given name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.lookup(name, help, labels, typeGauge, func() series { return &Gauge{} }).(*Gauge)
}

// Histogram returns or creates a histogram with the given name, labels and
// bucket upper bounds. Buckets are only read on first creation.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	return c.lookup(name, help, labels, typeHistogram, func() series {
		bounds := append([]float64(nil), buckets...)
		sort.Float64s(bounds)
		return &Histogram{bounds: bounds, counts: make([]int64, len(bounds))}
	}).(*Histogram)
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns every family in Prometheus text format, ordered by name and
// then by labels.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder
	writeHeader(&sb, "recruitbot_uptime_seconds", "Time since start in seconds", typeGauge)
	writeSample(&sb, "recruitbot_uptime_seconds", "", strconv.FormatInt(int64(c.Uptime().Seconds()), 10))

	c.mu.Lock()
	families := make([]*family, 0, len(c.families))
	for _, f := range c.families {
		families = append(families, f)
	}
	c.mu.Unlock()
	sort.Slice(families, func(i, j int) bool { return families[i].name < families[j].name })

	for _, f := range families {
		c.mu.Lock()
		labelSets := make([]string, 0, len(f.series))
		for labels := range f.series {
			labelSets = append(labelSets, labels)
		}
		sort.Strings(labelSets)
		members := make([]series, len(labelSets))
		for i, labels := range labelSets {
			members[i] = f.series[labels]
		}
		c.mu.Unlock()

		writeHeader(&sb, f.name, f.help, f.typ)
		for i, s := range members {
			s.writeTo(&sb, f.name, labelSets[i])
		}
	}
	return sb.String()
}

func writeHeader(sb *strings.Builder, name, help string, typ metricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func writeSample(sb *strings.Builder, name, labels, value string) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %s\n", name, labels, value)
		return
	}
	fmt.Fprintf(sb, "%s %s\n", name, value)
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

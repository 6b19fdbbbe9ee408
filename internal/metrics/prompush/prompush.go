// Package prompush implements a metrics.Backend that accumulates into a
// private Prometheus registry and pushes it to a Pushgateway on Flush. It
// suits one-shot commands (a single lookup, a harvested batch) that exit
// before any scraper could reach them.
package prompush

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"repscan/internal/metrics"
)

// DefaultURL is the usual local Pushgateway address.
const DefaultURL = "http://localhost:9091"

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// byteBuckets covers typical JSON API and lookup page sizes.
var byteBuckets = prometheus.ExponentialBuckets(256, 4, 8)

// Backend implements metrics.Backend.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	mu       sync.Mutex
	counters map[string]*vec[*prometheus.CounterVec]
	hists    map[string]*vec[*prometheus.HistogramVec]
}

// vec remembers the label names a collector was registered with; Prometheus
// requires every observation to use the same set.
type vec[T any] struct {
	c      T
	labels []string
}

// NewBackend returns a backend pushing job to the gateway at url.
func NewBackend(job, url string) (*Backend, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("prompush: job name is required")
	}
	if url == "" {
		url = DefaultURL
	}

	reg := prometheus.NewRegistry()
	return &Backend{
		reg:      reg,
		pusher:   push.New(url, job).Gatherer(reg),
		counters: make(map[string]*vec[*prometheus.CounterVec]),
		hists:    make(map[string]*vec[*prometheus.HistogramVec]),
	}, nil
}

func labelNames(l metrics.Labels) []string {
	names := make([]string, 0, len(l))
	for k := range l {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, l metrics.Labels) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = l[n]
	}
	return out
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.counters[name]
	if !ok {
		names := labelNames(labels)
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, names)
		if err := b.reg.Register(c); err != nil {
			return
		}
		v = &vec[*prometheus.CounterVec]{c: c, labels: names}
		b.counters[name] = v
	}
	if len(labels) != len(v.labels) {
		return
	}
	if m, err := v.c.GetMetricWithLabelValues(labelValues(v.labels, labels)...); err == nil {
		m.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.hists[name]
	if !ok {
		buckets := durationBuckets
		if strings.HasSuffix(name, "_bytes") {
			buckets = byteBuckets
		}
		names := labelNames(labels)
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help(name), Buckets: buckets}, names)
		if err := b.reg.Register(h); err != nil {
			return
		}
		v = &vec[*prometheus.HistogramVec]{c: h, labels: names}
		b.hists[name] = v
	}
	if len(labels) != len(v.labels) {
		return
	}
	if m, err := v.c.GetMetricWithLabelValues(labelValues(v.labels, labels)...); err == nil {
		m.Observe(value)
	}
}

// Flush pushes the registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

func help(name string) string {
	switch name {
	case metrics.StepTotal:
		return "Lookup pipeline steps by outcome."
	case metrics.StepDurationSeconds:
		return "Lookup pipeline step duration."
	case metrics.FieldsTotal:
		return "Fields extracted per group."
	case metrics.LookupsTotal:
		return "Finished lookups by outcome."
	}
	return strings.ReplaceAll(name, "_", " ")
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)

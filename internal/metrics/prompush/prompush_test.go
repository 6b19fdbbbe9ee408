package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"repscan/internal/metrics"
)

func TestNewBackend_RequiresJob(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("  ", "http://localhost:9091"); err == nil {
		t.Fatalf("expected error for empty job")
	}
}

// TestBackend_Accumulates verifies counters and histograms are registered on
// first use and that observations with a different label set are dropped
// instead of panicking.
func TestBackend_Accumulates(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("repscan", "")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	l := metrics.Labels{"step": "extract", "status": "ok"}
	b.IncCounter(metrics.StepTotal, 1, l)
	b.IncCounter(metrics.StepTotal, 2, l)
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "extract"})
	b.IncCounter(metrics.StepTotal, -1, l)
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.3, l)
	b.ObserveHistogram(metrics.HTTPDownloadBytes, 1024, metrics.Labels{"target": "ipinfo", "status": "200"})

	// Label names are registered sorted, so look the series up by name.
	steps := b.counters[metrics.StepTotal]
	if got := testutil.ToFloat64(steps.c.With(prometheus.Labels{"step": "extract", "status": "ok"})); got != 3 {
		t.Fatalf("step counter=%v, want 3", got)
	}
	if want := []string{"status", "step"}; strings.Join(steps.labels, ",") != strings.Join(want, ",") {
		t.Fatalf("label names = %v, want %v", steps.labels, want)
	}
	if n := testutil.CollectAndCount(b.reg); n != 3 {
		t.Fatalf("collected series=%d, want 3", n)
	}
}

// TestFlush_Pushes verifies Flush PUTs the job group to the gateway.
func TestFlush_Pushes(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	b, err := NewBackend("repscan", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/metrics/job/repscan" {
		t.Fatalf("unexpected push %s %s", method, path)
	}
	if !strings.Contains(body, metrics.LookupsTotal) {
		t.Fatalf("push body does not mention %s", metrics.LookupsTotal)
	}
}

func TestFlush_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	b, err := NewBackend("repscan", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"status": "ok"})
	if err := b.Flush(); err == nil {
		t.Fatalf("expected push error")
	}
}

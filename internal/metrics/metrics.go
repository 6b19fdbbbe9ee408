// Package metrics is the backend-neutral metrics facade used by the lookup
// pipeline. Code records through the package-level helpers; cmd/repscan
// installs a concrete backend (Datadog or Prometheus Pushgateway) at startup.
// Without one, every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names. Backends recognise these and ignore anything else.
const (
	StepTotal           = "repscan_step_total"
	StepDurationSeconds = "repscan_step_duration_seconds"
	FieldsTotal         = "repscan_fields_total"
	LookupsTotal        = "repscan_lookups_total"

	HTTPRequestsTotal          = "repscan_http_requests_total"
	HTTPErrorsTotal            = "repscan_http_errors_total"
	HTTPRequestDurationSeconds = "repscan_http_request_duration_seconds"
	HTTPDownloadBytes          = "repscan_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks the current backend to submit buffered data, if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Status maps an error to the "status" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStep counts one pipeline step and its duration.
func RecordStep(step string, err error, d time.Duration) {
	l := Labels{"step": step, "status": Status(err)}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordFields counts the fields a lookup produced for group.
func RecordFields(group string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(FieldsTotal, float64(n), Labels{"group": group})
}

// RecordLookup counts one finished lookup. status is "ok", "invalid" or
// "failed".
func RecordLookup(status string) {
	IncCounter(LookupsTotal, 1, Labels{"status": status})
}

// RecordHTTP records one outbound request. status is the HTTP status code,
// or 0 when no response was received.
func RecordHTTP(target string, status int, err error, d time.Duration, bytes int64) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	l := Labels{"target": target, "status": code}

	IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status >= 400 || status == 0 {
		IncCounter(HTTPErrorsTotal, 1, l)
	}
	ObserveHistogram(HTTPRequestDurationSeconds, d.Seconds(), l)
	if bytes > 0 {
		ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}

// Package metrics is the backend-neutral metrics facade used by the ingestion
// core and the HTTP layer.
//
// Core code calls the package-level helpers; a process selects one Backend at
// startup with SetBackend. The default backend discards everything, so library
// code and tests never need to configure metrics.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends switch on these; unknown names are ignored.
const (
	IngestTotal           = "chemviz_ingest_total"            // labels: status
	RecordsTotal          = "chemviz_records_total"           // labels: kind
	DatasetsEvictedTotal  = "chemviz_datasets_evicted_total"  // no labels
	IngestDurationSeconds = "chemviz_ingest_duration_seconds" // labels: status

	HTTPRequestsTotal          = "chemviz_http_requests_total"           // labels: status
	HTTPRequestDurationSeconds = "chemviz_http_request_duration_seconds" // labels: status
)

// Label values for RecordsTotal.
const (
	KindAccepted          = "accepted"
	KindDroppedMissing    = "dropped_missing"
	KindDroppedNonNumeric = "dropped_non_numeric"
)

// Label values for status labels.
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

// Labels are metric dimensions. Keep cardinality low.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered data. Backends without buffering return nil.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// ObserveSince records the seconds elapsed since start.
func ObserveSince(name string, start time.Time, labels Labels) {
	current().ObserveHistogram(name, time.Since(start).Seconds(), labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

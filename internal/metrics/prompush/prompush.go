// Package prompush implements a Prometheus Pushgateway backend for internal/metrics.
//
// Metrics are registered on a private registry and pushed on Flush(). The
// push replaces the whole group for the job, so every Flush sends cumulative
// values since process start.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"chemviz/internal/metrics"
)

// Backend implements metrics.Backend by pushing to a Pushgateway.
type Backend struct {
	pusher *push.Pusher

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewBackend builds a backend that pushes to gatewayURL under jobName.
//
// Errors:
//   - Returns an error if gatewayURL is empty.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if jobName == "" {
		jobName = "chemviz"
	}

	reg := prometheus.NewRegistry()
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
		reg.MustRegister(v)
		return v
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: prometheus.DefBuckets,
		}, labels)
		reg.MustRegister(v)
		return v
	}

	b := &Backend{
		counters: map[string]*prometheus.CounterVec{
			metrics.IngestTotal:          counter(metrics.IngestTotal, "Ingestion attempts by outcome.", "status"),
			metrics.RecordsTotal:         counter(metrics.RecordsTotal, "CSV rows by disposition.", "kind"),
			metrics.DatasetsEvictedTotal: counter(metrics.DatasetsEvictedTotal, "Datasets removed by retention."),
			metrics.HTTPRequestsTotal:    counter(metrics.HTTPRequestsTotal, "HTTP requests by status code.", "status"),
		},
		histograms: map[string]*prometheus.HistogramVec{
			metrics.IngestDurationSeconds:      histogram(metrics.IngestDurationSeconds, "Ingestion latency.", "status"),
			metrics.HTTPRequestDurationSeconds: histogram(metrics.HTTPRequestDurationSeconds, "HTTP request latency.", "status"),
		},
		pusher: push.New(gatewayURL, jobName).Gatherer(reg),
	}
	return b, nil
}

// labelValues extracts the values of vec-declared labels in order; missing
// labels become "unknown" so With never panics.
func labelValues(labels metrics.Labels, names ...string) prometheus.Labels {
	out := make(prometheus.Labels, len(names))
	for _, n := range names {
		v := labels[n]
		if v == "" {
			v = "unknown"
		}
		out[n] = v
	}
	return out
}

func labelNames(name string) []string {
	switch name {
	case metrics.DatasetsEvictedTotal:
		return nil
	case metrics.RecordsTotal:
		return []string{"kind"}
	}
	return []string{"status"}
}

// IncCounter implements metrics.Backend. Unknown names and non-positive deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	v, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	v.With(labelValues(labels, labelNames(name)...)).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names and negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	v, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	v.With(labelValues(labels, labelNames(name)...)).Observe(value)
}

// Flush pushes the current registry state to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)

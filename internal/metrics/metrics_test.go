package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string][]float64
	flushErr error
	flushes  int
}

func newRecording() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, hists: map[string][]float64{}}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+labels["status"]+labels["kind"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[name] = append(r.hists[name], value)
}

func (r *recordingBackend) Flush() error {
	r.flushes++
	return r.flushErr
}

func TestFacade_DelegatesToInstalledBackend(t *testing.T) {
	rb := newRecording()
	rb.flushErr = errors.New("push failed")
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter(IngestTotal, 1, Labels{"status": StatusOK})
	IncCounter(IngestTotal, 2, Labels{"status": StatusOK})
	IncCounter(RecordsTotal, 5, Labels{"kind": KindAccepted})
	ObserveHistogram(IngestDurationSeconds, 0.25, Labels{"status": StatusOK})
	ObserveSince(IngestDurationSeconds, time.Now().Add(-time.Second), Labels{"status": StatusOK})

	if got := rb.counters[IngestTotal+"|ok"]; got != 3 {
		t.Fatalf("ingest counter=%v want 3", got)
	}
	if got := rb.counters[RecordsTotal+"|accepted"]; got != 5 {
		t.Fatalf("records counter=%v want 5", got)
	}
	samples := rb.hists[IngestDurationSeconds]
	if len(samples) != 2 || samples[0] != 0.25 || samples[1] < 1 {
		t.Fatalf("unexpected samples: %v", samples)
	}
	if err := Flush(); err == nil || rb.flushes != 1 {
		t.Fatalf("Flush should delegate and return backend error; err=%v flushes=%d", err, rb.flushes)
	}
}

func TestFacade_NilBackendRestoresNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(IngestTotal, 1, nil)
	ObserveHistogram(IngestDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop Flush returned %v", err)
	}
}

package metrics

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"termsync/internal/async"
)

var expvarSeq uint64

// Expvar publishes attempt and decision totals via expvar for deployments
// that do not scrape Prometheus.
type Expvar struct {
	name      string
	mu        sync.Mutex
	inflight  int64
	durations map[string]float64
	results   map[string]map[string]int64
	decisions map[string]map[string]int64
}

// ExpvarSnapshot is a read-only view of the recorded totals.
type ExpvarSnapshot struct {
	Inflight    int64                       `json:"inflight"`
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Decisions   map[string]map[string]int64 `json:"decisions_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

var _ async.Observer = (*Expvar)(nil)

// NewExpvar publishes a recorder under name, or under a generated unique
// name when name is empty.
func NewExpvar(name string) *Expvar {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("termsync_import_metrics_%d", id)
	}
	e := &Expvar{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		decisions: make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return e.Snapshot() }))
	return e
}

// Name returns the expvar export name.
func (e *Expvar) Name() string { return e.name }

// Snapshot copies the current totals.
func (e *Expvar) Snapshot() ExpvarSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	durations := make(map[string]float64, len(e.durations))
	for k, v := range e.durations {
		durations[k] = v
	}
	return ExpvarSnapshot{
		Inflight:    e.inflight,
		DurationsMS: durations,
		Results:     copyCounts(e.results),
		Decisions:   copyCounts(e.decisions),
		RecordedAt:  time.Now().UTC(),
	}
}

func copyCounts(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for k, counts := range in {
		cpy := make(map[string]int64, len(counts))
		for label, n := range counts {
			cpy[label] = n
		}
		out[k] = cpy
	}
	return out
}

func bump(m map[string]map[string]int64, key, label string) {
	if _, ok := m[key]; !ok {
		m[key] = make(map[string]int64, 2)
	}
	m[key][label]++
}

// TaskStarted implements async.Observer.
func (e *Expvar) TaskStarted(async.Event) {
	e.mu.Lock()
	e.inflight++
	e.mu.Unlock()
}

// TaskFinished implements async.Observer.
func (e *Expvar) TaskFinished(ev async.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--
	e.durations[ev.Terminology] += float64(ev.Duration) / float64(time.Millisecond)
	bump(e.results, ev.Terminology, outcome(ev.Err))
}

// RecordDecision counts one update decision.
func (e *Expvar) RecordDecision(terminology, decision string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bump(e.decisions, terminology, decision)
}

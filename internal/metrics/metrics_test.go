package metrics

import (
	"errors"
	"expvar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"termsync/internal/async"
)

func TestPrometheusRecordsAttempts(t *testing.T) {
	p := NewPrometheus()
	p.TaskStarted(async.Event{Terminology: "loinc"})
	if got := testutil.ToFloat64(p.inflight); got != 1 {
		t.Fatalf("inflight = %v", got)
	}
	p.TaskFinished(async.Event{Terminology: "loinc", Duration: 2 * time.Second})
	p.TaskStarted(async.Event{Terminology: "loinc"})
	p.TaskFinished(async.Event{Terminology: "loinc", Duration: time.Second, Err: errors.New("boom")})

	if got := testutil.ToFloat64(p.inflight); got != 0 {
		t.Fatalf("inflight = %v", got)
	}
	if got := testutil.ToFloat64(p.attempts.WithLabelValues("loinc", OutcomeSuccess)); got != 1 {
		t.Fatalf("success attempts = %v", got)
	}
	if got := testutil.ToFloat64(p.attempts.WithLabelValues("loinc", OutcomeFailure)); got != 1 {
		t.Fatalf("failed attempts = %v", got)
	}
	if n := testutil.CollectAndCount(p.duration); n != 1 {
		t.Fatalf("expected one duration series, got %d", n)
	}
}

func TestPrometheusDecisionsAndHandler(t *testing.T) {
	p := NewPrometheus()
	p.RecordDecision("hl7", "scheduled")
	p.RecordDecision("hl7", "scheduled")
	p.RecordDecision("hl7", "already_imported")
	expected := `
# HELP termsync_import_decisions_total Update requests by terminology and decision.
# TYPE termsync_import_decisions_total counter
termsync_import_decisions_total{decision="already_imported",terminology="hl7"} 1
termsync_import_decisions_total{decision="scheduled",terminology="hl7"} 2
`
	if err := testutil.CollectAndCompare(p.decisions, strings.NewReader(expected)); err != nil {
		t.Fatalf("decisions: %v", err)
	}

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "termsync_import_decisions_total") || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("unexpected exposition:\n%s", body)
	}
}

func TestExpvarSnapshot(t *testing.T) {
	e := NewExpvar("")
	if expvar.Get(e.Name()) == nil {
		t.Fatalf("recorder not published as %s", e.Name())
	}
	e.TaskStarted(async.Event{Terminology: "atc"})
	e.TaskFinished(async.Event{Terminology: "atc", Duration: 1500 * time.Millisecond})
	e.TaskStarted(async.Event{Terminology: "atc"})
	e.TaskFinished(async.Event{Terminology: "atc", Duration: 500 * time.Millisecond, Err: errors.New("x")})
	e.RecordDecision("atc", "scheduled")

	snap := e.Snapshot()
	if snap.Inflight != 0 || snap.DurationsMS["atc"] != 2000 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Results["atc"][OutcomeSuccess] != 1 || snap.Results["atc"][OutcomeFailure] != 1 || snap.Decisions["atc"]["scheduled"] != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	snap.Results["atc"][OutcomeSuccess] = 99
	if e.Snapshot().Results["atc"][OutcomeSuccess] != 1 {
		t.Fatalf("snapshot must be a copy")
	}
	if !strings.Contains(expvar.Get(e.Name()).String(), "durations_ms_total") {
		t.Fatalf("expvar output missing totals")
	}
}

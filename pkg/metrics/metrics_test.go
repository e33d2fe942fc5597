package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("test_total", "A test counter")
	c.Inc()
	c.Inc()
	c.Add(5)
	if c.Value() != 7 {
		t.Fatalf("expected 7, got %d", c.Value())
	}
	if r.Counter("test_total", "") != c {
		t.Fatal("expected same counter instance")
	}
}

func TestGauge(t *testing.T) {
	g := New().Gauge("test_gauge", "A test gauge")
	g.Set(42)
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 43 {
		t.Fatalf("expected 43, got %d", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := New().Histogram("test_duration_seconds", "", []float64{1.0, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 2.0} {
		h.Observe(v)
	}
	buckets, counts, sum, count := h.snapshot()
	if buckets[0] != 0.1 || buckets[2] != 1.0 {
		t.Fatalf("buckets should be sorted: %v", buckets)
	}
	if counts[0] != 2 || counts[1] != 1 || counts[2] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if count != 5 || sum < 3.24 || sum > 3.26 {
		t.Fatalf("unexpected sum/count: %v/%d", sum, count)
	}
}

func TestWithLabels(t *testing.T) {
	if got := WithLabels("foo", "a", "1", "b", "2"); got != `foo{a="1",b="2"}` {
		t.Fatalf("got %s", got)
	}
	if got := WithLabels("foo", "odd"); got != "foo" {
		t.Fatalf("odd label list should be ignored, got %s", got)
	}
}

func TestRender(t *testing.T) {
	r := New()
	r.Counter(WithLabels("logbot_ingest_documents_total", "status", "success"), "Documents ingested").Add(2)
	r.Counter(WithLabels("logbot_ingest_documents_total", "status", "error"), "").Inc()
	r.Gauge("logbot_ingest_active_documents", "In flight").Set(1)
	r.Histogram(WithLabels("logbot_retrieve_duration_seconds", "phase", "search"), "Retrieval latency", []float64{1}).Observe(0.5)

	out := r.Render()
	for _, want := range []string{
		"# HELP logbot_ingest_documents_total Documents ingested",
		"# TYPE logbot_ingest_documents_total counter",
		`logbot_ingest_documents_total{status="error"} 1`,
		`logbot_ingest_documents_total{status="success"} 2`,
		"logbot_ingest_active_documents 1",
		`logbot_retrieve_duration_seconds_bucket{le="1",phase="search"} 1`,
		`logbot_retrieve_duration_seconds_bucket{le="+Inf",phase="search"} 1`,
		`logbot_retrieve_duration_seconds_count{phase="search"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestKindMismatchPanics(t *testing.T) {
	r := New()
	r.Counter("dup", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on kind mismatch")
		}
	}()
	r.Gauge("dup", "")
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("hits_total", "").Inc()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

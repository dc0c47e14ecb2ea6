package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounterRender(t *testing.T) {
	r := New()
	c := r.Counter("ragengine_docs_total", "Documents ingested")
	c.Inc()
	c.Add(4)

	out := r.Render()
	for _, want := range []string{
		"# HELP ragengine_docs_total Documents ingested",
		"# TYPE ragengine_docs_total counter",
		"ragengine_docs_total 5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestCounterIsSingleton(t *testing.T) {
	r := New()
	a := r.Counter("x_total", "")
	b := r.Counter("x_total", "")
	if a != b {
		t.Error("same name must return the same counter")
	}
}

func TestLabeledSeries(t *testing.T) {
	r := New()
	r.Counter(WithLabels("ragengine_errors_total", "stage", "embed"), "Errors by stage").Inc()
	r.Counter(WithLabels("ragengine_errors_total", "stage", "store"), "Errors by stage").Add(2)

	out := r.Render()
	if !strings.Contains(out, `ragengine_errors_total{stage="embed"} 1`) {
		t.Errorf("missing embed series:\n%s", out)
	}
	if !strings.Contains(out, `ragengine_errors_total{stage="store"} 2`) {
		t.Errorf("missing store series:\n%s", out)
	}
	if strings.Count(out, "# TYPE ragengine_errors_total") != 1 {
		t.Error("labeled series must share one TYPE line")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("queue_depth", "")
	g.Set(3)
	g.Inc()
	g.Dec()
	if g.Value() != 3 {
		t.Errorf("gauge = %d", g.Value())
	}
}

func TestHistogramCumulativeBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("latency_seconds", "Latency", []float64{0.1, 1, 10})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(0.7)
	h.Observe(100) // beyond all buckets

	out := r.Render()
	for _, want := range []string{
		`latency_seconds_bucket{le="0.1"} 1`,
		`latency_seconds_bucket{le="1"} 3`,
		`latency_seconds_bucket{le="10"} 3`,
		`latency_seconds_bucket{le="+Inf"} 4`,
		`latency_seconds_count 4`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestHistogramSince(t *testing.T) {
	r := New()
	h := r.Histogram("d_seconds", "", nil)
	h.Since(time.Now().Add(-time.Millisecond))
	if _, _, _, count := h.snapshot(); count != 1 {
		t.Errorf("count = %d", count)
	}
}

func TestHandlerContentType(t *testing.T) {
	r := New()
	r.Counter("up", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "up 1") {
		t.Errorf("body:\n%s", rec.Body.String())
	}
}

func TestRenderPreservesRegistrationOrder(t *testing.T) {
	r := New()
	r.Counter("first_total", "")
	r.Gauge("second_depth", "")

	out := r.Render()
	if strings.Index(out, "first_total") > strings.Index(out, "second_depth") {
		t.Error("metrics should render in registration order")
	}
}

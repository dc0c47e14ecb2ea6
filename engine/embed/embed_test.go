package embed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeterministicIsDeterministic(t *testing.T) {
	p := NewDeterministic(DefaultDimensions)

	a1, err := p.EmbedQuery(context.Background(), "abc")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	a2, _ := p.EmbedQuery(context.Background(), "abc")
	b, _ := p.EmbedQuery(context.Background(), "abd")

	if len(a1) != DefaultDimensions {
		t.Fatalf("dimension = %d, want %d", len(a1), DefaultDimensions)
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("same text produced different vectors at index %d", i)
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different text produced identical vectors")
	}
}

func TestDeterministicEmptyText(t *testing.T) {
	p := NewDeterministic(8)
	v, err := p.EmbedQuery(context.Background(), "")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("v[%d] = %f, want 0 for empty text", i, x)
		}
	}
}

func TestDeterministicBatchOrder(t *testing.T) {
	p := NewDeterministic(16)
	texts := []string{"one", "two", "three"}
	vecs, err := p.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		want, _ := p.EmbedQuery(context.Background(), text)
		for j := range want {
			if vecs[i][j] != want[j] {
				t.Fatalf("batch vector %d differs from single embed of %q", i, text)
			}
		}
	}
}

func newEmbedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /embed", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vecs := make([][]float32, len(req.Texts))
		for i := range req.Texts {
			vecs[i] = make([]float32, dims)
			vecs[i][0] = float32(i + 1)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: vecs, Dimensions: dims})
	})
	return httptest.NewServer(mux)
}

func TestServiceClientEmbedDocuments(t *testing.T) {
	srv := newEmbedServer(t, 4)
	defer srv.Close()

	c := NewServiceClient(srv.URL, ServiceOpts{})
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}

	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("order not preserved: %v", vecs)
	}
}

func TestServiceClientRejectsShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}, Dimensions: 1})
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL, ServiceOpts{})
	c.retry.MaxAttempts = 1
	if _, err := c.EmbedDocuments(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for mismatched vector count")
	}
}

func TestSelectFallsBackWhenServiceDown(t *testing.T) {
	down := NewServiceClient("http://127.0.0.1:1", ServiceOpts{})
	p := Select(context.Background(), slog.Default(), down, NewDeterministic(DefaultDimensions))
	if p.Name() != "deterministic-fallback" {
		t.Fatalf("selected %q, want deterministic-fallback", p.Name())
	}
}

func TestSelectPrefersHealthyService(t *testing.T) {
	srv := newEmbedServer(t, 4)
	defer srv.Close()

	primary := NewServiceClient(srv.URL, ServiceOpts{})
	p := Select(context.Background(), slog.Default(), primary, NewDeterministic(DefaultDimensions))
	if p.Name() != "microservice" {
		t.Fatalf("selected %q, want microservice", p.Name())
	}
}

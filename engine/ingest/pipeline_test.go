package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/engine/semantic"
)

// mockProvider returns fixed-width vectors, optionally failing or emitting a
// wrong-width vector at one position.
type mockProvider struct {
	dims     int
	err      error
	badAt    int // index of a wrong-width vector, -1 for none
	produced int
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return make([]float32, m.dims), nil
}

func (m *mockProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		dims := m.dims
		if m.produced+i == m.badAt {
			dims = m.dims + 1
		}
		out[i] = make([]float32, dims)
	}
	m.produced += len(texts)
	return out, nil
}

// mockStore records writes in memory.
type mockStore struct {
	ensuredDims int
	records     []semantic.VectorRecord
	upsertErr   error
	upserts     int
}

func (m *mockStore) EnsureCollection(_ context.Context, dims int) error {
	m.ensuredDims = dims
	return nil
}

func (m *mockStore) Upsert(_ context.Context, records []semantic.VectorRecord) error {
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records = append(m.records, records...)
	return nil
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestPipeline(provider *mockProvider, store *mockStore) *Pipeline {
	return NewPipeline(Deps{
		Embedder: provider,
		Store:    store,
		Chunker:  NewChunker(50, 10),
	})
}

func TestPipelineIngestsDocument(t *testing.T) {
	text := strings.Repeat("Retrieval augmented generation grounds answers in documents. ", 30)
	path := writeDoc(t, "rag-notes.txt", text)

	provider := &mockProvider{dims: 8, badAt: -1}
	store := &mockStore{}
	p := newTestPipeline(provider, store)

	res := p.Run(context.Background(), path, "rag-notes.txt")
	if !res.Success {
		t.Fatalf("ingest failed: %s", res.Err)
	}
	if res.ChunkCount == 0 || res.ChunkCount != len(store.records) {
		t.Fatalf("chunk count %d, stored %d", res.ChunkCount, len(store.records))
	}
	if store.ensuredDims != 8 {
		t.Errorf("collection ensured with dims %d, want 8", store.ensuredDims)
	}
	for i, rec := range store.records {
		if _, err := uuid.Parse(rec.ID); err != nil {
			t.Errorf("record %d has non-UUID id %q", i, rec.ID)
		}
		if rec.Payload["filename"] != "rag-notes.txt" {
			t.Errorf("record %d payload filename = %v", i, rec.Payload["filename"])
		}
	}
}

func TestPipelineMissingFile(t *testing.T) {
	p := newTestPipeline(&mockProvider{dims: 4, badAt: -1}, &mockStore{})
	res := p.Run(context.Background(), "/nonexistent/nowhere.txt", "nowhere.txt")
	if res.Success {
		t.Fatal("missing file must fail")
	}
	if res.Err == "" {
		t.Error("failure must carry the error text")
	}
}

func TestPipelineBlankDocument(t *testing.T) {
	path := writeDoc(t, "blank.txt", "   \n\t\n  ")
	store := &mockStore{}
	p := newTestPipeline(&mockProvider{dims: 4, badAt: -1}, store)

	res := p.Run(context.Background(), path, "blank.txt")
	if res.Success {
		t.Fatal("blank document must fail")
	}
	if store.upserts != 0 {
		t.Error("nothing should be written for a blank document")
	}
}

func TestPipelineEmbedFailureWritesNothing(t *testing.T) {
	path := writeDoc(t, "doc.txt", "Some perfectly fine document content here.")
	store := &mockStore{}
	p := newTestPipeline(&mockProvider{err: errors.New("provider down"), badAt: -1}, store)

	res := p.Run(context.Background(), path, "doc.txt")
	if res.Success {
		t.Fatal("embed failure must fail the document")
	}
	if store.upserts != 0 {
		t.Error("embed failure must not reach the store")
	}
}

func TestPipelineDimensionMismatch(t *testing.T) {
	text := strings.Repeat("Sentence one about vectors and their widths. ", 20)
	path := writeDoc(t, "doc.txt", text)
	store := &mockStore{}
	p := newTestPipeline(&mockProvider{dims: 8, badAt: 1}, store)

	res := p.Run(context.Background(), path, "doc.txt")
	if res.Success {
		t.Fatal("inconsistent vector widths must fail the document")
	}
	if !strings.Contains(res.Err, "dims") {
		t.Errorf("error should name the dimension problem: %s", res.Err)
	}
	if store.upserts != 0 {
		t.Error("mismatched batch must not be written")
	}
}

func TestPipelineStoreFailure(t *testing.T) {
	path := writeDoc(t, "doc.txt", "A short but valid document about storage.")
	store := &mockStore{upsertErr: errors.New("write refused")}
	p := newTestPipeline(&mockProvider{dims: 8, badAt: -1}, store)

	res := p.Run(context.Background(), path, "doc.txt")
	if res.Success {
		t.Fatal("store failure must fail the document")
	}
	if store.upserts == 0 {
		t.Error("the write should have been attempted")
	}
}

func TestStoreStageBatchOrdinalKeepsIDsDistinct(t *testing.T) {
	// One more chunk than a single upsert batch holds, with the chunk in the
	// second batch reusing the first chunk's index. The IDs stay distinct only
	// if the seed carries the batch ordinal.
	n := UpsertBatchSize + 1
	doc := EmbeddedDoc{Vectors: make([][]float32, n), Dims: 4}
	doc.Filename = "dup-index.txt"
	doc.Chunks = make([]domain.Chunk, n)
	for i := range doc.Chunks {
		doc.Chunks[i] = domain.Chunk{Index: i, Text: "chunk text"}
		doc.Vectors[i] = make([]float32, 4)
	}
	doc.Chunks[n-1].Index = 0

	store := &mockStore{}
	res := NewStore(store)(context.Background(), doc)
	if _, err := res.Unwrap(); err != nil {
		t.Fatalf("store stage failed: %v", err)
	}
	if store.upserts != 2 {
		t.Fatalf("got %d upsert calls, want 2", store.upserts)
	}
	seen := make(map[string]int, n)
	for i, rec := range store.records {
		if prev, ok := seen[rec.ID]; ok {
			t.Fatalf("records %d and %d share id %s", prev, i, rec.ID)
		}
		seen[rec.ID] = i
	}
}

func TestPointIDDeterministicAndDistinct(t *testing.T) {
	a := PointID("report.pdf", 0, 1700000000000, 0)
	b := PointID("report.pdf", 0, 1700000000000, 0)
	if a != b {
		t.Error("same seed must produce the same id")
	}
	if PointID("report.pdf", 1, 1700000000000, 1) == a {
		t.Error("different chunk index must produce a different id")
	}
	if PointID("report.pdf", 0, 1700000000001, 0) == a {
		t.Error("different insert time must produce a different id")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("point id %q is not a UUID", a)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"simple.pdf":          "simple.pdf",
		"with spaces here.md": "with-spaces-here.md",
		"weird/..\\chars?.txt": "weird-..-chars-.txt",
		"résumé.pdf":          "r-sum-.pdf",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

package semantic

import (
	"errors"
	"testing"
	"time"

	"github.com/taskflow-ai/ragengine/engine/domain"
)

func TestSanitizePayload(t *testing.T) {
	in := map[string]any{
		"s":      "text",
		"i":      7,
		"i64":    int64(9),
		"f":      1.5,
		"b":      true,
		"nested": map[string]string{"a": "b"},
	}
	out := sanitizePayload(in)

	if out["s"].GetStringValue() != "text" {
		t.Errorf("string: %v", out["s"])
	}
	if out["i"].GetIntegerValue() != 7 || out["i64"].GetIntegerValue() != 9 {
		t.Errorf("ints: %v %v", out["i"], out["i64"])
	}
	if out["f"].GetDoubleValue() != 1.5 {
		t.Errorf("float: %v", out["f"])
	}
	if !out["b"].GetBoolValue() {
		t.Errorf("bool: %v", out["b"])
	}
	// Nested objects are JSON-stringified, not dropped.
	if out["nested"].GetStringValue() != `{"a":"b"}` {
		t.Errorf("nested: %v", out["nested"])
	}
}

func TestChunkRoundTripThroughPayload(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := domain.Chunk{
		Text:           "Beta deployment steps.",
		SourceFilename: "runbook.pdf",
		SourcePath:     "/data/pdfs/runbook.pdf",
		Index:          3,
		Page:           2,
		TokenEstimate:  6,
		Type:           domain.ChunkList,
		ContentHash:    "deadbeef",
		CreatedAt:      created,
	}

	rec := RecordFromChunk("id-1", c, []float32{0.1})
	got := chunkFromPayload(payloadToMap(sanitizePayload(rec.Payload)))

	if got.Text != c.Text || got.SourceFilename != c.SourceFilename ||
		got.Index != c.Index || got.Page != c.Page ||
		got.Type != c.Type || got.ContentHash != c.ContentHash ||
		got.TokenEstimate != c.TokenEstimate {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, created)
	}
}

func TestBuildFilter(t *testing.T) {
	if buildFilter(nil) != nil {
		t.Error("nil filter should produce nil")
	}
	f := buildFilter(map[string]string{"filename": "a.pdf"})
	if len(f.GetMust()) != 1 {
		t.Fatalf("conditions = %d, want 1", len(f.GetMust()))
	}
	cond := f.GetMust()[0].GetField()
	if cond.GetKey() != "filename" || cond.GetMatch().GetKeyword() != "a.pdf" {
		t.Errorf("condition = %v", cond)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	v := &VectorStore{collection: "c", dims: 4}
	err := v.Upsert(t.Context(), []VectorRecord{{ID: "x", Vector: []float32{1, 2}}})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("error %v does not wrap ErrDimensionMismatch", err)
	}
}

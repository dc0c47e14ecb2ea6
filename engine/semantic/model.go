package semantic

import (
	"time"

	"github.com/taskflow-ai/ragengine/engine/domain"
)

// Payload keys under which chunk fields are stored in Qdrant.
const (
	keyContent     = "content"
	keyFilename    = "filename"
	keyPath        = "path"
	keyChunkIndex  = "chunk_index"
	keyChunkType   = "chunk_type"
	keyContentHash = "content_hash"
	keyTokens      = "token_estimate"
	keyPage        = "page"
	keyCreatedAt   = "created_at"
)

// VectorRecord is a single point to store: an ID, its embedding, and an
// arbitrary payload. Payload values that are not string/number/bool are
// JSON-stringified before storage.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is a single vector search hit with its reconstructed chunk.
type SearchResult struct {
	ID    string
	Score float32
	Chunk domain.Chunk
}

// RecordFromChunk builds the canonical payload for a chunk.
func RecordFromChunk(id string, c domain.Chunk, vector []float32) VectorRecord {
	return VectorRecord{
		ID:     id,
		Vector: vector,
		Payload: map[string]any{
			keyContent:     c.Text,
			keyFilename:    c.SourceFilename,
			keyPath:        c.SourcePath,
			keyChunkIndex:  c.Index,
			keyChunkType:   string(c.Type),
			keyContentHash: c.ContentHash,
			keyTokens:      c.TokenEstimate,
			keyPage:        c.Page,
			keyCreatedAt:   c.CreatedAt.UnixMilli(),
		},
	}
}

// chunkFromPayload is the inverse of RecordFromChunk for query/scan hits.
func chunkFromPayload(p map[string]any) domain.Chunk {
	c := domain.Chunk{
		Text:           asString(p[keyContent]),
		SourceFilename: asString(p[keyFilename]),
		SourcePath:     asString(p[keyPath]),
		Index:          int(asInt64(p[keyChunkIndex])),
		Page:           int(asInt64(p[keyPage])),
		TokenEstimate:  int(asInt64(p[keyTokens])),
		Type:           domain.ChunkType(asString(p[keyChunkType])),
		ContentHash:    asString(p[keyContentHash]),
	}
	if ms := asInt64(p[keyCreatedAt]); ms > 0 {
		c.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return c
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

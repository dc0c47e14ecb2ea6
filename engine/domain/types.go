// Package domain defines the core types and error taxonomy shared by the
// ingestion and retrieval pipelines. It has no dependencies on any backing
// service so every other engine package can import it freely.
package domain

import "time"

// ChunkType is a heuristic classification of a chunk's content.
type ChunkType string

const (
	ChunkStructured   ChunkType = "structured"
	ChunkSummary      ChunkType = "summary"
	ChunkIntroduction ChunkType = "introduction"
	ChunkList         ChunkType = "list"
	ChunkMethodology  ChunkType = "methodology"
	ChunkContent      ChunkType = "content"
)

// Chunk is the atomic retrieval unit: a bounded slice of a document's text
// plus the metadata needed to cite it. Chunks are created once during
// ingestion and never mutated afterwards; identity within a collection is
// (SourceFilename, Index).
type Chunk struct {
	Text           string    `json:"text"`
	SourceFilename string    `json:"source_filename"`
	SourcePath     string    `json:"source_path"`
	Index          int       `json:"chunk_index"`
	Page           int       `json:"page,omitempty"`
	TokenEstimate  int       `json:"token_estimate"`
	Type           ChunkType `json:"chunk_type"`
	ContentHash    string    `json:"content_hash"`
	CreatedAt      time.Time `json:"created_at"`
}

// RetrievalCandidate is a chunk scored against a query. Candidates exist
// only for the duration of one retrieval request.
type RetrievalCandidate struct {
	Chunk          Chunk
	Score          float32
	RelevanceScore float32
	Compressed     bool
}

// RetrievalResult is the externally visible output of one retrieval request.
// A degraded pipeline still produces a RetrievalResult; callers inspect
// Sources and Answer rather than an error value.
type RetrievalResult struct {
	Answer             string   `json:"answer"`
	Sources            []Chunk  `json:"sources"`
	OriginalQuery      string   `json:"original_query"`
	RewrittenQueries   []string `json:"rewritten_queries"`
	CompressionApplied bool     `json:"compression_applied"`
	ExecutionTimeMs    int64    `json:"execution_time_ms"`
}

// IngestResult reports the outcome of ingesting a single document.
type IngestResult struct {
	Success    bool   `json:"success"`
	ChunkCount int    `json:"chunk_count"`
	Err        string `json:"error,omitempty"`
}

// Status reports reachability of the engine's backing services.
type Status struct {
	IngestReady                bool `json:"ingest_ready"`
	VectorStoreReachable       bool `json:"vector_store_reachable"`
	EmbeddingProviderAvailable bool `json:"embedding_provider_available"`
	RerankerAvailable          bool `json:"reranker_available"`
}

// RetrieveOptions tunes one retrieval request. Zero values fall back to the
// engine defaults (see DefaultRetrieveOptions).
type RetrieveOptions struct {
	EnableQueryRewriting bool
	EnableCompression    bool
	MaxQueries           int
	InitialK             int
	TopK                 int
	MetadataFilter       map[string]string
}

// DefaultRetrieveOptions returns the retrieval defaults.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{
		EnableQueryRewriting: true,
		EnableCompression:    true,
		MaxQueries:           3,
		InitialK:             30,
		TopK:                 6,
	}
}

// Normalize fills zeroed numeric fields with defaults and clamps nonsense.
func (o RetrieveOptions) Normalize() RetrieveOptions {
	def := DefaultRetrieveOptions()
	if o.MaxQueries <= 0 {
		o.MaxQueries = def.MaxQueries
	}
	if o.InitialK <= 0 {
		o.InitialK = def.InitialK
	}
	if o.TopK <= 0 {
		o.TopK = def.TopK
	}
	if o.TopK > o.InitialK {
		o.TopK = o.InitialK
	}
	return o
}

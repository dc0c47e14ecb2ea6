// Package ingest turns one source document into stored, embedded chunks. The
// pipeline runs Parse, Chunk, Embed, Store as composable stages; the only
// fatal conditions are an empty document and an embedding dimension
// mismatch. Storage is at-least-once: a failure partway through a batch
// leaves already-stored chunks in place.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/engine/embed"
	"github.com/taskflow-ai/ragengine/engine/semantic"
	"github.com/taskflow-ai/ragengine/pkg/fn"
)

const (
	// EmbedBatchSize is the max texts per embedding request.
	EmbedBatchSize = 100
	// UpsertBatchSize is the max points per vector store write.
	UpsertBatchSize = 100
	// DefaultEmbedWorkers bounds concurrent embedding batches per document.
	DefaultEmbedWorkers = 4
)

// Store is the slice of the vector store the pipeline writes to.
type Store interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// Document identifies one source file to ingest.
type Document struct {
	Path     string
	Filename string
}

// ParsedDoc is a document with its text extracted.
type ParsedDoc struct {
	Document
	Pages []Page
}

// ChunkedDoc is a parsed document split into chunks.
type ChunkedDoc struct {
	ParsedDoc
	Chunks []domain.Chunk
}

// EmbeddedDoc is a chunked document with one vector per chunk.
type EmbeddedDoc struct {
	ChunkedDoc
	Vectors [][]float32
	Dims    int
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder     embed.Provider
	Store        Store
	Chunker      *Chunker
	EmbedWorkers int
	Logger       *slog.Logger
}

// Pipeline is the composed ingestion pipeline for one collection.
type Pipeline struct {
	run fn.Stage[Document, int]
	log *slog.Logger
}

// NewPipeline wires the Parse, Chunk, Embed, Store stages.
func NewPipeline(deps Deps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker(DefaultChunkSize, DefaultOverlap)
	}
	if deps.EmbedWorkers <= 0 {
		deps.EmbedWorkers = DefaultEmbedWorkers
	}

	parsed := fn.Traced("ingest.parse", Parse)
	chunked := fn.Traced("ingest.chunk", NewChunk(deps.Chunker, log))
	embedded := fn.Traced("ingest.embed", NewEmbed(deps.Embedder, deps.EmbedWorkers))
	stored := fn.Traced("ingest.store", NewStore(deps.Store))

	return &Pipeline{
		run: fn.Then(fn.Then(fn.Then(parsed, chunked), embedded), stored),
		log: log,
	}
}

// Run ingests one document and reports the outcome. Failures abort only this
// document; the returned result carries the error text instead of an error
// value so batch callers never have to abort a directory walk.
func (p *Pipeline) Run(ctx context.Context, path, filename string) domain.IngestResult {
	start := time.Now()
	r := p.run(ctx, Document{Path: path, Filename: filename})
	count, err := r.Unwrap()
	if err != nil {
		p.log.Error("ingest: pipeline failed", "filename", filename, "err", err)
		return domain.IngestResult{Success: false, Err: err.Error()}
	}
	p.log.Info("ingest: done", "filename", filename, "chunks", count, "duration", time.Since(start))
	return domain.IngestResult{Success: true, ChunkCount: count}
}

// Parse extracts text from the source file and rejects blank documents.
var Parse fn.Stage[Document, ParsedDoc] = func(_ context.Context, doc Document) fn.Result[ParsedDoc] {
	pages, err := ExtractText(doc.Path)
	if err != nil {
		return fn.Err[ParsedDoc](err)
	}
	if strings.TrimSpace(joinPages(pages)) == "" {
		return fn.Err[ParsedDoc](domain.NewDocumentError(doc.Filename, domain.ErrEmptyDocument))
	}
	return fn.Ok(ParsedDoc{Document: doc, Pages: pages})
}

// NewChunk creates the chunking stage. A splitter panic or non-fatal error
// degrades to a single whole-document chunk; only an empty document aborts.
func NewChunk(chunker *Chunker, log *slog.Logger) fn.Stage[ParsedDoc, ChunkedDoc] {
	return func(_ context.Context, doc ParsedDoc) (out fn.Result[ChunkedDoc]) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Warn("ingest: chunker panic, using whole-document chunk", "filename", doc.Filename, "panic", rec)
				out = fn.Ok(ChunkedDoc{
					ParsedDoc: doc,
					Chunks:    []domain.Chunk{WholeDocumentChunk(joinPages(doc.Pages), doc.Filename, doc.Path)},
				})
			}
		}()

		chunks, err := chunker.Chunk(doc.Pages, doc.Filename, doc.Path)
		if err != nil {
			return fn.Err[ChunkedDoc](err)
		}
		if len(chunks) == 0 {
			chunks = []domain.Chunk{WholeDocumentChunk(joinPages(doc.Pages), doc.Filename, doc.Path)}
		}
		return fn.Ok(ChunkedDoc{ParsedDoc: doc, Chunks: chunks})
	}
}

// NewEmbed creates the embedding stage. Chunks are embedded in batches with
// bounded concurrency; vector order matches chunk order. All vectors must
// share one dimension, discovered from the first.
func NewEmbed(provider embed.Provider, workers int) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
		texts := fn.Map(doc.Chunks, func(c domain.Chunk) string { return c.Text })
		batches := fn.Chunk(texts, EmbedBatchSize)

		results := fn.ParMapResult(ctx, batches, workers, func(ctx context.Context, batch []string) fn.Result[[][]float32] {
			return fn.FromPair(provider.EmbedDocuments(ctx, batch))
		})
		collected := fn.Collect(results)
		if collected.IsErr() {
			_, err := collected.Unwrap()
			return fn.Err[EmbeddedDoc](fmt.Errorf("embed document %s: %w", doc.Filename, err))
		}

		batched, _ := collected.Unwrap()
		vectors := fn.FlatMap(batched, func(vs [][]float32) [][]float32 { return vs })
		if len(vectors) != len(doc.Chunks) {
			return fn.Errf[EmbeddedDoc]("embed document %s: got %d vectors for %d chunks", doc.Filename, len(vectors), len(doc.Chunks))
		}

		dims := len(vectors[0])
		for i, v := range vectors {
			if len(v) != dims {
				return fn.Err[EmbeddedDoc](fmt.Errorf("embed document %s: chunk %d has %d dims, expected %d: %w",
					doc.Filename, i, len(v), dims, domain.ErrDimensionMismatch))
			}
		}
		return fn.Ok(EmbeddedDoc{ChunkedDoc: doc, Vectors: vectors, Dims: dims})
	}
}

// NewStore creates the storage stage. Points are written in batches without
// rollback; the returned count is the document's chunk count.
func NewStore(store Store) fn.Stage[EmbeddedDoc, int] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[int] {
		if err := store.EnsureCollection(ctx, doc.Dims); err != nil {
			return fn.Err[int](fmt.Errorf("ensure collection: %w", err))
		}

		stamp := time.Now().UnixMilli()
		records := make([]semantic.VectorRecord, len(doc.Chunks))
		for i, chunk := range doc.Chunks {
			records[i] = semantic.RecordFromChunk(PointID(doc.Filename, chunk.Index, stamp, i/UpsertBatchSize), chunk, doc.Vectors[i])
		}

		for _, batch := range fn.Chunk(records, UpsertBatchSize) {
			if err := store.Upsert(ctx, batch); err != nil {
				return fn.Err[int](fmt.Errorf("vector upsert: %w", err))
			}
		}
		return fn.Ok(len(doc.Chunks))
	}
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// PointID derives a deterministic UUID for one stored chunk. The seed string
// includes the insert timestamp and the upsert batch ordinal so repeated
// ingests of a renamed file never collide, even when chunk indexes repeat
// across batches.
func PointID(filename string, chunkIndex int, insertMillis int64, batchIndex int) string {
	seed := fmt.Sprintf("%s-%d-%d-%d", SanitizeFilename(filename), chunkIndex, insertMillis, batchIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

// SanitizeFilename collapses characters unsafe for an ID into dashes.
func SanitizeFilename(name string) string {
	return unsafeIDChars.ReplaceAllString(name, "-")
}

// Package rag orchestrates agentic retrieval: query rewriting, multi-query
// vector search with lexical fallback, deduplication, contextual
// compression, optional cross-encoder reranking, and grounded answer
// synthesis. Every stage degrades locally; Retrieve never returns an error,
// only a RetrievalResult whose fields signal what was skipped.
package rag

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/engine/embed"
	"github.com/taskflow-ai/ragengine/engine/ingest"
	"github.com/taskflow-ai/ragengine/engine/lexical"
	"github.com/taskflow-ai/ragengine/engine/llm"
	"github.com/taskflow-ai/ragengine/engine/semantic"
	"github.com/taskflow-ai/ragengine/pkg/fn"
)

// ChunkStore is the slice of the vector store the retrieval service uses.
// *semantic.VectorStore satisfies it.
type ChunkStore interface {
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]semantic.SearchResult, error)
	Scan(ctx context.Context, filter map[string]string) ([]domain.Chunk, error)
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	Recreate(ctx context.Context, dims int) error
	Ping(ctx context.Context) error
	Dimensions() int
}

// Reranker is the optional cross-encoder reranking capability.
type Reranker interface {
	Probe(ctx context.Context) error
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]domain.RetrievalCandidate, error)
}

// Options configures the retrieval service.
type Options struct {
	// Defaults are the per-request option defaults.
	Defaults domain.RetrieveOptions
	// SearchTimeout bounds each variant's embed + vector query.
	SearchTimeout time.Duration
	// FanWorkers bounds concurrent query variants.
	FanWorkers int
}

// DefaultOptions returns sensible service defaults.
func DefaultOptions() Options {
	return Options{
		Defaults:      domain.DefaultRetrieveOptions(),
		SearchTimeout: 10 * time.Second,
		FanWorkers:    3,
	}
}

// Service is the retrieval engine. It owns the embedding provider chosen at
// construction, the vector store handle, and the chat generator; there is no
// other process-level state.
type Service struct {
	provider embed.Provider
	store    ChunkStore
	lexical  *lexical.Retriever
	rewriter *Rewriter
	synth    *Synthesizer
	reranker Reranker
	pipeline *ingest.Pipeline
	opts     Options
	logger   *slog.Logger

	// vectorFallbackOnce gates the "vector query failing, using lexical
	// fallback" log line to once per process.
	vectorFallbackOnce sync.Once
}

// Deps holds the service dependencies.
type Deps struct {
	Provider  embed.Provider
	Store     ChunkStore
	Generator llm.Generator
	Reranker  Reranker // nil when no reranking service is configured
	Chunker   *ingest.Chunker
	Logger    *slog.Logger
}

// New constructs the retrieval service and its ingestion pipeline.
func New(deps Deps, opts Options) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if opts.FanWorkers <= 0 {
		opts.FanWorkers = DefaultOptions().FanWorkers
	}
	opts.Defaults = opts.Defaults.Normalize()

	return &Service{
		provider: deps.Provider,
		store:    deps.Store,
		lexical:  lexical.New(deps.Store),
		rewriter: NewRewriter(deps.Generator, log),
		synth:    NewSynthesizer(deps.Generator, log),
		reranker: deps.Reranker,
		pipeline: ingest.NewPipeline(ingest.Deps{
			Embedder: deps.Provider,
			Store:    deps.Store,
			Chunker:  deps.Chunker,
			Logger:   log,
		}),
		opts:   opts,
		logger: log,
	}
}

// IngestDocument runs the ingestion pipeline for one document.
func (s *Service) IngestDocument(ctx context.Context, path, filename string) domain.IngestResult {
	return s.pipeline.Run(ctx, path, filename)
}

// Retrieve answers a natural-language query from the collection. It always
// returns a RetrievalResult: stage failures degrade the result instead of
// propagating.
func (s *Service) Retrieve(ctx context.Context, query string, opts domain.RetrieveOptions) domain.RetrievalResult {
	start := time.Now()
	opts = mergeOptions(s.opts.Defaults, opts)

	queries := []string{query}
	if opts.EnableQueryRewriting {
		queries = s.rewriter.Rewrite(ctx, query, opts.MaxQueries)
	}

	// Fan out one retrieval per variant; individual failures skip that
	// variant. Cancellation fails unstarted variants fast, so the join
	// returns the best partial result.
	variantResults := fn.ParMapResult(ctx, queries, s.opts.FanWorkers, func(ctx context.Context, q string) fn.Result[[]domain.RetrievalCandidate] {
		return fn.FromPair(s.retrieveVariant(ctx, q, opts.InitialK, opts.MetadataFilter))
	})
	candidates := fn.FlatMap(fn.CollectOk(variantResults), func(cs []domain.RetrievalCandidate) []domain.RetrievalCandidate {
		return cs
	})

	top := s.rerank(ctx, query, Dedup(candidates), opts.TopK)

	final := top
	compressionApplied := false
	if opts.EnableCompression {
		final, compressionApplied = s.compress(query, top)
	}

	chunks := fn.Map(final, func(c domain.RetrievalCandidate) domain.Chunk { return c.Chunk })
	answer, ok := s.synth.Synthesize(ctx, query, chunks)
	if !ok {
		// Synthesis failure surfaces the apology with empty sources so an
		// outer agent can detect it and re-route.
		chunks = nil
	}

	return domain.RetrievalResult{
		Answer:             answer,
		Sources:            chunks,
		OriginalQuery:      query,
		RewrittenQueries:   queries,
		CompressionApplied: compressionApplied,
		ExecutionTimeMs:    time.Since(start).Milliseconds(),
	}
}

// retrieveVariant embeds one query variant and runs the vector query,
// falling back to lexical retrieval when either step fails.
func (s *Service) retrieveVariant(ctx context.Context, query string, k int, filter map[string]string) ([]domain.RetrievalCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	vector, err := s.provider.EmbedQuery(ctx, query)
	if err != nil {
		s.logVectorFallback(err)
		return s.lexical.Retrieve(ctx, query, k, filter)
	}

	hits, err := s.store.Query(ctx, vector, k, filter)
	if err != nil {
		// Any query failure routes to the lexical path, not only the known
		// malformed-embedding validation error.
		s.logVectorFallback(err)
		return s.lexical.Retrieve(ctx, query, k, filter)
	}

	candidates := make([]domain.RetrievalCandidate, len(hits))
	for i, h := range hits {
		candidates[i] = domain.RetrievalCandidate{Chunk: h.Chunk, Score: h.Score}
	}
	return candidates, nil
}

func (s *Service) logVectorFallback(err error) {
	s.vectorFallbackOnce.Do(func() {
		s.logger.Warn("rag: vector query failing, routing to lexical fallback", "err", err)
	})
}

// rerank selects the topK candidates, via the cross-encoder service when
// one is configured and healthy, by lexical overlap otherwise.
func (s *Service) rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) []domain.RetrievalCandidate {
	if len(candidates) == 0 {
		return nil
	}
	if s.reranker != nil {
		if out, err := s.reranker.Rerank(ctx, query, candidates, topK); err == nil {
			return out
		} else {
			s.logger.Warn("rag: reranking service failed, using overlap fallback", "err", err)
		}
	}
	return rerankByOverlap(query, candidates, topK)
}

// compress applies contextual compression; a panic inside the compressor
// passes candidates through unmodified rather than failing the request.
func (s *Service) compress(query string, candidates []domain.RetrievalCandidate) (out []domain.RetrievalCandidate, applied bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warn("rag: compression failed, passing candidates through", "panic", rec)
			out, applied = candidates, false
		}
	}()
	return Compress(query, candidates)
}

// Status reports reachability of the backing services.
func (s *Service) Status(ctx context.Context) domain.Status {
	st := domain.Status{}
	st.VectorStoreReachable = s.store.Ping(ctx) == nil
	st.IngestReady = st.VectorStoreReachable

	if p, ok := s.provider.(embed.Prober); ok {
		st.EmbeddingProviderAvailable = p.Probe(ctx) == nil
	}
	if s.reranker != nil {
		st.RerankerAvailable = s.reranker.Probe(ctx) == nil
	}
	return st
}

// ClearCollection drops and recreates the collection, removing every chunk.
func (s *Service) ClearCollection(ctx context.Context) error {
	dims := s.store.Dimensions()
	if dims <= 0 {
		dims = embed.DefaultDimensions
	}
	return s.store.Recreate(ctx, dims)
}

// mergeOptions overlays per-request options on the service defaults. The
// boolean toggles come from the request as-is; zeroed numeric fields inherit
// the defaults.
func mergeOptions(def, req domain.RetrieveOptions) domain.RetrieveOptions {
	if req.MaxQueries <= 0 {
		req.MaxQueries = def.MaxQueries
	}
	if req.InitialK <= 0 {
		req.InitialK = def.InitialK
	}
	if req.TopK <= 0 {
		req.TopK = def.TopK
	}
	return req.Normalize()
}

// Package embed provides text embedding for the ingestion and retrieval
// pipelines. The primary provider talks to the embedding microservice over
// HTTP; when that service is unreachable a deterministic offline provider
// takes its place so collection operations keep working without semantic
// similarity. The provider for a process is picked once, at engine
// construction, and never switched mid-session.
package embed

import (
	"context"
	"log/slog"
)

// Provider converts text to fixed-dimension vectors. EmbedDocuments must
// return one vector per input text, in input order.
type Provider interface {
	Name() string
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Prober is implemented by providers whose availability must be checked
// before first use. Providers without a probe are always available.
type Prober interface {
	Probe(ctx context.Context) error
}

// Select probes providers in order and returns the first available one.
// The list must end with a provider that has no probe (the deterministic
// fallback), so Select always succeeds.
func Select(ctx context.Context, logger *slog.Logger, providers ...Provider) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range providers {
		probe, ok := p.(Prober)
		if !ok {
			return p
		}
		if err := probe.Probe(ctx); err != nil {
			logger.Warn("embed: provider unavailable, trying next", "provider", p.Name(), "err", err)
			continue
		}
		return p
	}
	// Unreachable when the caller follows the contract; a nil return would
	// crash the engine, so fall back to the deterministic provider.
	logger.Warn("embed: no provider configured, using deterministic fallback")
	return NewDeterministic(DefaultDimensions)
}

package embed

import (
	"context"
	"math"
)

// DefaultDimensions matches the microservice's BGE-M3 vector width so a
// collection created against either provider has the same shape.
const DefaultDimensions = 768

// Deterministic is the offline fallback Provider. Vectors are a pure
// function of the input text: identical text yields identical vectors and
// different text yields different vectors, which keeps exact-match lookups
// and collection operations correct when the embedding service is down. The
// vectors carry no semantic meaning.
type Deterministic struct {
	dims int
}

// NewDeterministic creates the fallback provider with the given dimension.
func NewDeterministic(dims int) *Deterministic {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Deterministic{dims: dims}
}

// Name implements Provider.
func (d *Deterministic) Name() string { return "deterministic-fallback" }

// EmbedQuery implements Provider.
func (d *Deterministic) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return d.vector(text), nil
}

// EmbedDocuments implements Provider.
func (d *Deterministic) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.vector(t)
	}
	return out, nil
}

func (d *Deterministic) vector(text string) []float32 {
	v := make([]float32, d.dims)
	runes := []rune(text)
	if len(runes) == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(math.Sin(float64(runes[i%len(runes)])+float64(i)) * 0.01)
	}
	return v
}

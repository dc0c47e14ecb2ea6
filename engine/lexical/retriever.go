// Package lexical implements the token-overlap fallback retriever used when
// a vector query fails. It is intentionally simple: scan every chunk, score
// it by query-token overlap, return the top k. It is a fallback, not a
// replacement for vector search.
package lexical

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/taskflow-ai/ragengine/engine/domain"
)

// Scanner is the slice of the vector store the retriever needs.
type Scanner interface {
	Scan(ctx context.Context, filter map[string]string) ([]domain.Chunk, error)
}

// Retriever scores chunks by lexical overlap with the query.
type Retriever struct {
	scanner Scanner
}

// New creates a Retriever over the given scanner.
func New(scanner Scanner) *Retriever {
	return &Retriever{scanner: scanner}
}

// Retrieve scans the collection and returns the top-k chunks ranked by
// overlapCount / |queryTokenSet|, descending.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, filter map[string]string) ([]domain.RetrievalCandidate, error) {
	chunks, err := r.scanner.Scan(ctx, filter)
	if err != nil {
		return nil, err
	}

	queryTokens := TokenSet(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	candidates := make([]domain.RetrievalCandidate, 0, len(chunks))
	for _, c := range chunks {
		score := Overlap(queryTokens, c.Text)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, domain.RetrievalCandidate{Chunk: c, Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// TokenSet lowercases text, strips non-alphanumerics, splits on whitespace,
// and drops tokens of length <= 1.
func TokenSet(text string) map[string]struct{} {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	set := make(map[string]struct{})
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) > 1 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// Overlap returns |queryTokens ∩ tokens(text)| / |queryTokens|. The same
// formula serves both fallback retrieval and contextual compression.
func Overlap(queryTokens map[string]struct{}, text string) float32 {
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := TokenSet(text)
	matches := 0
	for tok := range queryTokens {
		if _, ok := textTokens[tok]; ok {
			matches++
		}
	}
	return float32(matches) / float32(len(queryTokens))
}

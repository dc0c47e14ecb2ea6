package rag

import (
	"strings"
	"unicode/utf8"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/engine/lexical"
	"github.com/taskflow-ai/ragengine/pkg/fn"
)

const (
	// dedupPrefixLen is how many normalized characters identify a duplicate.
	dedupPrefixLen = 100
	// relevanceThreshold is the minimum query/chunk token overlap to keep a
	// candidate during compression.
	relevanceThreshold = 0.1
	// truncateAbove is the chunk length at which compression truncates.
	truncateAbove = 1000
	// truncateKeep is how much text survives on each side of a truncation.
	truncateKeep = 500
	// compressionFloor is how many pre-compression candidates survive when
	// compression would otherwise eliminate everything.
	compressionFloor = 3
)

// Dedup collapses candidates whose first 100 whitespace-normalized
// characters are identical. The first occurrence wins.
func Dedup(candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	return fn.UniqueBy(candidates, func(c domain.RetrievalCandidate) string {
		return dedupKey(c.Chunk.Text)
	})
}

func dedupKey(text string) string {
	norm := strings.Join(strings.Fields(text), " ")
	if len(norm) > dedupPrefixLen {
		norm = norm[:dedupPrefixLen]
	}
	return norm
}

// Compress keeps candidates whose token overlap with the query exceeds the
// relevance threshold, truncating long kept chunks to a head and tail
// excerpt. If nothing survives, the first candidates pass through unchanged
// so the synthesizer never sees an empty context while results exist. The
// second return reports whether any candidate was filtered out or truncated.
func Compress(query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, bool) {
	if len(candidates) == 0 {
		return candidates, false
	}

	queryTokens := lexical.TokenSet(query)
	kept := make([]domain.RetrievalCandidate, 0, len(candidates))
	modified := false
	for _, c := range candidates {
		score := lexical.Overlap(queryTokens, c.Chunk.Text)
		if score <= relevanceThreshold {
			modified = true
			continue
		}
		c.RelevanceScore = score
		if len(c.Chunk.Text) > truncateAbove {
			c.Chunk.Text = runePrefix(c.Chunk.Text, truncateKeep) + "\n...\n" + runeSuffix(c.Chunk.Text, truncateKeep)
			c.Compressed = true
			modified = true
		}
		kept = append(kept, c)
	}

	if len(kept) == 0 {
		n := min(compressionFloor, len(candidates))
		return candidates[:n], false
	}
	return kept, modified
}

// runePrefix returns the longest prefix of s at most max bytes long that
// ends on a rune boundary, so a byte cut never splits a multi-byte rune.
func runePrefix(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// runeSuffix returns the longest suffix of s at most max bytes long that
// starts on a rune boundary.
func runeSuffix(s string, max int) string {
	if len(s) <= max {
		return s
	}
	start := len(s) - max
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

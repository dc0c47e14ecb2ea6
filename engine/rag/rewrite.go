package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskflow-ai/ragengine/engine/llm"
)

// DefaultMaxQueries bounds the rewritten query set, original included.
const DefaultMaxQueries = 3

const rewritePromptTmpl = `You are a search query expansion assistant.
Generate %d alternative phrasings of the following question. Use different
terminology and different levels of specificity, but keep the same intent.
Return one phrasing per line with no numbering and no commentary.

Question: %s`

// Rewriter widens retrieval recall by asking the chat service for
// paraphrased variants of the user's question.
type Rewriter struct {
	gen    llm.Generator
	logger *slog.Logger
}

// NewRewriter creates a Rewriter.
func NewRewriter(gen llm.Generator, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{gen: gen, logger: logger}
}

// Rewrite returns [query, ...alternatives], at most maxQueries entries, the
// original always first. Rewriting failure degrades to the original query
// alone; it never aborts retrieval.
func (r *Rewriter) Rewrite(ctx context.Context, query string, maxQueries int) []string {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}
	queries := []string{query}
	if maxQueries == 1 || r.gen == nil {
		return queries
	}

	prompt := fmt.Sprintf(rewritePromptTmpl, maxQueries-1, query)
	raw, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		r.logger.Warn("rag: query rewrite failed, using original only", "err", err)
		return queries
	}

	for _, line := range strings.Split(raw, "\n") {
		alt := stripListMarker(strings.TrimSpace(line))
		if alt == "" || strings.EqualFold(alt, query) {
			continue
		}
		queries = append(queries, alt)
		if len(queries) == maxQueries {
			break
		}
	}
	return queries
}

// stripListMarker removes leading "1.", "2)", "-", "*" markers the model
// may add despite instructions.
func stripListMarker(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(strings.TrimLeft(s, "-*• "))
}

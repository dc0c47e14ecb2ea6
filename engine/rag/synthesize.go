package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/engine/llm"
)

// ApologyAnswer is returned whenever answer synthesis fails. Callers doing
// further orchestration must treat this exact string as a signal to try an
// alternative path, never as a successful answer.
const ApologyAnswer = "I apologize, but I was unable to generate an answer based on the available documents."

const synthesisPreamble = `Answer the question using ONLY the numbered context passages below.
Ground every claim in the passages and cite them as [1], [2], and so on.
If the passages do not contain enough information to answer, say so explicitly.`

// Synthesizer produces the final grounded answer from the compressed
// context.
type Synthesizer struct {
	gen    llm.Generator
	logger *slog.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(gen llm.Generator, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{gen: gen, logger: logger}
}

// Synthesize asks the chat service for an answer grounded in chunks. On any
// failure it returns ApologyAnswer and false.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, chunks []domain.Chunk) (string, bool) {
	if s.gen == nil {
		return ApologyAnswer, false
	}
	answer, err := s.gen.Generate(ctx, BuildPrompt(query, chunks))
	if err != nil || strings.TrimSpace(answer) == "" {
		s.logger.Warn("rag: answer synthesis failed", "err", err)
		return ApologyAnswer, false
	}
	return answer, true
}

// BuildPrompt assembles the numbered-context synthesis prompt.
func BuildPrompt(query string, chunks []domain.Chunk) string {
	var b strings.Builder
	b.WriteString(synthesisPreamble)
	b.WriteString("\n\nContext:\n")
	if len(chunks) == 0 {
		b.WriteString("(no passages were retrieved)\n")
	}
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] (source: %s, chunk %d)\n%s\n\n", i+1, c.SourceFilename, c.Index, c.Text)
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

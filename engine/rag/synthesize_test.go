package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/taskflow-ai/ragengine/engine/domain"
)

func TestSynthesizeReturnsAnswer(t *testing.T) {
	gen := &stubGenerator{reply: "Attention weighs token pairs [1]."}
	s := NewSynthesizer(gen, nil)

	answer, ok := s.Synthesize(context.Background(), "what is attention", []domain.Chunk{{Text: "Attention weighs token pairs."}})
	if !ok {
		t.Fatal("synthesis should succeed")
	}
	if answer != gen.reply {
		t.Errorf("got %q", answer)
	}
}

func TestSynthesizeFailureReturnsApology(t *testing.T) {
	for name, gen := range map[string]*stubGenerator{
		"error": {err: errors.New("timeout")},
		"blank": {reply: "   \n"},
	} {
		t.Run(name, func(t *testing.T) {
			s := NewSynthesizer(gen, nil)
			answer, ok := s.Synthesize(context.Background(), "q", nil)
			if ok || answer != ApologyAnswer {
				t.Errorf("got (%q, %v), want apology", answer, ok)
			}
		})
	}
}

func TestSynthesizeNilGenerator(t *testing.T) {
	s := NewSynthesizer(nil, nil)
	answer, ok := s.Synthesize(context.Background(), "q", nil)
	if ok || answer != ApologyAnswer {
		t.Errorf("got (%q, %v), want apology", answer, ok)
	}
}

func TestBuildPromptNumbersPassages(t *testing.T) {
	chunks := []domain.Chunk{
		{Text: "first passage", SourceFilename: "a.pdf", Index: 0},
		{Text: "second passage", SourceFilename: "b.pdf", Index: 4},
	}
	prompt := BuildPrompt("the question", chunks)

	for _, want := range []string{
		"[1] (source: a.pdf, chunk 0)\nfirst passage",
		"[2] (source: b.pdf, chunk 4)\nsecond passage",
		"Question: the question",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptEmptyContext(t *testing.T) {
	prompt := BuildPrompt("q", nil)
	if !strings.Contains(prompt, "(no passages were retrieved)") {
		t.Error("empty context should be stated explicitly")
	}
}

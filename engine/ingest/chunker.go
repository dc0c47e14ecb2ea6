package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/taskflow-ai/ragengine/engine/domain"
)

const (
	// DefaultChunkSize is the target number of tokens per chunk.
	DefaultChunkSize = 800
	// DefaultOverlap is the number of overlapping tokens between chunks.
	DefaultOverlap = 150
	// charsPerToken approximates tokens when no tokenizer is available.
	charsPerToken = 4
)

// Chunker splits document text into overlapping, size-bounded chunks using
// a token-aware sliding window over sentences.
type Chunker struct {
	Size    int // target tokens per chunk
	Overlap int // tokens shared between consecutive chunks
}

// NewChunker creates a Chunker, substituting defaults for non-positive values.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// sentence is a sentence with the page it came from.
type sentence struct {
	text string
	page int
}

// Chunk splits the document pages into classified chunks. It returns
// domain.ErrEmptyDocument when the document holds no text after trimming.
func (c *Chunker) Chunk(pages []Page, filename, path string) ([]domain.Chunk, error) {
	var sentences []sentence
	for _, p := range pages {
		for _, s := range splitSentences(p.Text) {
			sentences = append(sentences, sentence{text: s, page: p.Number})
		}
	}
	if len(sentences) == 0 {
		return nil, domain.NewDocumentError(filename, domain.ErrEmptyDocument)
	}

	now := time.Now().UTC()
	var chunks []domain.Chunk
	start := 0
	prevEnd := 0

	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start
		page := sentences[start].page

		for end < len(sentences) {
			st := estimateTokens(sentences[end].text)
			// Each chunk must reach past the previous window by at least
			// one sentence, or overlap stepping emits a subset chunk.
			if tokens+st > c.Size && tokens > 0 && end > prevEnd {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end].text)
			tokens += st
			end++
		}

		text := buf.String()
		chunks = append(chunks, domain.Chunk{
			Text:           text,
			SourceFilename: filename,
			SourcePath:     path,
			Index:          len(chunks),
			Page:           page,
			TokenEstimate:  tokens,
			Type:           Classify(text),
			ContentHash:    ContentHash(text),
			CreatedAt:      now,
		})

		// Step the window back by the overlap budget, keeping forward progress.
		prevEnd = end
		newStart := end
		overlapTokens := 0
		for newStart > start && overlapTokens < c.Overlap {
			newStart--
			overlapTokens += estimateTokens(sentences[newStart].text)
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
		if end == len(sentences) {
			break
		}
	}

	return chunks, nil
}

// WholeDocumentChunk wraps the entire document text as a single chunk. Used
// when the splitter fails so ingestion degrades instead of aborting.
func WholeDocumentChunk(text, filename, path string) domain.Chunk {
	return domain.Chunk{
		Text:           text,
		SourceFilename: filename,
		SourcePath:     path,
		Index:          0,
		Page:           1,
		TokenEstimate:  estimateTokens(text),
		Type:           Classify(text),
		ContentHash:    ContentHash(text),
		CreatedAt:      time.Now().UTC(),
	}
}

// estimateTokens approximates the token count as ceil(chars / 4).
func estimateTokens(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// splitSentences splits text into sentences on terminal punctuation and
// newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(runes)-1 || unicode.IsSpace(runes[min(i+1, len(runes)-1)]) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// ContentHash returns a short stable hash of the chunk text for exact
// duplicate detection.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

var numberedListRe = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s+`)

// classification rules in priority order; the first match wins.
var chunkTypeRules = []struct {
	chunkType domain.ChunkType
	match     func(lower string) bool
}{
	{domain.ChunkStructured, containsAny("table", "figure", "chart", "diagram")},
	{domain.ChunkSummary, containsAny("conclusion", "summary", "in summary", "to summarize")},
	{domain.ChunkIntroduction, containsAny("introduction", "abstract", "overview", "background")},
	{domain.ChunkList, func(lower string) bool { return numberedListRe.MatchString(lower) }},
	{domain.ChunkMethodology, containsAny("method", "procedure", "approach", "implementation")},
}

// Classify labels a chunk by keyword presence. Ties resolve to the first
// matching rule: structured > summary > introduction > list > methodology,
// with content as the default.
func Classify(text string) domain.ChunkType {
	lower := strings.ToLower(text)
	for _, rule := range chunkTypeRules {
		if rule.match(lower) {
			return rule.chunkType
		}
	}
	return domain.ChunkContent
}

func containsAny(keywords ...string) func(string) bool {
	return func(lower string) bool {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}
}

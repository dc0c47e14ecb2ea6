package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/engine/lexical"
	"github.com/taskflow-ai/ragengine/pkg/resilience"
)

const (
	// rerankMaxDocuments is the reranking service's per-request cap.
	rerankMaxDocuments = 100
	// rerankMaxContentLen truncates document content before sending to stay
	// inside the cross-encoder's token window.
	rerankMaxContentLen = 2000
)

// RerankerClient talks to the optional cross-encoder reranking microservice.
// Absence of the service is a detected condition, not an error: a circuit
// breaker keeps a down reranker from slowing every request, and callers fall
// back to lexical overlap scoring.
type RerankerClient struct {
	baseURL string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewRerankerClient creates a reranker client for the service at baseURL.
func NewRerankerClient(baseURL string, timeout time.Duration) *RerankerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RerankerClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: resilience.NewBreaker(resilience.BreakerOpts{}),
	}
}

type rerankDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    *float32       `json:"score,omitempty"`
}

type rerankRequest struct {
	Query        string           `json:"query"`
	Documents    []rerankDocument `json:"documents"`
	TopK         int              `json:"top_k"`
	ReturnScores bool             `json:"return_scores"`
}

type rerankResponse struct {
	RerankedDocuments []rerankDocument `json:"reranked_documents"`
}

type rerankHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Probe reports whether the reranking service is up with its model loaded.
func (c *RerankerClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rerank health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rerank health: status %d", resp.StatusCode)
	}
	var h rerankHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("rerank health decode: %w", err)
	}
	if !h.ModelLoaded {
		return fmt.Errorf("rerank health: model not loaded (status %q)", h.Status)
	}
	return nil
}

// Rerank re-scores candidates with the cross-encoder and returns the topK
// best, ordered by the service's relevance scores.
func (c *RerankerClient) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]domain.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > rerankMaxDocuments {
		candidates = candidates[:rerankMaxDocuments]
	}

	byHash := make(map[string]domain.RetrievalCandidate, len(candidates))
	docs := make([]rerankDocument, len(candidates))
	for i, cand := range candidates {
		content := runePrefix(cand.Chunk.Text, rerankMaxContentLen)
		docs[i] = rerankDocument{
			Content:  content,
			Metadata: map[string]any{"content_hash": cand.Chunk.ContentHash},
		}
		byHash[cand.Chunk.ContentHash] = cand
	}

	var resp rerankResponse
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		return c.post(ctx, rerankRequest{
			Query:        query,
			Documents:    docs,
			TopK:         topK,
			ReturnScores: true,
		}, &resp)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.RetrievalCandidate, 0, len(resp.RerankedDocuments))
	for _, doc := range resp.RerankedDocuments {
		hash, _ := doc.Metadata["content_hash"].(string)
		cand, ok := byHash[hash]
		if !ok {
			continue
		}
		if doc.Score != nil {
			cand.RelevanceScore = *doc.Score
		}
		out = append(out, cand)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rerank: response matched no candidates")
	}
	return out, nil
}

func (c *RerankerClient) post(ctx context.Context, reqBody rerankRequest, out *rerankResponse) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rerank: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// rerankByOverlap is the fallback reranking: score each candidate with the
// same lexical overlap formula the compressor uses, sort descending, keep
// topK. Ties keep the retrieval score order.
func rerankByOverlap(query string, candidates []domain.RetrievalCandidate, topK int) []domain.RetrievalCandidate {
	queryTokens := lexical.TokenSet(query)
	out := make([]domain.RetrievalCandidate, len(candidates))
	for i, c := range candidates {
		c.RelevanceScore = lexical.Overlap(queryTokens, c.Chunk.Text)
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].Score > out[j].Score
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

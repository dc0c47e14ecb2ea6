package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/taskflow-ai/ragengine/engine/domain"
	"github.com/taskflow-ai/ragengine/pkg/fn"
)

// ServiceClient is the primary Provider, backed by the embedding
// microservice. Calls are paced by a token-bucket limiter so that batch
// ingestion cannot overwhelm the service.
type ServiceClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	retry   fn.RetryOpts
}

// ServiceOpts configures the microservice client.
type ServiceOpts struct {
	// Timeout applies per HTTP call.
	Timeout time.Duration
	// RequestsPerSecond paces embed calls. Zero means no pacing.
	RequestsPerSecond float64
	// Burst is the limiter bucket size when pacing is on.
	Burst int
}

// NewServiceClient creates a client for the embedding microservice at baseURL.
func NewServiceClient(baseURL string, opts ServiceOpts) *ServiceClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &ServiceClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		retry:   fn.DefaultRetry,
	}
}

// Name implements Provider.
func (c *ServiceClient) Name() string { return "microservice" }

// Probe implements Prober with a lightweight health check.
func (c *ServiceClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("embed health: %w", domain.ErrEmbeddingUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embed health: status %d: %w", resp.StatusCode, domain.ErrEmbeddingUnavailable)
	}
	return nil
}

type embedRequest struct {
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

// EmbedQuery implements Provider.
func (c *ServiceClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments implements Provider. The response is validated to carry
// exactly one vector per input text.
func (c *ServiceClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	r := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[embedResponse] {
		return fn.FromPair(c.post(ctx, embedRequest{Texts: texts, Normalize: true}))
	})
	resp, err := r.Unwrap()
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func (c *ServiceClient) post(ctx context.Context, reqBody embedRequest) (embedResponse, error) {
	var out embedResponse

	body, err := json.Marshal(reqBody)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("embed: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("embed decode: %w", err)
	}
	return out, nil
}

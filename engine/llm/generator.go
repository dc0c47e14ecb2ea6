// Package llm exposes the single "generate text" capability the retrieval
// pipeline needs for query rewriting and answer synthesis. Provider routing,
// load balancing, and fallback between chat providers live outside the
// engine; this package speaks to one OpenAI-compatible endpoint (OpenAI
// itself, or a local Ollama via its /v1 API).
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client is a Generator backed by an OpenAI-compatible chat-completion API.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// Config holds the chat-completion settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// NewClient creates a chat-completion client.
func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}
}

// Generate implements Generator with a single-turn completion.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Package llm wraps the OpenAI embeddings and chat completion APIs behind
// the domain Embedder and Generator ports, with explicit timeout and retry
// configuration instead of library defaults.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"policyrag/internal/domain"
)

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

const embedBatchSize = 32

// Config configures the client. APIKey is required.
type Config struct {
	APIKey      string
	BaseURL     string
	EmbedModel  string
	ChatModel   string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
}

// Client implements domain.Embedder and domain.Generator on one OpenAI
// connection. Safe for concurrent use.
type Client struct {
	api         *openai.Client
	embedModel  string
	chatModel   string
	temperature float32
	dimension   int
	maxRetries  int
}

// New creates a client. A missing API key is a configuration error, not a
// retriable one.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key for embedding/generation service",
			domain.ErrConfiguration)
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4-turbo-preview"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	dim, ok := embeddingDimensions[cfg.EmbedModel]
	if !ok {
		dim = 1536
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		embedModel:  cfg.EmbedModel,
		chatModel:   cfg.ChatModel,
		temperature: cfg.Temperature,
		dimension:   dim,
		maxRetries:  cfg.MaxRetries,
	}, nil
}

// Dimension returns the embedding vector size for the configured model.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns the L2-normalized embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request batches, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var resp openai.EmbeddingResponse
		err := c.withRetry(ctx, func() error {
			var err error
			resp, err = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Model: openai.EmbeddingModel(c.embedModel),
				Input: batch,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs",
				len(resp.Data), len(batch))
		}
		for _, d := range resp.Data {
			v := make([]float32, len(d.Embedding))
			copy(v, d.Embedding)
			l2normalize(v)
			out = append(out, v)
		}
	}
	return out, nil
}

// Complete generates a response from a system prompt, prior conversation
// history (most recent last) and the current user message.
func (c *Client) Complete(ctx context.Context, system string, history []domain.Message, user string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, func() error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.chatModel,
			Temperature: c.temperature,
			Messages:    messages,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generation service returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// withRetry runs call up to maxRetries+1 times, backing off exponentially
// on transient failures. Non-retriable errors propagate immediately.
func (c *Client) withRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if !retriable(err) || attempt == c.maxRetries {
			return err
		}
		select {
		case <-time.After(retryDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// retriable reports whether an error is a transient service failure
// (rate limit, server error, network). Authentication and other client
// errors are not retried.
func retriable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// transport-level errors (connection reset, timeout) are transient
	return true
}

// retryDelay is exponential backoff starting at 200ms, capped at 5s.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}

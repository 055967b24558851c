package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrMissingCredential is reported by Configured when no API key is set.
// Complete itself never returns it: a missing key yields empty text.
var ErrMissingCredential = errors.New("openai api key not configured")

// NewCompletionClient builds the OpenAI client from configuration and wraps it
// in a rate limiter when requests_per_second is positive.
func NewCompletionClient(cfg config.LLMConfig) CompletionClient {
	var client CompletionClient = NewOpenAIProvider(cfg)
	if cfg.RequestsPerSecond > 0 {
		client = NewRateLimitedClient(client, cfg.RequestsPerSecond)
	}
	return client
}

// OpenAIProvider implements CompletionClient and the retrieval embedder
// against the OpenAI API (or any compatible base URL).
type OpenAIProvider struct {
	config config.LLMConfig
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	p := &OpenAIProvider{config: cfg}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return p
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: newRetryTransport(http.DefaultTransport, cfg.MaxRetries, cfg.RetryBackoff),
	}
	p.client = openai.NewClientWithConfig(oc)
	return p
}

// Configured reports whether an API key is present.
func (p *OpenAIProvider) Configured() error {
	if p.client == nil {
		return ErrMissingCredential
	}
	return nil
}

// Complete sends one chat completion and returns the first choice. Without a
// credential it returns empty text and zero usage.
func (p *OpenAIProvider) Complete(ctx context.Context, model string, messages []Message, temperature float32) (string, TokenUsage, error) {
	if p.client == nil {
		return "", TokenUsage{}, nil
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", TokenUsage{}, ErrNoChoices
	}

	usage := TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// Embed returns one vector per input, in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if p.client == nil {
		return nil, ErrMissingCredential
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(inputs))
	}
	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// RateLimitedClient throttles calls to an inner CompletionClient.
type RateLimitedClient struct {
	inner   CompletionClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows rps calls per second with a burst of one.
func NewRateLimitedClient(inner CompletionClient, rps float64) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (c *RateLimitedClient) Complete(ctx context.Context, model string, messages []Message, temperature float32) (string, TokenUsage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", TokenUsage{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.inner.Complete(ctx, model, messages, temperature)
}

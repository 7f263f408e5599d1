// Package llm talks to OpenAI-compatible chat completion endpoints. The llm
// engine adapter uses it to pose reasoning test cases to a language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Completer answers a prompt with the model's text.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Prompt is a single system plus user exchange.
type Prompt struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// ErrContextExhausted is returned when the prompt does not fit the model's
// context window or the endpoint rate limits the caller.
var ErrContextExhausted = errors.New("model capacity exhausted")

// OpenAIClient implements Completer on the OpenAI-compatible API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature *float64
	maxTokens   int
	stream      bool
}

// NewOpenAIClient creates a client; without options it targets a local
// vLLM style server.
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	cfg := &clientConfig{
		baseURL: "http://localhost:8000/v1",
		apiKey:  "not-needed",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	config := openai.DefaultConfig(cfg.apiKey)
	config.BaseURL = cfg.baseURL

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
		stream:      cfg.stream,
	}
}

// Complete sends the prompt and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (string, error) {
	p = c.applyDefaults(p)
	req := openai.ChatCompletionRequest{
		Model: p.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: float32(p.Temperature),
		MaxTokens:   p.MaxTokens,
	}

	if c.stream {
		req.Stream = true
		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return "", wrap("chat completion stream", err)
		}
		content, err := collect(stream)
		if err != nil {
			return content, wrap("chat completion stream", err)
		}
		return content, nil
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrap("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		return resp.Choices[0].Message.Content, fmt.Errorf("answer truncated at %d tokens: %w", resp.Usage.CompletionTokens, ErrContextExhausted)
	}
	return resp.Choices[0].Message.Content, nil
}

// applyDefaults fills fields the prompt leaves unset from the client options.
func (c *OpenAIClient) applyDefaults(p Prompt) Prompt {
	if p.Model == "" && c.model != "" {
		p.Model = c.model
	}
	if p.Temperature == 0 && c.temperature != nil {
		p.Temperature = *c.temperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = c.maxTokens
	}
	return p
}

func collect(stream *openai.ChatCompletionStream) (string, error) {
	defer stream.Close()
	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		if len(resp.Choices) > 0 {
			b.WriteString(resp.Choices[0].Delta.Content)
		}
	}
}

// wrap marks rate limiting and context window overflows with
// ErrContextExhausted.
func wrap(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Code == "context_length_exceeded" {
			return fmt.Errorf("%s failed: %w: %w", op, ErrContextExhausted, err)
		}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

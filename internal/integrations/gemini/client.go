// Package gemini answers questions about a PDF with Google's Gemini models
// through langchaingo's googleai provider.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/schema"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "gemini-1.5-flash"
	pdfMIMEType  = "application/pdf"
)

// Secret yields the Gemini API key.
type Secret interface {
	Value(ctx context.Context) (string, error)
}

// Client submits single-turn requests: the question text followed by the
// document as an inline PDF blob.
type Client struct {
	secret Secret
	model  string
	newLLM func(ctx context.Context, apiKey, model string) (llms.Model, error)

	mu  sync.Mutex
	llm llms.Model
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// WithLLM installs a ready model, bypassing key resolution.
func WithLLM(llm llms.Model) Option {
	return func(c *Client) {
		c.llm = llm
	}
}

// New creates a Client. The googleai model is built lazily on the first
// Answer so the key is only fetched when needed.
func New(secret Secret, opts ...Option) (*Client, error) {
	c := &Client{
		secret: secret,
		model:  DefaultModel,
		newLLM: newGoogleAI,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.secret == nil && c.llm == nil {
		return nil, errors.New("gemini: api key secret must not be nil")
	}
	return c, nil
}

func newGoogleAI(ctx context.Context, apiKey, model string) (llms.Model, error) {
	return googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

func (c *Client) resolveLLM(ctx context.Context) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.llm != nil {
		return c.llm, nil
	}
	key, err := c.secret.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	llm, err := c.newLLM(ctx, key, c.model)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.llm = llm
	return llm, nil
}

// Answer returns the model's text answer to question about document.
func (c *Client) Answer(ctx context.Context, question string, document []byte) (string, error) {
	llm, err := c.resolveLLM(ctx)
	if err != nil {
		return "", err
	}

	content := []llms.MessageContent{{
		Role: schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(question),
			llms.BinaryPart(pdfMIMEType, document),
		},
	}}

	resp, err := llm.GenerateContent(ctx, content, llms.WithModel(c.model))
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", errors.New("gemini: no candidates in response")
	}
	return resp.Choices[0].Content, nil
}

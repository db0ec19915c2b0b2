// Package chatclient calls the Answer Service over HTTP.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout leaves room for slow inference on large documents.
const DefaultTimeout = 2 * time.Minute

const chatPath = "/api/chat"

type askRequest struct {
	Question       string `json:"question"`
	PDFBase64      string `json:"pdfBase64"`
	ConversationID string `json:"conversation_id"`
}

type askResponse struct {
	Answer string `json:"answer"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// APIError is a non-2xx answer. Message is the service's user-facing text.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

type Client struct {
	endpoint   string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New returns a Client for the service at baseURL. A baseURL that already
// ends in /api/chat is used as is.
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("chatclient: api url must not be empty")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("chatclient: invalid api url: %w", err)
	}
	if !strings.HasSuffix(base, chatPath) {
		base += chatPath
	}
	c := &Client{
		endpoint:   base,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ask submits one question about the base64-encoded PDF and returns the answer.
func (c *Client) Ask(ctx context.Context, token, conversationID, question, pdfBase64 string) (string, error) {
	body, err := json.Marshal(askRequest{
		Question:       question,
		PDFBase64:      pdfBase64,
		ConversationID: conversationID,
	})
	if err != nil {
		return "", fmt.Errorf("chatclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chatclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chatclient: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("chatclient: read response body: %w", err)
	}

	var payload askResponse
	decodeErr := json.Unmarshal(raw, &payload)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := payload.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return "", &APIError{StatusCode: res.StatusCode, Code: payload.Code, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("chatclient: decode response: %w", decodeErr)
	}
	return payload.Answer, nil
}

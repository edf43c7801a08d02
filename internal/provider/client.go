package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second
	initialBackoff     = 500 * time.Millisecond
	maxErrorBody       = 4 << 10
)

// Client sends chat completions to an OpenAI-compatible provider.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a custom base URL (tests, self-hosted gateways).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithModel sets the model identifier sent with every request.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithTimeout bounds each attempt. Values <= 0 keep the default (30s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts enables retries on 429, 5xx and transport failures.
// The default is a single attempt.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial retry backoff. Each retry doubles it and adds
// up to 50% random jitter.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a provider client. It fails immediately with
// ErrMissingCredential when apiKey is empty.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingCredential
	}
	c := &Client{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		timeout:     defaultTimeout,
		maxAttempts: 1,
		backoff:     initialBackoff,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the model identifier the client sends.
func (c *Client) Model() string { return c.model }

// Complete sends messages to the provider and returns the first choice's
// message content.
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	body, err := json.Marshal(ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	raw, err := c.chatWithRetry(ctx, body)
	if err != nil {
		return "", err
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &UpstreamError{Status: http.StatusOK, Body: truncate(string(raw)), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Status: http.StatusOK, Body: truncate(string(raw)), Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) chatWithRetry(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr *UpstreamError
	for attempt := range c.maxAttempts {
		raw, err := c.doChat(ctx, body)
		if err == nil {
			return raw, nil
		}

		var upErr *UpstreamError
		if !errors.As(err, &upErr) || !upErr.retryable() {
			return nil, err
		}
		lastErr = upErr

		if attempt < c.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoffFor(attempt)):
			}
		}
	}

	if c.maxAttempts > 1 {
		return nil, fmt.Errorf("giving up after %d attempts: %w", c.maxAttempts, lastErr)
	}
	return nil, lastErr
}

func (c *Client) backoffFor(attempt int) time.Duration {
	base := float64(c.backoff) * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * base / 2
	return time.Duration(base + jitter)
}

func (c *Client) doChat(ctx context.Context, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Caller cancellation is returned as-is and never retried.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &UpstreamError{Err: fmt.Errorf("request timed out after %s: %w", c.timeout, err)}
		}
		return nil, &UpstreamError{Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &UpstreamError{Err: fmt.Errorf("request timed out after %s: %w", c.timeout, err)}
		}
		return nil, &UpstreamError{Err: fmt.Errorf("reading response: %w", err)}
	}
	return raw, nil
}

// ListModels returns the models available to the configured key.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("requesting models: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

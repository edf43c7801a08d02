package provider

import (
	"errors"
	"fmt"
)

// Message roles accepted by the chat-completions API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible chat completion request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// ChatResponse is the subset of the completion response the relay reads.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice is one completion candidate.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrMissingCredential is returned by NewClient when no API key is configured.
var ErrMissingCredential = errors.New("missing provider API key")

// UpstreamError reports a failed call to the completion provider: a transport
// failure, a timeout, or a non-2xx response. Status is 0 when no response was
// received.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("upstream provider error: status %d: %s", e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("upstream provider error: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("upstream provider error: %v", e.Err)
	default:
		return "upstream provider error"
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// retryable reports whether another attempt may succeed.
func (e *UpstreamError) retryable() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status == 429 || e.Status >= 500
}

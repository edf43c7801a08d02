package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Interaction is one relay call: the prompt sent, the reply or error
// received, and how long it took.
type Interaction struct {
	ID         string
	CreatedAt  time.Time
	Kind       string
	SessionID  string
	Prompt     string
	Response   string
	Status     string
	Error      string
	DurationMS int64
	Model      string
}

// ListFilter narrows ListInteractions. Zero fields match everything.
type ListFilter struct {
	Kind      string
	SessionID string
	Limit     int
}

package session

import (
	"context"
	"sync"

	"github.com/kalambet/synthex/internal/provider"
)

// ring is a fixed-capacity buffer of one session's entries.
type ring struct {
	mu    sync.Mutex
	buf   []provider.Message
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]provider.Message, capacity)}
}

// push appends m, overwriting the oldest entry when full. Callers hold mu.
func (r *ring) push(m provider.Message) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = m
		r.n++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot copies the entries oldest first. Callers hold mu.
func (r *ring) snapshot() []provider.Message {
	out := make([]provider.Message, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) reset() {
	clear(r.buf)
	r.start, r.n = 0, 0
}

// MemoryStore is a process-local Store. Entries live until evicted by the
// cap, cleared, or the process exits.
type MemoryStore struct {
	maxEntries int

	mu       sync.RWMutex
	sessions map[string]*ring
	closed   bool
}

// NewMemoryStore creates a MemoryStore keeping at most maxEntries per session,
// counted in whole exchanges.
func NewMemoryStore(maxEntries int) *MemoryStore {
	maxEntries = entryCap(maxEntries)
	return &MemoryStore{
		maxEntries: maxEntries,
		sessions:   make(map[string]*ring),
	}
}

func (s *MemoryStore) lookup(key string, create bool) (*ring, error) {
	s.mu.RLock()
	r, ok := s.sessions[key]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok || !create {
		return r, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if r, ok = s.sessions[key]; !ok {
		r = newRing(s.maxEntries)
		s.sessions[key] = r
	}
	return r, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]provider.Message, error) {
	r, err := s.lookup(key, false)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return []provider.Message{}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, key string, user, assistant provider.Message) error {
	r, err := s.lookup(key, true)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.push(user)
	r.push(assistant)
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	r, err := s.lookup(key, false)
	if err != nil || r == nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = nil
	return nil
}

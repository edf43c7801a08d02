// Package session keeps the short-term conversation context of learning
// sessions: per session key, the most recent user and assistant turns.
package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/synthex/internal/provider"
)

// DefaultMaxEntries is the per-session cap: five exchanges.
const DefaultMaxEntries = 10

// Store holds context entries per session key. Implementations trim each
// session to its most recent entries after every append.
type Store interface {
	// Get returns the session's entries in chronological order. An unknown
	// key yields an empty slice and no error.
	Get(ctx context.Context, key string) ([]provider.Message, error)

	// Append adds one exchange to the session atomically with respect to
	// other appends on the same key.
	Append(ctx context.Context, key string, user, assistant provider.Message) error

	// Clear drops every entry of the session.
	Clear(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}

// StoreType names a Store backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	maxEntries  int
	redisClient *redis.Client
	redisTTL    time.Duration
}

// entryCap normalizes a per-session cap to whole exchanges so trimming never
// leaves an assistant entry without its user entry. Values <= 0 give the
// default; odd values round down, with one exchange as the floor.
func entryCap(n int) int {
	if n <= 0 {
		return DefaultMaxEntries
	}
	return max(n-n%2, 2)
}

// WithMaxEntries sets the per-session entry cap. Values <= 0 keep the default.
func WithMaxEntries(n int) StoreOption {
	return func(c *storeConfig) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithRedisClient sets the client used by the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL expires idle Redis sessions. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// NewStore creates a Store of the given type. The Redis store requires
// WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(cfg.maxEntries), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient, cfg.maxEntries, cfg.redisTTL), nil
	default:
		return nil, ErrInvalidStoreType
	}
}

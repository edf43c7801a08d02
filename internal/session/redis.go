package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/synthex/internal/provider"
)

const redisKeyPrefix = "synthex:context:"

// RedisStore keeps session context in Redis lists so several relay
// instances share it.
type RedisStore struct {
	client     *redis.Client
	maxEntries int
	ttl        time.Duration
}

// NewRedisStore creates a RedisStore. A ttl of zero disables expiry.
func NewRedisStore(client *redis.Client, maxEntries int, ttl time.Duration) *RedisStore {
	maxEntries = entryCap(maxEntries)
	return &RedisStore{client: client, maxEntries: maxEntries, ttl: ttl}
}

func (s *RedisStore) key(key string) string { return redisKeyPrefix + key }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]provider.Message, error) {
	vals, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session context: %w", err)
	}

	out := make([]provider.Message, 0, len(vals))
	for _, v := range vals {
		var m provider.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("decoding session entry: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Append implements Store. The push and trim run in one MULTI/EXEC.
func (s *RedisStore) Append(ctx context.Context, key string, user, assistant provider.Message) error {
	u, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding user entry: %w", err)
	}
	a, err := json.Marshal(assistant)
	if err != nil {
		return fmt.Errorf("encoding assistant entry: %w", err)
	}

	k := s.key(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, u, a)
		pipe.LTrim(ctx, k, int64(-s.maxEntries), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending session context: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("clearing session context: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

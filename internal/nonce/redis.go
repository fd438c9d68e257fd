package nonce

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis, for deployments where the redirect
// entry point and the callback may land on different nodes. GETDEL makes the
// read-then-delete a single round trip.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. prefix namespaces the keys.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:nonce:%s", s.prefix, key)
}

func (s *RedisStore) Issue(ctx context.Context, key string) (string, error) {
	value, err := generate()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store nonce in redis: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Consume(ctx context.Context, key, presented string) error {
	stored, err := s.client.GetDel(ctx, s.redisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNonceMismatch
		}
		return fmt.Errorf("failed to consume nonce from redis: %w", err)
	}
	if presented == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrNonceMismatch
	}
	return nil
}

var _ Store = (*RedisStore)(nil)

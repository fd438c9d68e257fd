package nonce

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store on a TTL cache. Suitable for single-node
// deployments and tests.
type MemoryStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemoryStore creates a MemoryStore with automatic expiry cleanup.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Stop halts the background cleanup goroutine.
func (s *MemoryStore) Stop() {
	s.cache.Stop()
}

func (s *MemoryStore) Issue(_ context.Context, key string) (string, error) {
	value, err := generate()
	if err != nil {
		return "", err
	}
	s.cache.Set(key, value, ttlcache.DefaultTTL)
	return value, nil
}

func (s *MemoryStore) Consume(_ context.Context, key, presented string) error {
	item, present := s.cache.GetAndDelete(key)
	if !present || item == nil {
		return ErrNonceMismatch
	}
	stored := item.Value()
	if presented == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return ErrNonceMismatch
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)

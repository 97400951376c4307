package auth

import (
	"context"
	"sync"
	"time"

	"qfs/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// TokenStore records revoked token ids until they would have expired
// anyway.
type TokenStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

const revokedKeyPrefix = "auth:revoked:"

// RedisTokenStore shares revocation state across server instances.
type RedisTokenStore struct {
	cache *cache.RedisCache
}

func NewRedisTokenStore(c *cache.RedisCache) *RedisTokenStore {
	return &RedisTokenStore{cache: c}
}

func (s *RedisTokenStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return s.cache.Set(ctx, revokedKeyPrefix+jti, true, ttl)
}

func (s *RedisTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.cache.Get(ctx, revokedKeyPrefix+jti, &revoked)
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// MemoryTokenStore is the single-process variant used in tests.
type MemoryTokenStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{revoked: map[string]time.Time{}}
}

func (s *MemoryTokenStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryTokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(s.revoked, jti)
		return false, nil
	}
	return true, nil
}

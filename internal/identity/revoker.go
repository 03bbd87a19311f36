package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Revoker tracks logged-out bearer tokens until they expire.
type Revoker interface {
	Revoke(ctx context.Context, token string, until time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// MemoryRevoker keeps revoked tokens in-memory (single instance only).
type MemoryRevoker struct {
	clock clockwork.Clock

	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewMemoryRevoker builds an in-memory revoker.
func NewMemoryRevoker(clock clockwork.Clock) *MemoryRevoker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRevoker{
		clock:  clock,
		tokens: make(map[string]time.Time),
	}
}

// Revoke marks token as revoked until the given time.
func (r *MemoryRevoker) Revoke(_ context.Context, token string, until time.Time) error {
	if !until.After(r.clock.Now()) {
		return nil
	}
	r.mu.Lock()
	r.tokens[tokenDigest(token)] = until
	r.mu.Unlock()
	return nil
}

func (r *MemoryRevoker) IsRevoked(_ context.Context, token string) (bool, error) {
	key := tokenDigest(token)
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.tokens[key]
	if !ok {
		return false, nil
	}
	if !r.clock.Now().Before(until) {
		delete(r.tokens, key)
		return false, nil
	}
	return true, nil
}

// RedisRevoker stores revoked token digests in Redis with a TTL so every
// syncd replica sees a logout.
type RedisRevoker struct {
	client *redis.Client
	prefix string
	clock  clockwork.Clock
}

// NewRedisRevoker builds a Redis-backed revoker.
func NewRedisRevoker(addr, password, prefix string) *RedisRevoker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "reelsync:revoked"
	}
	return &RedisRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		clock:  clockwork.NewRealClock(),
	}
}

func (r *RedisRevoker) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := until.Sub(r.clock.Now())
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.key(token), "1", ttl).Err()
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the Redis client.
func (r *RedisRevoker) Close() error {
	return r.client.Close()
}

func (r *RedisRevoker) key(token string) string {
	return r.prefix + ":" + tokenDigest(token)
}

// tokenDigest keeps raw bearer tokens out of memory maps and Redis keys.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Package cache owns the shared Redis namespace where the catalog proxy
// keeps third-party responses as `<prefix>:<all|safe>:<key>`. syncd never
// reads those entries; it only drops the namespace when a user flips child
// safety mode.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	invalidateTimeout = 10 * time.Second
	scanBatch         = 200
)

// RedisContentCache invalidates the catalog namespace under prefix.
type RedisContentCache struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
}

// NewRedisContentCache connects to the catalog namespace.
func NewRedisContentCache(addr, password, prefix string) (*RedisContentCache, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("content cache redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "reelsync:content"
	}
	return &RedisContentCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
	}, nil
}

// Invalidate deletes every cached entry. Concurrent calls share one scan.
func (c *RedisContentCache) Invalidate(ctx context.Context) error {
	_, err, _ := c.group.Do("invalidate", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, invalidateTimeout)
		defer cancel()
		return c.invalidate(ctx)
	})
	return err
}

func (c *RedisContentCache) invalidate(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan content cache: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("purge content cache: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Close releases the underlying client.
func (c *RedisContentCache) Close() error {
	return c.client.Close()
}

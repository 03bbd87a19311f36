package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"reelsync/pkg/domain"
)

const defaultRedisOpTimeout = 3 * time.Second

// RedisAdapter keeps user documents as JSON strings in Redis, one key per
// identity (`<prefix>:users/<id>`).
type RedisAdapter struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// RedisAdapterConfig configures a RedisAdapter.
type RedisAdapterConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// NewRedisAdapter builds a Redis-backed document adapter.
func NewRedisAdapter(cfg RedisAdapterConfig) (*RedisAdapter, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	return NewRedisAdapterWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.KeyPrefix, cfg.Timeout), nil
}

// NewRedisAdapterWithClient wraps an existing client.
func NewRedisAdapterWithClient(client *redis.Client, prefix string, timeout time.Duration) *RedisAdapter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "reelsync"
	}
	if timeout <= 0 {
		timeout = defaultRedisOpTimeout
	}
	return &RedisAdapter{client: client, prefix: prefix, timeout: timeout}
}

func (r *RedisAdapter) Name() string  { return "redis" }
func (r *RedisAdapter) IsAsync() bool { return true }

// Load fetches the document; a missing key yields defaults.
func (r *RedisAdapter) Load(ctx context.Context, id string) (domain.UserState, error) {
	id, err := normalizeID(id)
	if err != nil {
		return domain.UserState{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return emptyState(id), nil
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("load user document: %w", err)
	}
	var state domain.UserState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.UserState{}, fmt.Errorf("decode user document: %w", err)
	}
	return prepareLoaded(state, id), nil
}

// Save overwrites the whole document.
func (r *RedisAdapter) Save(ctx context.Context, id string, state domain.UserState) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	state.ID = id
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode user document: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("save user document: %w", err)
	}
	return nil
}

// Clear deletes the document.
func (r *RedisAdapter) Clear(ctx context.Context, id string) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear user document: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisAdapter) Close() error {
	return r.client.Close()
}

func (r *RedisAdapter) key(id string) string {
	return fmt.Sprintf("%s:users/%s", r.prefix, id)
}

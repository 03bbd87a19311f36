package app

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"reelsync/pkg/cache"
	"reelsync/pkg/events"
	"reelsync/pkg/store"
	"reelsync/services/syncd/internal/config"
)

// Backends holds the external resources selected by configuration.
type Backends struct {
	UserAdapter  store.Adapter
	GuestAdapter store.Adapter
	Cache        *cache.RedisContentCache
	Publisher    events.Publisher
	closers      []io.Closer
}

// OpenBackends connects the adapters, cache and publisher named in cfg.
func OpenBackends(cfg config.FileConfig) (*Backends, error) {
	b := &Backends{Publisher: events.NopPublisher{}}
	var err error
	if b.UserAdapter, err = b.openAdapter(cfg, cfg.UserBackend, "users"); err != nil {
		b.Close()
		return nil, fmt.Errorf("user backend: %w", err)
	}
	if b.GuestAdapter, err = b.openAdapter(cfg, cfg.GuestBackend, "guests"); err != nil {
		b.Close()
		return nil, fmt.Errorf("guest backend: %w", err)
	}
	if cfg.ContentCacheAddr != "" {
		c, err := cache.NewRedisContentCache(cfg.ContentCacheAddr, cfg.RedisPassword, cfg.ContentCachePrefix)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("content cache: %w", err)
		}
		b.Cache = c
		b.closers = append(b.closers, c)
	}
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("event publisher: %w", err)
		}
		b.Publisher = p
		b.closers = append(b.closers, p)
	}
	return b, nil
}

func (b *Backends) openAdapter(cfg config.FileConfig, backend, scope string) (store.Adapter, error) {
	switch backend {
	case config.BackendMemory, "":
		return store.NewMemoryAdapter(), nil
	case config.BackendFile:
		return store.NewFileAdapter(filepath.Join(cfg.DataDir, scope))
	case config.BackendRedis:
		a, err := store.NewRedisAdapter(store.RedisAdapterConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
			Timeout:   3 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, a)
		return a, nil
	case config.BackendPostgres:
		a, err := store.NewGormAdapter(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, a)
		return a, nil
	case config.BackendMinio:
		return store.NewObjectAdapter(store.ObjectAdapterConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// Close releases every opened resource.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/infrastructure/config"
)

// Stores bundles the idempotency store and key locker used by the services
type Stores struct {
	Idempotency shared.IdempotencyStore
	Locker      shared.KeyLocker
	// Distributed is true when both are backed by Redis
	Distributed bool

	client *redis.Client
}

// Close releases the stores and the Redis connection
func (s *Stores) Close() error {
	err := s.Idempotency.Close()
	if s.client != nil {
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// StoresFactory creates the stores from configuration
type StoresFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoresFactoryOption is a functional option for configuring the factory
type StoresFactoryOption func(*StoresFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoresFactoryOption {
	return func(f *StoresFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when
// Redis is unreachable. Default is true.
func WithInMemoryFallback(allow bool) StoresFactoryOption {
	return func(f *StoresFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoresFactory creates a new factory
func NewStoresFactory(cfg config.RedisConfig, opts ...StoresFactoryOption) *StoresFactory {
	f := &StoresFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// InMemory returns process-local stores
func (f *StoresFactory) InMemory() *Stores {
	return &Stores{
		Idempotency: NewInMemoryIdempotencyStore(),
		Locker:      NewInMemoryKeyLocker(),
	}
}

// Create returns Redis-backed stores when Redis is enabled and reachable,
// in-memory stores when it is disabled, and in-memory stores on connection
// failure if fallback is allowed.
func (f *StoresFactory) Create(ctx context.Context) (*Stores, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory idempotency store and key locks")
		return f.InMemory(), nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig)
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, err
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory stores; duplicate notification handling is not shared across instances",
			zap.String("addr", f.redisConfig.Addr()),
			zap.Error(err),
		)
		return f.InMemory(), nil
	}

	f.logger.Info("Using Redis idempotency store and key locks", zap.String("addr", f.redisConfig.Addr()))
	return &Stores{
		Idempotency: NewRedisIdempotencyStore(client, ""),
		Locker:      NewRedisKeyLocker(client, f.logger),
		Distributed: true,
		client:      client,
	}, nil
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/shared"
)

// DefaultLockPrefix namespaces key locks in Redis
const DefaultLockPrefix = "marketsync:lock:"

// unlockScript deletes the lock only while it still carries our token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisKeyLocker serializes work per key across instances with SET NX leases.
// A lease expires after ttl so a crashed holder cannot block a key forever.
type RedisKeyLocker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	retry     time.Duration
	logger    *zap.Logger
}

// RedisLockerOption configures a RedisKeyLocker
type RedisLockerOption func(*RedisKeyLocker)

// WithLockTTL sets the lease duration
func WithLockTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisKeyLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockRetry sets the polling interval while a key is held elsewhere
func WithLockRetry(d time.Duration) RedisLockerOption {
	return func(l *RedisKeyLocker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithLockPrefix sets the key prefix
func WithLockPrefix(prefix string) RedisLockerOption {
	return func(l *RedisKeyLocker) {
		if prefix != "" {
			l.keyPrefix = prefix
		}
	}
}

// NewRedisKeyLocker creates a distributed key locker
func NewRedisKeyLocker(client *redis.Client, logger *zap.Logger, opts ...RedisLockerOption) *RedisKeyLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &RedisKeyLocker{
		client:    client,
		keyPrefix: DefaultLockPrefix,
		ttl:       30 * time.Second,
		retry:     25 * time.Millisecond,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls SET NX until the key is held or ctx is done
func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (shared.UnlockFunc, error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// release with a fresh context: the caller's may already be canceled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release key lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

var _ shared.KeyLocker = (*RedisKeyLocker)(nil)

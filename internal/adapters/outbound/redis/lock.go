// Package redis provides a Redis implementation of the RepairLock port.
//
// A lease is a key set with NX and a TTL whose value is a random token.
// Release deletes the key only while it still holds that token, so a bot
// whose lease expired never frees a lease another bot has since taken.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that RepairLock implements outbound.RepairLock
var _ outbound.RepairLock = (*RepairLock)(nil)

// releaseScript deletes KEYS[1] if its value is ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis lock configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all lock keys
	KeyPrefix string
}

// ConfigDefaults returns default Redis lock configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "auto-repay:lock",
	}
}

// RepairLock is a distributed lock on Redis.
type RepairLock struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewRepairLock creates a new Redis repair lock.
func NewRepairLock(cfg Config, logger *slog.Logger) (*RepairLock, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = ConfigDefaults().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &RepairLock{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-lock"),
	}, nil
}

// Ping checks the Redis connection.
func (l *RepairLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *RepairLock) Close() error {
	return l.client.Close()
}

func (l *RepairLock) lockKey(key string) string {
	return l.keyPrefix + ":" + key
}

// Acquire sets the lock key if it is absent.
func (l *RepairLock) Acquire(ctx context.Context, key string, ttl time.Duration) (outbound.ReleaseFunc, bool, error) {
	if ttl <= 0 {
		return nil, false, errors.New("lock ttl must be positive")
	}
	token := uuid.NewString()
	fullKey := l.lockKey(key)

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	var releaseErr error
	release := func(ctx context.Context) error {
		once.Do(func() {
			deleted, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
			if err != nil {
				releaseErr = fmt.Errorf("failed to release lock %s: %w", fullKey, err)
				return
			}
			if deleted == 0 {
				l.logger.Warn("lock expired before release", "key", fullKey)
			}
		})
		return releaseErr
	}
	return release, true, nil
}

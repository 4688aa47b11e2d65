package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "claims:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// holder whose TTL lapsed cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSettlementLock implements SettlementLock with SET NX PX.
// It serializes settlements across every instance sharing the Redis server.
type RedisSettlementLock struct {
	client    *redis.Client
	keyPrefix string

	mu     sync.Mutex
	tokens map[string]string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisSettlementLock connects to Redis and verifies the connection
func NewRedisSettlementLock(cfg RedisConfig) (*RedisSettlementLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSettlementLockWithClient(client, ""), nil
}

// NewRedisSettlementLockWithClient creates a lock over an existing client
func NewRedisSettlementLockWithClient(client *redis.Client, keyPrefix string) *RedisSettlementLock {
	if keyPrefix == "" {
		keyPrefix = defaultLockPrefix
	}
	return &RedisSettlementLock{
		client:    client,
		keyPrefix: keyPrefix,
		tokens:    make(map[string]string),
	}
}

// Acquire claims key for ttl.
// Returns false without error if another holder has it.
func (l *RedisSettlementLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire settlement lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Release frees key if this process still holds it
func (l *RedisSettlementLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{l.keyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release settlement lock %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisSettlementLock) Close() error {
	return l.client.Close()
}

var _ shared.SettlementLock = (*RedisSettlementLock)(nil)

package cache

import (
	"fmt"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// SettlementLockFactory creates settlement locks based on configuration
type SettlementLockFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	connect               func(RedisConfig) (shared.SettlementLock, error)
}

// SettlementLockFactoryOption is a functional option for configuring the factory
type SettlementLockFactoryOption func(*SettlementLockFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) SettlementLockFactoryOption {
	return func(f *SettlementLockFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory lock
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) SettlementLockFactoryOption {
	return func(f *SettlementLockFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewSettlementLockFactory creates a new factory
func NewSettlementLockFactory(cfg config.RedisConfig, opts ...SettlementLockFactoryOption) *SettlementLockFactory {
	f := &SettlementLockFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		connect: func(c RedisConfig) (shared.SettlementLock, error) {
			return NewRedisSettlementLock(c)
		},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateLock returns a Redis lock when Redis is configured and reachable.
// Without a Redis host, or when Redis is down and fallback is allowed, it
// returns an in-memory lock.
func (f *SettlementLockFactory) CreateLock() (shared.SettlementLock, error) {
	if f.redisConfig.Host == "" {
		f.logger.Info("Redis not configured, using in-memory settlement lock")
		return NewInMemorySettlementLock(), nil
	}

	lock, err := f.connect(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("using Redis settlement lock", zap.String("addr", f.redisConfig.Addr()))
		return lock, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for settlement locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory settlement lock. "+
		"Concurrent instances may settle the same claim twice; the payment idempotency key still prevents a double charge.",
		zap.Error(err),
	)
	return NewInMemorySettlementLock(), nil
}

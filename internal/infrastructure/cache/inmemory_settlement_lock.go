package cache

import (
	"context"
	"sync"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
)

// InMemorySettlementLock implements SettlementLock with a process-local map.
// It only serializes settlements inside one process.
type InMemorySettlementLock struct {
	mu        sync.Mutex
	held      map[string]time.Time // key -> expiry
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemorySettlementLock creates a new in-memory lock and starts the
// background sweep of expired keys
func NewInMemorySettlementLock() *InMemorySettlementLock {
	l := &InMemorySettlementLock{
		held:     make(map[string]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// Acquire claims key for ttl. An expired holder is replaced.
func (l *InMemorySettlementLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

// Release frees key
func (l *InMemorySettlementLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (l *InMemorySettlementLock) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

func (l *InMemorySettlementLock) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *InMemorySettlementLock) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, expiry := range l.held {
		if !now.Before(expiry) {
			delete(l.held, key)
		}
	}
}

// Size returns the number of held keys, expired ones included until swept
func (l *InMemorySettlementLock) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

var _ shared.SettlementLock = (*InMemorySettlementLock)(nil)

// Package event provides the in-process domain event bus.
package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// BusConfig controls handler dispatch
type BusConfig struct {
	// Async runs handlers off the publishing goroutine once the bus is started
	Async bool
	// MaxInFlight bounds concurrently running async handlers
	MaxInFlight int
	// HandlerTimeout bounds a single handler invocation
	HandlerTimeout time.Duration
	// Retry is applied to handlers that return an error
	Retry shared.RetryPolicy
}

// DefaultBusConfig returns async dispatch with 2 retries at 500ms
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Async:          true,
		MaxInFlight:    32,
		HandlerTimeout: 30 * time.Second,
		Retry:          shared.RetryPolicy{MaxRetries: 2, BaseBackoff: 500 * time.Millisecond},
	}
}

// InMemoryEventBus implements EventBus with in-process pub/sub.
// Handler errors are logged and never reach the publisher.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	handlers map[string][]shared.EventHandler
	wildcard []shared.EventHandler

	cfg      BusConfig
	logger   *zap.Logger
	running  atomic.Bool
	inFlight chan struct{}
	wg       sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error

	failures atomic.Int64
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(cfg BusConfig, logger *zap.Logger) *InMemoryEventBus {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultBusConfig().MaxInFlight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		handlers: make(map[string][]shared.EventHandler),
		cfg:      cfg,
		logger:   logger.Named("event_bus"),
		inFlight: make(chan struct{}, cfg.MaxInFlight),
		sleep:    sleepContext,
	}
}

// Publish dispatches events to every matching handler. Before Start, or
// with Async off, handlers run on the caller's goroutine.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	detached := context.WithoutCancel(ctx)
	for _, event := range events {
		for _, handler := range b.handlersFor(event.EventType()) {
			if !b.cfg.Async || !b.running.Load() {
				b.deliver(detached, handler, event)
				continue
			}

			b.wg.Add(1)
			b.inFlight <- struct{}{}
			go func(h shared.EventHandler, e shared.DomainEvent) {
				defer func() {
					<-b.inFlight
					b.wg.Done()
				}()
				b.deliver(detached, h, e)
			}(handler, event)
		}
	}
	return nil
}

// Subscribe registers a handler. Without explicit event types the handler's
// own EventTypes are used; an empty list subscribes to every event.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}

	b.mu.Lock()
	if len(eventTypes) == 0 {
		b.wildcard = append(b.wildcard, handler)
	}
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], handler)
	}
	b.mu.Unlock()

	b.logger.Debug("handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes a handler from every event type
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcard = without(b.wildcard, handler)
	for t, hs := range b.handlers {
		if hs = without(hs, handler); len(hs) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = hs
		}
	}
}

// Start enables async dispatch
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.running.Store(true)
	b.logger.Info("event bus started", zap.Bool("async", b.cfg.Async))
	return nil
}

// Stop waits for in-flight handlers until ctx is done
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.running.Store(false)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus stop: %w", ctx.Err())
	}
}

// Failures returns how many deliveries failed after all retries
func (b *InMemoryEventBus) Failures() int64 {
	return b.failures.Load()
}

func (b *InMemoryEventBus) handlersFor(eventType string) []shared.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	typed := b.handlers[eventType]
	result := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	result = append(result, typed...)
	return append(result, b.wildcard...)
}

// deliver runs the handler with retries and records a final failure
func (b *InMemoryEventBus) deliver(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) {
	var err error
	for attempt := 1; ; attempt++ {
		if err = b.dispatch(ctx, handler, event); err == nil {
			return
		}
		if !b.cfg.Retry.CanRetry(attempt) {
			break
		}
		b.logger.Warn("event handler failed, retrying",
			zap.String("event_type", event.EventType()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if b.sleep(ctx, b.cfg.Retry.Backoff(attempt)) != nil {
			break
		}
	}

	b.failures.Add(1)
	b.logger.Error("handler failed to process event",
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.Error(err),
	)
}

// dispatch invokes one handler, converting a panic into an error
func (b *InMemoryEventBus) dispatch(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	if b.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}

func without(handlers []shared.EventHandler, target shared.EventHandler) []shared.EventHandler {
	result := make([]shared.EventHandler, 0, len(handlers))
	for _, h := range handlers {
		if h != target {
			result = append(result, h)
		}
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

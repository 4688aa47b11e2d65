package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEvent struct {
	shared.BaseDomainEvent
}

func newTestEvent(eventType string) *testEvent {
	return &testEvent{BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "Claim", uuid.New(), 1)}
}

type testHandler struct {
	eventTypes []string
	mu         sync.Mutex
	handled    []shared.DomainEvent
	failFirst  int
	panics     bool
	ctxErrs    []error
}

func (h *testHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	if h.failFirst > 0 {
		h.failFirst--
		return errors.New("transient")
	}
	h.handled = append(h.handled, event)
	return nil
}

func (h *testHandler) EventTypes() []string { return h.eventTypes }

func (h *testHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func syncBus() *InMemoryEventBus {
	cfg := DefaultBusConfig()
	cfg.Async = false
	b := NewInMemoryEventBus(cfg, zap.NewNop())
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	b := syncBus()
	paid := &testHandler{eventTypes: []string{"ClaimPaid"}}
	all := &testHandler{}
	b.Subscribe(paid)
	b.Subscribe(all)

	require.NoError(t, b.Publish(context.Background(), newTestEvent("ClaimPaid"), newTestEvent("ClaimRouted")))

	assert.Equal(t, 1, paid.count())
	assert.Equal(t, 2, all.count())
}

func TestInMemoryEventBus_ExplicitTypesOverrideHandler(t *testing.T) {
	b := syncBus()
	h := &testHandler{eventTypes: []string{"ClaimPaid"}}
	b.Subscribe(h, "ClaimRouted")

	_ = b.Publish(context.Background(), newTestEvent("ClaimPaid"), newTestEvent("ClaimRouted"))

	assert.Equal(t, 1, h.count())
	assert.Equal(t, "ClaimRouted", h.handled[0].EventType())
}

func TestInMemoryEventBus_FuncHandler(t *testing.T) {
	b := syncBus()
	var versions []int
	b.Subscribe(shared.NewFuncHandler(func(_ context.Context, e shared.DomainEvent) error {
		versions = append(versions, e.AggregateVersion())
		return nil
	}, "ClaimPaid"))

	_ = b.Publish(context.Background(), newTestEvent("ClaimRouted"), newTestEvent("ClaimPaid"))

	assert.Equal(t, []int{1}, versions)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	b := syncBus()
	h := &testHandler{eventTypes: []string{"ClaimPaid"}}
	b.Subscribe(h)
	b.Unsubscribe(h)

	_ = b.Publish(context.Background(), newTestEvent("ClaimPaid"))

	assert.Equal(t, 0, h.count())
}

func TestInMemoryEventBus_RetriesFailedHandler(t *testing.T) {
	b := syncBus()
	h := &testHandler{eventTypes: []string{"ClaimPaid"}, failFirst: 2}
	b.Subscribe(h)

	require.NoError(t, b.Publish(context.Background(), newTestEvent("ClaimPaid")))

	assert.Equal(t, 1, h.count())
	assert.Equal(t, int64(0), b.Failures())
}

func TestInMemoryEventBus_GivesUpAfterRetries(t *testing.T) {
	b := syncBus()
	h := &testHandler{eventTypes: []string{"ClaimPaid"}, failFirst: 10}
	b.Subscribe(h)

	err := b.Publish(context.Background(), newTestEvent("ClaimPaid"))

	require.NoError(t, err, "handler errors never reach the publisher")
	assert.Equal(t, 0, h.count())
	assert.Equal(t, int64(1), b.Failures())
	assert.Len(t, h.ctxErrs, 3)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	b := syncBus()
	b.cfg.Retry = shared.RetryPolicy{}
	b.Subscribe(&testHandler{eventTypes: []string{"ClaimPaid"}, panics: true})

	assert.NotPanics(t, func() {
		_ = b.Publish(context.Background(), newTestEvent("ClaimPaid"))
	})
	assert.Equal(t, int64(1), b.Failures())
}

func TestInMemoryEventBus_HandlersOutliveCancelledPublisher(t *testing.T) {
	b := syncBus()
	h := &testHandler{eventTypes: []string{"ClaimPaid"}}
	b.Subscribe(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Publish(ctx, newTestEvent("ClaimPaid"))

	require.Len(t, h.ctxErrs, 1)
	assert.NoError(t, h.ctxErrs[0])
}

func TestInMemoryEventBus_AsyncDispatchAndStop(t *testing.T) {
	cfg := DefaultBusConfig()
	cfg.MaxInFlight = 2
	b := NewInMemoryEventBus(cfg, zap.NewNop())
	h := &testHandler{eventTypes: []string{"ClaimPaid"}}
	b.Subscribe(h)
	require.NoError(t, b.Start(context.Background()))

	for i := 0; i < 20; i++ {
		_ = b.Publish(context.Background(), newTestEvent("ClaimPaid"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, 20, h.count())
}

package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewRegistry(DefaultConfig(), WithClock(clock.Now)).Get("payment")
}

func tripOpen(b *CircuitBreaker) {
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
}

func TestCircuitBreaker_OpensAfterFiveConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.False(t, b.IsOpen(), "open after %d failures", i+1)
	}
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, b.Snapshot().ConsecutiveFailures)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(b)

	clock.Advance(59 * time.Second)
	assert.True(t, b.IsOpen())

	clock.Advance(time.Second)
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestCircuitBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(b)
	clock.Advance(time.Minute)

	require.True(t, b.Allow())
	assert.False(t, b.Allow())
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())
	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(b)
	clock.Advance(time.Minute)

	require.True(t, b.Allow())
	b.RecordSuccess()
	require.True(t, b.Allow())
	b.RecordFailure()

	assert.True(t, b.IsOpen())
	clock.Advance(30 * time.Second)
	assert.True(t, b.IsOpen())
	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveSuccesses)
}

func TestCircuitBreaker_AbandonedTrialIsReleased(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(b)
	clock.Advance(time.Minute)

	require.True(t, b.Allow())
	assert.False(t, b.Allow())
	clock.Advance(time.Minute)
	assert.True(t, b.Allow())
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	reg := NewRegistry(DefaultConfig(), WithClock(clock.Now), WithStateChangeHook(func(endpoint string, from, to State) {
		transitions = append(transitions, endpoint+":"+from.String()+"->"+to.String())
	}))
	b := reg.Get("payment")

	tripOpen(b)
	clock.Advance(time.Minute)
	b.Allow()
	b.RecordSuccess()
	b.Allow()
	b.RecordSuccess()

	assert.Equal(t, []string{
		"payment:CLOSED->OPEN",
		"payment:OPEN->HALF_OPEN",
		"payment:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestCircuitBreaker_OpenError(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	tripOpen(b)
	err := b.OpenError()
	assert.True(t, shared.IsKind(err, shared.KindCircuitOpen))
	assert.Contains(t, err.Error(), `"payment"`)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(b)
	clock.Advance(time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(DefaultConfig())

	a := reg.Get("payment")
	assert.Same(t, a, reg.Get("payment"))
	other := reg.Get("archive")
	assert.NotSame(t, a, other)

	tripOpen(a)
	assert.False(t, other.IsOpen())

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "archive", snaps[0].Endpoint)
	assert.Equal(t, StateOpen, snaps[1].State)
}

package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/claimflow/backend/internal/domain/shared"
)

// State is the mode of a circuit breaker
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}

// Config holds circuit breaker thresholds
type Config struct {
	// FailureThreshold consecutive failures open a closed circuit
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close the circuit
	SuccessThreshold int
	// OpenTimeout is how long after the last failure the circuit admits a trial call
	OpenTimeout time.Duration
	// TrialTimeout frees the half-open trial slot if its caller never reports back
	TrialTimeout time.Duration
}

// DefaultConfig returns 5 failures to open, 2 successes to close, and a 60s open window
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
		TrialTimeout:     60 * time.Second,
	}
}

// Snapshot is a point-in-time view of one breaker
type Snapshot struct {
	Endpoint             string    `json:"endpoint"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
}

// StateChangeFunc observes breaker transitions
type StateChangeFunc func(endpoint string, from, to State)

// CircuitBreaker gates calls to one endpoint. Each breaker has its own mutex.
type CircuitBreaker struct {
	endpoint string
	config   Config
	now      func() time.Time
	onChange StateChangeFunc

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	trialInFlight        bool
	trialStarted         time.Time
}

func newCircuitBreaker(endpoint string, config Config, now func() time.Time, onChange StateChangeFunc) *CircuitBreaker {
	return &CircuitBreaker{
		endpoint: endpoint,
		config:   config,
		now:      now,
		onChange: onChange,
		state:    StateClosed,
	}
}

// Endpoint returns the endpoint name the breaker guards
func (b *CircuitBreaker) Endpoint() string {
	return b.endpoint
}

// IsOpen reports whether calls are currently rejected outright. Reading it
// may move an expired OPEN circuit to HALF_OPEN.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state == StateOpen
}

// State returns the current mode, applying the time-based transition
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Allow reports whether a call may proceed. In HALF_OPEN only one trial call
// is admitted until it records an outcome.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		now := b.now()
		if b.trialInFlight && now.Sub(b.trialStarted) < b.trialTimeout() {
			return false
		}
		b.trialInFlight = true
		b.trialStarted = now
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.trialInFlight = false
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
			b.setStateLocked(StateClosed)
		}
	}
}

// RecordFailure reports a failed call
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	b.lastFailure = b.now()
	b.consecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.consecutiveFailures++
		b.setStateLocked(StateOpen)
	case StateOpen:
		b.consecutiveFailures++
	}
}

// Snapshot returns the breaker's counters
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return Snapshot{
		Endpoint:             b.endpoint,
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailure:          b.lastFailure,
	}
}

// OpenError returns the fail-fast error for this breaker
func (b *CircuitBreaker) OpenError() *shared.DomainError {
	retryAt := b.Snapshot().LastFailure.Add(b.config.OpenTimeout)
	return shared.NewKindError(shared.KindCircuitOpen, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit for endpoint %q is open; retry after %s", b.endpoint, retryAt.UTC().Format(time.RFC3339)))
}

func (b *CircuitBreaker) refreshLocked() {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.config.OpenTimeout {
		b.consecutiveSuccesses = 0
		b.trialInFlight = false
		b.setStateLocked(StateHalfOpen)
	}
}

func (b *CircuitBreaker) setStateLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(b.endpoint, from, to)
	}
}

func (b *CircuitBreaker) trialTimeout() time.Duration {
	if b.config.TrialTimeout > 0 {
		return b.config.TrialTimeout
	}
	return b.config.OpenTimeout
}

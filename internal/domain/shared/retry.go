package shared

import "time"

// Default retry configuration
const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = time.Second
	maxBackoffShift    = 16
)

// RetryPolicy describes a bounded exponential backoff schedule.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// BaseBackoff is the delay before the first retry; each later retry doubles it
	BaseBackoff time.Duration
}

// DefaultRetryPolicy returns 3 retries at 1s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// MaxAttempts returns the first attempt plus all retries
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// CanRetry reports whether another attempt is allowed after attempt (1-based).
func (p RetryPolicy) CanRetry(attempt int) bool {
	return attempt < p.MaxAttempts()
}

// Backoff returns the wait after the given failed attempt (1-based).
// Exponential backoff: 1s, 2s, 4s, 8s, ...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return p.BaseBackoff * time.Duration(1<<uint(shift))
}

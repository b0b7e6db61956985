package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidOptions is returned when quota options cannot be enforced.
	ErrInvalidOptions = errors.New("invalid rate limit options")

	// ErrStoreUnavailable wraps counter store failures surfaced by Consume.
	ErrStoreUnavailable = errors.New("counter store unavailable")
)

// Options is the quota applied to a key.
type Options struct {
	// MaxRequests is the number of requests admitted per window.
	MaxRequests int64

	// Window is the fixed window length.
	Window time.Duration

	// BlockDuration, when positive, blocks a key for this long once it
	// exceeds its quota.
	BlockDuration time.Duration

	// SkipSuccessfulRequests skips consumption for responses below 400.
	SkipSuccessfulRequests bool

	// SkipFailedRequests skips consumption for responses of 400 and above.
	SkipFailedRequests bool
}

// Validate checks that the options describe an enforceable quota.
func (o Options) Validate() error {
	if o.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidOptions, o.MaxRequests)
	}
	if o.Window < time.Millisecond {
		return fmt.Errorf("%w: window must be at least 1ms, got %s", ErrInvalidOptions, o.Window)
	}
	if o.BlockDuration < 0 {
		return fmt.Errorf("%w: block duration cannot be negative, got %s", ErrInvalidOptions, o.BlockDuration)
	}
	return nil
}

// Decision is the result of an admission check.
// This is returned by Limiter.IsAllowed and never mutates the window counter.
type Decision struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Limit is the configured quota.
	Limit int64

	// Remaining is how many requests remain in the window after this one.
	Remaining int64

	// ResetTime is when the current window ends.
	ResetTime time.Time

	// RetryAfter suggests how long to wait before retrying (denials only).
	RetryAfter time.Duration

	// Blocked is set when the denial also created a block entry.
	Blocked bool

	// FailOpen is set when the store could not be reached and the request
	// was admitted without a quota check.
	FailOpen bool
}

// Usage is the result of spending one unit of quota.
type Usage struct {
	// TotalHits is the window counter after the increment.
	TotalHits int64

	// Remaining is the quota left in the window, never negative.
	Remaining int64

	// ResetTime is when the current window ends.
	ResetTime time.Time
}

// State is the position of a key in the limiter state machine:
// unrestricted -> within_limit -> at_limit -> blocked -> (TTL) -> unrestricted.
type State string

const (
	StateUnrestricted State = "unrestricted"
	StateWithinLimit  State = "within_limit"
	StateAtLimit      State = "at_limit"
	StateBlocked      State = "blocked"
)

// Status is a read-only view of a key.
type Status struct {
	Key       string        `json:"key"`
	TotalHits int64         `json:"total_hits"`
	Remaining int64         `json:"remaining"`
	ResetTime time.Time     `json:"reset_time"`
	Blocked   bool          `json:"blocked"`
	Limit     int64         `json:"limit"`
	Window    time.Duration `json:"-"`
	WindowMs  int64         `json:"window_ms"`
	State     State         `json:"state"`
}

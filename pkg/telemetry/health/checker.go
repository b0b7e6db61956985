package health

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Check statuses.
const (
	StatusOK        = "ok"
	StatusUnhealthy = "unhealthy"
)

// Overall readiness verdicts.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// ErrCheckTimeout is reported when a check outlives its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// CheckFunc performs a health check. It returns nil when the component is
// healthy.
type CheckFunc func(ctx context.Context) error

// Pinger is any dependency with a connectivity check, such as the counter
// store or the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger to a CheckFunc.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status     string  `json:"status"`
	Critical   bool    `json:"critical"`
	Message    string  `json:"message,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// Readiness is the aggregated outcome of all registered checks.
type Readiness struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Liveness reports that the process is up.
type Liveness struct {
	Status     string    `json:"status"`
	Uptime     float64   `json:"uptime_seconds"`
	Goroutines int       `json:"goroutines"`
	Timestamp  time.Time `json:"timestamp"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker runs readiness checks for Tollgate's dependencies.
//
// A failing critical check makes the process not ready. A failing
// non-critical check only degrades it: the counter store is non-critical
// because the rate limiter fails open without it.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck

	checkTimeout time.Duration
	started      time.Time
}

// New creates a checker. A zero timeout defaults to 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]registeredCheck),
		checkTimeout: checkTimeout,
		started:      time.Now(),
	}
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, fn CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registeredCheck{fn: fn, critical: critical}
}

// Unregister removes a named check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.checks, name)
}

// Names returns the registered check names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLiveness reports process liveness without touching dependencies.
func (c *Checker) CheckLiveness() Liveness {
	return Liveness{
		Status:     StatusOK,
		Uptime:     time.Since(c.started).Seconds(),
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}
}

// CheckReadiness runs all checks concurrently, each under its own timeout.
func (c *Checker) CheckReadiness(ctx context.Context) Readiness {
	c.mu.RLock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()

			result := c.runCheck(ctx, check.fn)
			result.Critical = check.critical

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			status = StatusNotReady
			break
		}
		status = StatusDegraded
	}

	return Readiness{Status: status, Checks: results, Timestamp: time.Now()}
}

// runCheck runs fn under the check timeout. A check that ignores its
// context is abandoned when the timeout fires.
func (c *Checker) runCheck(ctx context.Context, fn CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(checkCtx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-checkCtx.Done():
		err = checkCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrCheckTimeout
		}
	}

	result := CheckResult{
		Status:     StatusOK,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/limits/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeClock is a manually advanced clock shared by the limiter and its store.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
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

// failingStore simulates an unreachable counter store.
type failingStore struct{}

var errUnreachable = errors.New("dial tcp: connection refused")

func (failingStore) Get(context.Context, string) (int64, error) { return 0, errUnreachable }
func (failingStore) IncrWithExpire(context.Context, string, time.Duration) (int64, error) {
	return 0, errUnreachable
}
func (failingStore) Expire(context.Context, string, time.Duration) error { return errUnreachable }
func (failingStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, errUnreachable
}
func (failingStore) SetWithTTL(context.Context, string, int64, time.Duration) error {
	return errUnreachable
}
func (failingStore) Exists(context.Context, string) (bool, error)     { return false, errUnreachable }
func (failingStore) Delete(context.Context, ...string) (int64, error) { return 0, errUnreachable }
func (failingStore) Keys(context.Context, string) ([]string, error)   { return nil, errUnreachable }
func (failingStore) Ping(context.Context) error                       { return errUnreachable }
func (failingStore) Close() error                                     { return nil }

// windowStart is aligned to a minute so tests control boundary crossings.
var windowStart = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock(windowStart)
	store := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: clock.Now})
	t.Cleanup(func() { store.Close() })
	return New(store, Config{Clock: clock.Now}), clock
}

// ============================================================================
// IsAllowed / Consume
// ============================================================================

func TestLimiter_IsAllowedBoundary(t *testing.T) {
	tests := []struct {
		name          string
		consumed      int
		wantAllowed   bool
		wantRemaining int64
	}{
		{"empty window", 0, true, 4},
		{"one below limit", 4, true, 0},
		{"at limit", 5, false, 0},
		{"above limit", 6, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, _ := newTestLimiter(t)
			ctx := context.Background()
			opts := Options{MaxRequests: 5, Window: time.Minute}

			for i := 0; i < tt.consumed; i++ {
				if _, err := limiter.Consume(ctx, "user-1", opts); err != nil {
					t.Fatalf("Consume failed: %v", err)
				}
			}

			decision, err := limiter.IsAllowed(ctx, "user-1", opts)
			if err != nil {
				t.Fatalf("IsAllowed failed: %v", err)
			}
			if decision.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %v", tt.wantAllowed, decision.Allowed)
			}
			if decision.Remaining != tt.wantRemaining {
				t.Errorf("Expected remaining %d, got %d", tt.wantRemaining, decision.Remaining)
			}
			if decision.Limit != 5 {
				t.Errorf("Expected limit 5, got %d", decision.Limit)
			}
			if !tt.wantAllowed && decision.RetryAfter <= 0 {
				t.Errorf("Expected positive RetryAfter on denial, got %s", decision.RetryAfter)
			}
		})
	}
}

func TestLimiter_IsAllowedDoesNotIncrement(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 2, Window: time.Minute}

	for i := 0; i < 10; i++ {
		decision, err := limiter.IsAllowed(ctx, "user-1", opts)
		if err != nil {
			t.Fatalf("IsAllowed failed: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("Expected check %d to be allowed without consumption", i)
		}
	}

	status, err := limiter.Status(ctx, "user-1", opts)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.TotalHits != 0 {
		t.Errorf("Expected 0 hits, got %d", status.TotalHits)
	}
}

func TestLimiter_Consume(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 3, Window: time.Minute}

	for i := int64(1); i <= 4; i++ {
		usage, err := limiter.Consume(ctx, "user-1", opts)
		if err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
		if usage.TotalHits != i {
			t.Errorf("Expected %d hits, got %d", i, usage.TotalHits)
		}
		wantRemaining := 3 - i
		if wantRemaining < 0 {
			wantRemaining = 0
		}
		if usage.Remaining != wantRemaining {
			t.Errorf("Expected remaining %d, got %d", wantRemaining, usage.Remaining)
		}
		if !usage.ResetTime.Equal(windowStart.Add(time.Minute)) {
			t.Errorf("Expected reset at window end, got %s", usage.ResetTime)
		}
	}
}

func TestLimiter_ConcurrentConsumeNoLostUpdates(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	const n = 200
	opts := Options{MaxRequests: n, Window: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limiter.Consume(ctx, "shared", opts); err != nil {
				t.Errorf("Consume failed: %v", err)
			}
		}()
	}
	wg.Wait()

	status, err := limiter.Status(ctx, "shared", opts)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.TotalHits != n {
		t.Errorf("Expected exactly %d hits, got %d", n, status.TotalHits)
	}
}

func TestLimiter_WindowBoundary(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 2, Window: time.Minute}

	clock.Advance(time.Minute - time.Millisecond)
	for i := 0; i < 2; i++ {
		if _, err := limiter.Consume(ctx, "user-1", opts); err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
	}

	decision, _ := limiter.IsAllowed(ctx, "user-1", opts)
	if decision.Allowed {
		t.Error("Expected denial at the end of a full window")
	}

	// Crossing the boundary starts a fresh window.
	clock.Advance(2 * time.Millisecond)

	decision, _ = limiter.IsAllowed(ctx, "user-1", opts)
	if !decision.Allowed {
		t.Error("Expected new window to allow the request")
	}
	if decision.Remaining != 1 {
		t.Errorf("Expected remaining 1 in new window, got %d", decision.Remaining)
	}
}

func TestLimiter_InvalidOptions(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	tests := []struct {
		name string
		opts Options
	}{
		{"zero max", Options{MaxRequests: 0, Window: time.Minute}},
		{"zero window", Options{MaxRequests: 1}},
		{"negative block", Options{MaxRequests: 1, Window: time.Minute, BlockDuration: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := limiter.IsAllowed(ctx, "k", tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Expected ErrInvalidOptions from IsAllowed, got %v", err)
			}
			if _, err := limiter.Consume(ctx, "k", tt.opts); !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Expected ErrInvalidOptions from Consume, got %v", err)
			}
		})
	}
}

// ============================================================================
// Blocking
// ============================================================================

func TestLimiter_BlockExpiresWithoutReset(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 1, Window: time.Second, BlockDuration: 10 * time.Second}

	if _, err := limiter.Consume(ctx, "user-1", opts); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	decision, _ := limiter.IsAllowed(ctx, "user-1", opts)
	if decision.Allowed {
		t.Fatal("Expected denial once quota is spent")
	}
	if !decision.Blocked {
		t.Error("Expected denial to create a block entry")
	}
	if decision.RetryAfter != 10*time.Second {
		t.Errorf("Expected RetryAfter of block duration, got %s", decision.RetryAfter)
	}

	if !limiter.IsBlocked(ctx, "user-1") {
		t.Error("Expected key to be blocked")
	}

	clock.Advance(9 * time.Second)
	if !limiter.IsBlocked(ctx, "user-1") {
		t.Error("Expected key to stay blocked before the block duration elapses")
	}
	if ttl := limiter.BlockTTL(ctx, "user-1"); ttl <= 0 || ttl > time.Second {
		t.Errorf("Expected about 1s of block left, got %s", ttl)
	}

	clock.Advance(2 * time.Second)
	if limiter.IsBlocked(ctx, "user-1") {
		t.Error("Expected block to expire without explicit reset")
	}
}

func TestLimiter_NoBlockWithoutDuration(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 1, Window: time.Minute}

	_, _ = limiter.Consume(ctx, "user-1", opts)
	decision, _ := limiter.IsAllowed(ctx, "user-1", opts)
	if decision.Allowed || decision.Blocked {
		t.Errorf("Expected plain denial, got %+v", decision)
	}
	if limiter.IsBlocked(ctx, "user-1") {
		t.Error("Expected no block entry without block duration")
	}
}

// ============================================================================
// Reset / Status
// ============================================================================

func TestLimiter_Reset(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 2, Window: time.Minute, BlockDuration: time.Hour}

	for i := 0; i < 2; i++ {
		_, _ = limiter.Consume(ctx, "user-1", opts)
	}
	_, _ = limiter.IsAllowed(ctx, "user-1", opts)
	clock.Advance(time.Second)
	_, _ = limiter.Consume(ctx, "user-2", opts)

	if err := limiter.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	status, err := limiter.Status(ctx, "user-1", opts)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State != StateUnrestricted || status.TotalHits != 0 || status.Blocked {
		t.Errorf("Expected clean state after reset, got %+v", status)
	}

	other, _ := limiter.Status(ctx, "user-2", opts)
	if other.TotalHits != 1 {
		t.Errorf("Expected reset to leave other keys alone, got %d hits", other.TotalHits)
	}
}

func TestLimiter_ResetKeyWithGlobCharacters(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 5, Window: time.Minute}

	_, _ = limiter.Consume(ctx, "[::1]", opts)
	_, _ = limiter.Consume(ctx, "::1", opts)

	if err := limiter.Reset(ctx, "[::1]"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if status, _ := limiter.Status(ctx, "[::1]", opts); status.TotalHits != 0 {
		t.Errorf("Expected [::1] to be reset, got %d hits", status.TotalHits)
	}
	if status, _ := limiter.Status(ctx, "::1", opts); status.TotalHits != 1 {
		t.Errorf("Expected ::1 untouched, got %d hits", status.TotalHits)
	}
}

func TestLimiter_ResetLeavesLongerKeysAlone(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 5, Window: time.Minute}

	for _, key := range []string{"user:alice", "user:alice:2", "ip:2001:db8::1", "ip:2001:db8::1:5"} {
		if _, err := limiter.Consume(ctx, key, opts); err != nil {
			t.Fatalf("Consume(%s) failed: %v", key, err)
		}
	}

	tests := []struct {
		reset     string
		untouched string
	}{
		{"user:alice", "user:alice:2"},
		{"ip:2001:db8::1", "ip:2001:db8::1:5"},
	}

	for _, tt := range tests {
		t.Run(tt.reset, func(t *testing.T) {
			if err := limiter.Reset(ctx, tt.reset); err != nil {
				t.Fatalf("Reset failed: %v", err)
			}
			if status, _ := limiter.Status(ctx, tt.reset, opts); status.TotalHits != 0 {
				t.Errorf("Expected %s to be reset, got %d hits", tt.reset, status.TotalHits)
			}
			if status, _ := limiter.Status(ctx, tt.untouched, opts); status.TotalHits != 1 {
				t.Errorf("Expected %s untouched, got %d hits", tt.untouched, status.TotalHits)
			}
		})
	}
}

func TestLimiter_IsWindowOf(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	p := limiter.prefix

	tests := []struct {
		storeKey string
		want     bool
	}{
		{p + ":user:alice:29012345", true},
		{p + ":user:alice:2:29012345", false},
		{p + ":user:alice:", false},
		{p + ":block:user:alice", false},
		{p + ":user:bob:29012345", false},
	}

	for _, tt := range tests {
		t.Run(tt.storeKey, func(t *testing.T) {
			if got := limiter.isWindowOf(tt.storeKey, "user:alice"); got != tt.want {
				t.Errorf("isWindowOf(%q) = %v, want %v", tt.storeKey, got, tt.want)
			}
		})
	}
}

func TestLimiter_StatusStates(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	opts := Options{MaxRequests: 2, Window: time.Minute, BlockDuration: time.Minute}

	expectState := func(want State) {
		t.Helper()
		status, err := limiter.Status(ctx, "user-1", opts)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if status.State != want {
			t.Errorf("Expected state %s, got %s", want, status.State)
		}
		if status.Limit != 2 || status.WindowMs != 60000 {
			t.Errorf("Unexpected limit/window in status: %+v", status)
		}
	}

	expectState(StateUnrestricted)
	_, _ = limiter.Consume(ctx, "user-1", opts)
	expectState(StateWithinLimit)
	_, _ = limiter.Consume(ctx, "user-1", opts)
	expectState(StateAtLimit)
	_, _ = limiter.IsAllowed(ctx, "user-1", opts)
	expectState(StateBlocked)
}

// ============================================================================
// Fail-open
// ============================================================================

func TestLimiter_FailOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	limiter := New(failingStore{}, Config{Metrics: metrics})
	ctx := context.Background()
	opts := Options{MaxRequests: 3, Window: time.Minute, BlockDuration: time.Minute}

	for i := 0; i < 10; i++ {
		decision, err := limiter.IsAllowed(ctx, "user-1", opts)
		if err != nil {
			t.Fatalf("IsAllowed returned error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("Expected fail-open admission on call %d", i)
		}
		if decision.Remaining != 3 {
			t.Errorf("Expected remaining=max on fail-open, got %d", decision.Remaining)
		}
		if !decision.FailOpen {
			t.Error("Expected FailOpen flag")
		}
	}

	if limiter.IsBlocked(ctx, "user-1") {
		t.Error("Expected IsBlocked to fail open")
	}

	status, err := limiter.Status(ctx, "user-1", opts)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.State != StateUnrestricted {
		t.Errorf("Expected unrestricted status on store failure, got %s", status.State)
	}

	if got := testutil.ToFloat64(metrics.checks.WithLabelValues(resultFailOpen)); got != 10 {
		t.Errorf("Expected 10 fail-open checks, got %v", got)
	}
}

func TestLimiter_ConsumePropagatesStoreError(t *testing.T) {
	limiter := New(failingStore{}, Config{})

	_, err := limiter.Consume(context.Background(), "user-1", Options{MaxRequests: 1, Window: time.Minute})
	if err == nil {
		t.Fatal("Expected Consume to propagate store failure")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, errUnreachable) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
}

func TestLimiter_ResetPropagatesStoreError(t *testing.T) {
	limiter := New(failingStore{}, Config{})
	if err := limiter.Reset(context.Background(), "user-1"); err == nil {
		t.Error("Expected Reset to return store error")
	}
}

// ============================================================================
// Metrics
// ============================================================================

func TestLimiter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	clock := newFakeClock(windowStart)
	store := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: clock.Now})
	defer store.Close()
	limiter := New(store, Config{Clock: clock.Now, Metrics: metrics})

	ctx := context.Background()
	opts := Options{MaxRequests: 1, Window: time.Minute, BlockDuration: time.Minute}

	_, _ = limiter.IsAllowed(ctx, "user-1", opts)
	_, _ = limiter.Consume(ctx, "user-1", opts)
	_, _ = limiter.IsAllowed(ctx, "user-1", opts)

	if got := testutil.ToFloat64(metrics.checks.WithLabelValues(resultAllowed)); got != 1 {
		t.Errorf("Expected 1 allowed check, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.checks.WithLabelValues(resultDenied)); got != 1 {
		t.Errorf("Expected 1 denied check, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.consumed); got != 1 {
		t.Errorf("Expected 1 consumed unit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.blocks); got != 1 {
		t.Errorf("Expected 1 block, got %v", got)
	}
}

func TestWindowBounds(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		window    time.Duration
		wantIndex int64
	}{
		{"start of window", time.UnixMilli(60000), time.Minute, 1},
		{"end of window", time.UnixMilli(119999), time.Minute, 1},
		{"next window", time.UnixMilli(120000), time.Minute, 2},
		{"sub-second window", time.UnixMilli(1250), 500 * time.Millisecond, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, reset := windowBounds(tt.now, tt.window)
			if index != tt.wantIndex {
				t.Errorf("Expected index %d, got %d", tt.wantIndex, index)
			}
			wantReset := time.UnixMilli((tt.wantIndex + 1) * tt.window.Milliseconds())
			if !reset.Equal(wantReset) {
				t.Errorf("Expected reset %s, got %s", wantReset, reset)
			}
		})
	}
}

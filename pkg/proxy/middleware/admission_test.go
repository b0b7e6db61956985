package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestLimiter returns a limiter over an in-memory store whose window index
// stays fixed for the duration of the test.
func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now()
	return ratelimit.New(store, ratelimit.Config{
		Clock:  func() time.Time { return now },
		Logger: discardLogger(),
	})
}

type countingHandler struct {
	calls  atomic.Int32
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls.Add(1)
	status := h.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

// doRequest sends a request as user, attached the way an authentication
// middleware would attach it.
func doRequest(h http.Handler, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req = req.WithContext(WithIdentity(req.Context(), user))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// stubLimiter admits everything and fails every Consume.
type stubLimiter struct {
	consumeErr error
}

func (stubLimiter) IsBlocked(context.Context, string) bool         { return false }
func (stubLimiter) BlockTTL(context.Context, string) time.Duration { return 0 }
func (s stubLimiter) Consume(context.Context, string, ratelimit.Options) (*ratelimit.Usage, error) {
	return nil, s.consumeErr
}
func (stubLimiter) IsAllowed(_ context.Context, _ string, opts ratelimit.Options) (*ratelimit.Decision, error) {
	return &ratelimit.Decision{Allowed: true, Limit: opts.MaxRequests, Remaining: opts.MaxRequests - 1}, nil
}

// ============================================================================
// Admission flow
// ============================================================================

func TestAdmission_QuotaExceeded(t *testing.T) {
	next := &countingHandler{}
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default:         ratelimit.Options{MaxRequests: 2, Window: time.Minute},
		StandardHeaders: true,
		LegacyHeaders:   true,
		Logger:          discardLogger(),
	})(next)

	for i, wantRemaining := range []string{"1", "0"} {
		w := doRequest(handler, "/api/orders", "alice")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, w.Code)
		}
		if got := w.Header().Get("RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: expected RateLimit-Remaining %s, got %q", i+1, wantRemaining, got)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("request %d: expected X-RateLimit-Limit 2, got %q", i+1, got)
		}
	}

	w := doRequest(handler, "/api/orders", "alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}
	if next.calls.Load() != 2 {
		t.Errorf("Expected handler to run twice, got %d", next.calls.Load())
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Expected positive Retry-After, got %q", w.Header().Get("Retry-After"))
	}

	var body ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Error.Type != ErrorTypeRateLimit {
		t.Errorf("Expected type %q, got %q", ErrorTypeRateLimit, body.Error.Type)
	}
	if body.Error.RetryAfter != int64(retryAfter) {
		t.Errorf("Expected retry_after %d, got %d", retryAfter, body.Error.RetryAfter)
	}

	// Other callers are unaffected.
	if w := doRequest(handler, "/api/orders", "bob"); w.Code != http.StatusOK {
		t.Errorf("Expected bob to be admitted, got %d", w.Code)
	}
}

func TestAdmission_BlockedKey(t *testing.T) {
	var denied []string
	next := &countingHandler{}
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 1, Window: time.Minute, BlockDuration: 10 * time.Minute},
		OnDenied: func(_ *http.Request, key string, d *ratelimit.Decision) {
			denied = append(denied, key)
		},
		StandardHeaders: true,
		LegacyHeaders:   true,
		Logger:          discardLogger(),
	})(next)

	doRequest(handler, "/", "mallory")
	if w := doRequest(handler, "/", "mallory"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}

	w := doRequest(handler, "/", "mallory")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected blocked request to get 429, got %d", w.Code)
	}
	retryAfter, _ := strconv.Atoi(w.Header().Get("Retry-After"))
	if retryAfter < 590 || retryAfter > 600 {
		t.Errorf("Expected Retry-After near block duration, got %d", retryAfter)
	}
	if got := w.Header().Get("RateLimit-Limit"); got != "1" {
		t.Errorf("Expected RateLimit-Limit 1 on blocked request, got %q", got)
	}
	if got := w.Header().Get("RateLimit-Remaining"); got != "0" {
		t.Errorf("Expected RateLimit-Remaining 0 on blocked request, got %q", got)
	}
	if reset, _ := strconv.Atoi(w.Header().Get("RateLimit-Reset")); reset < 590 || reset > 600 {
		t.Errorf("Expected RateLimit-Reset near block duration, got %q", w.Header().Get("RateLimit-Reset"))
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("Expected X-RateLimit-Remaining 0 on blocked request, got %q", got)
	}
	if len(denied) != 2 || denied[0] != "user:mallory" {
		t.Errorf("Expected two denials for user:mallory, got %v", denied)
	}
	if next.calls.Load() != 1 {
		t.Errorf("Expected handler to run once, got %d", next.calls.Load())
	}
}

func TestAdmission_HeadersDisabled(t *testing.T) {
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 5, Window: time.Minute},
		Logger:  discardLogger(),
	})(&countingHandler{})

	w := doRequest(handler, "/", "alice")
	for _, h := range []string{"RateLimit-Limit", "X-RateLimit-Limit"} {
		if w.Header().Get(h) != "" {
			t.Errorf("Expected no %s header, got %q", h, w.Header().Get(h))
		}
	}
}

func TestAdmission_OptionsBypass(t *testing.T) {
	next := &countingHandler{}
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 1, Window: time.Minute},
		Logger:  discardLogger(),
	})(next)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Expected preflight to pass, got %d", w.Code)
		}
	}
	if w := doRequest(handler, "/", ""); w.Code != http.StatusOK {
		t.Errorf("Expected quota untouched by preflight, got %d", w.Code)
	}
}

func TestAdmission_RouteQuotas(t *testing.T) {
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 100, Window: time.Minute},
		Routes: []RouteQuota{
			{PathPrefix: "/api", Options: ratelimit.Options{MaxRequests: 10, Window: time.Minute}},
			{PathPrefix: "/api/login", Options: ratelimit.Options{MaxRequests: 1, Window: time.Minute}},
		},
		StandardHeaders: true,
		Logger:          discardLogger(),
	})(&countingHandler{})

	tests := []struct {
		path      string
		wantLimit string
	}{
		{"/health", "100"},
		{"/api/orders", "10"},
		{"/api/login", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doRequest(handler, tt.path, "carol-"+tt.path)
			if got := w.Header().Get("RateLimit-Limit"); got != tt.wantLimit {
				t.Errorf("Expected limit %s, got %q", tt.wantLimit, got)
			}
		})
	}
}

func TestAdmission_SkipFailedRequests(t *testing.T) {
	next := &countingHandler{status: http.StatusBadRequest}
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 1, Window: time.Minute, SkipFailedRequests: true},
		Logger:  discardLogger(),
	})(next)

	for i := 0; i < 3; i++ {
		if w := doRequest(handler, "/", "dave"); w.Code != http.StatusBadRequest {
			t.Fatalf("request %d: expected handler status 400, got %d", i+1, w.Code)
		}
	}

	next.status = http.StatusOK
	doRequest(handler, "/", "dave")
	if w := doRequest(handler, "/", "dave"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected successful request to be counted, got %d", w.Code)
	}
}

func TestAdmission_SkipSuccessfulRequests(t *testing.T) {
	next := &countingHandler{}
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 1, Window: time.Minute, SkipSuccessfulRequests: true},
		Logger:  discardLogger(),
	})(next)

	for i := 0; i < 3; i++ {
		if w := doRequest(handler, "/", "erin"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	next.status = http.StatusUnauthorized
	doRequest(handler, "/", "erin")
	if w := doRequest(handler, "/", "erin"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected failed request to be counted, got %d", w.Code)
	}
}

// ============================================================================
// Failure handling
// ============================================================================

type downStore struct{ storage.Store }

var errDown = errors.New("connection refused")

func (downStore) Get(context.Context, string) (int64, error) { return 0, errDown }
func (downStore) Exists(context.Context, string) (bool, error) {
	return false, errDown
}

func TestAdmission_FailOpen(t *testing.T) {
	limiter := ratelimit.New(downStore{}, ratelimit.Config{Logger: discardLogger()})
	next := &countingHandler{}
	handler := AdmissionMiddleware(limiter, AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 1, Window: time.Minute},
		Logger:  discardLogger(),
	})(next)

	for i := 0; i < 3; i++ {
		if w := doRequest(handler, "/", "frank"); w.Code != http.StatusOK {
			t.Errorf("request %d: expected fail-open 200, got %d", i+1, w.Code)
		}
	}
	if next.calls.Load() != 3 {
		t.Errorf("Expected handler to run 3 times, got %d", next.calls.Load())
	}
}

func TestAdmission_ConsumeFailure(t *testing.T) {
	next := &countingHandler{}
	handler := AdmissionMiddleware(stubLimiter{consumeErr: ratelimit.ErrStoreUnavailable}, AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 10, Window: time.Minute},
		Logger:  discardLogger(),
	})(next)

	w := doRequest(handler, "/", "grace")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if next.calls.Load() != 0 {
		t.Error("Expected handler not to run after consume failure")
	}
}

func TestAdmission_InvalidOptions(t *testing.T) {
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 0, Window: time.Minute},
		Logger:  discardLogger(),
	})(&countingHandler{})

	if w := doRequest(handler, "/", "heidi"); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

// ============================================================================
// Configuration
// ============================================================================

func TestAdmission_Update(t *testing.T) {
	admission := NewAdmission(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 1, Window: time.Minute},
		Logger:  discardLogger(),
	})
	handler := admission.Middleware(&countingHandler{})

	doRequest(handler, "/", "ivan")
	if w := doRequest(handler, "/", "ivan"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}

	admission.Update(AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 5, Window: time.Minute},
		Logger:  discardLogger(),
	})
	if w := doRequest(handler, "/", "ivan"); w.Code != http.StatusOK {
		t.Errorf("Expected raised quota to admit, got %d", w.Code)
	}
}

func TestAdmissionConfigFrom(t *testing.T) {
	cfg := config.RateLimitConfig{
		Default: config.QuotaConfig{MaxRequests: 100, Window: time.Minute, BlockDuration: time.Hour},
		Routes: []config.RouteQuotaConfig{
			{PathPrefix: "/api/login", Quota: config.QuotaConfig{MaxRequests: 5}},
		},
		KeyStrategy:     KeyStrategyIP,
		StandardHeaders: true,
	}

	ac := AdmissionConfigFrom(cfg)
	if ac.Default.MaxRequests != 100 || ac.Default.BlockDuration != time.Hour {
		t.Errorf("Unexpected default options: %+v", ac.Default)
	}
	if len(ac.Routes) != 1 {
		t.Fatalf("Expected 1 route, got %d", len(ac.Routes))
	}
	route := ac.Routes[0].Options
	if route.MaxRequests != 5 || route.Window != time.Minute || route.BlockDuration != time.Hour {
		t.Errorf("Expected route to inherit window and block, got %+v", route)
	}
	if !ac.StandardHeaders || ac.LegacyHeaders {
		t.Errorf("Unexpected header flags: standard=%v legacy=%v", ac.StandardHeaders, ac.LegacyHeaders)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "alice")
	req.RemoteAddr = "10.0.0.1:1234"
	if key := ac.KeyFunc(req); key != "ip:10.0.0.1" {
		t.Errorf("Expected ip strategy, got %q", key)
	}
}

func TestAdmission_RotatingCredentialsShareIPQuota(t *testing.T) {
	cfg := config.Defaults().RateLimit
	cfg.Default.MaxRequests = 2
	cfg.Default.Window = time.Minute

	next := &countingHandler{}
	handler := AdmissionMiddleware(newTestLimiter(t), AdmissionConfigFrom(cfg))(next)

	admitted := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:40000"
		req.Header.Set("Authorization", "Bearer rotated-"+strconv.Itoa(i))
		req.Header.Set("X-User-ID", "spoofed-"+strconv.Itoa(i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			admitted++
		}
	}

	if admitted != 2 {
		t.Errorf("Expected 2 admitted requests from one address, got %d", admitted)
	}
}

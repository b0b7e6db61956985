package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
)

// Limiter is the subset of *ratelimit.Limiter used by the admission filter.
type Limiter interface {
	IsBlocked(ctx context.Context, key string) bool
	BlockTTL(ctx context.Context, key string) time.Duration
	IsAllowed(ctx context.Context, key string, opts ratelimit.Options) (*ratelimit.Decision, error)
	Consume(ctx context.Context, key string, opts ratelimit.Options) (*ratelimit.Usage, error)
}

// RouteQuota applies Options to requests whose path starts with PathPrefix.
type RouteQuota struct {
	PathPrefix string
	Options    ratelimit.Options
}

// DeniedFunc is called after a request is rejected with 429.
type DeniedFunc func(r *http.Request, key string, decision *ratelimit.Decision)

// AdmissionConfig configures the admission filter.
type AdmissionConfig struct {
	// Default applies to paths without a matching route quota.
	Default ratelimit.Options

	// Routes are matched by longest path prefix.
	Routes []RouteQuota

	// KeyFunc resolves the rate limit key. Default: IdentityKeyFunc("X-User-ID", false, false)
	KeyFunc KeyFunc

	// StandardHeaders emits RateLimit-Limit, RateLimit-Remaining and
	// RateLimit-Reset (seconds until the window resets).
	StandardHeaders bool

	// LegacyHeaders emits X-RateLimit-Limit, X-RateLimit-Remaining and
	// X-RateLimit-Reset (unix seconds of the window reset).
	LegacyHeaders bool

	// OnDenied is optional.
	OnDenied DeniedFunc

	Logger *slog.Logger
}

// AdmissionConfigFrom maps the ratelimit section of the configuration file.
// Route quota fields left at zero inherit the default quota.
func AdmissionConfigFrom(cfg config.RateLimitConfig) AdmissionConfig {
	def := optionsFrom(cfg.Default)

	routes := make([]RouteQuota, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		opts := optionsFrom(rc.Quota)
		if opts.MaxRequests == 0 {
			opts.MaxRequests = def.MaxRequests
		}
		if opts.Window == 0 {
			opts.Window = def.Window
		}
		if opts.BlockDuration == 0 {
			opts.BlockDuration = def.BlockDuration
		}
		routes = append(routes, RouteQuota{PathPrefix: rc.PathPrefix, Options: opts})
	}

	return AdmissionConfig{
		Default:         def,
		Routes:          routes,
		KeyFunc:         KeyFuncFrom(cfg),
		StandardHeaders: cfg.StandardHeaders,
		LegacyHeaders:   cfg.LegacyHeaders,
	}
}

func optionsFrom(q config.QuotaConfig) ratelimit.Options {
	return ratelimit.Options{
		MaxRequests:            q.MaxRequests,
		Window:                 q.Window,
		BlockDuration:          q.BlockDuration,
		SkipSuccessfulRequests: q.SkipSuccessfulRequests,
		SkipFailedRequests:     q.SkipFailedRequests,
	}
}

// Admission is the rate limiting filter. Its configuration can be replaced
// at runtime with Update.
type Admission struct {
	limiter Limiter
	cfg     atomic.Pointer[AdmissionConfig]
}

// NewAdmission creates an admission filter backed by limiter.
func NewAdmission(limiter Limiter, cfg AdmissionConfig) *Admission {
	a := &Admission{limiter: limiter}
	a.Update(cfg)
	return a
}

// Update swaps the configuration used by subsequent requests.
func (a *Admission) Update(cfg AdmissionConfig) {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IdentityKeyFunc("", false, false)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Longest prefix first.
	routes := make([]RouteQuota, len(cfg.Routes))
	copy(routes, cfg.Routes)
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].PathPrefix) > len(routes[j].PathPrefix)
	})
	cfg.Routes = routes

	a.cfg.Store(&cfg)
}

// Config returns the active configuration.
func (a *Admission) Config() AdmissionConfig {
	return *a.cfg.Load()
}

// OptionsFor returns the quota applied to requests for path.
func (a *Admission) OptionsFor(path string) ratelimit.Options {
	return a.cfg.Load().optionsFor(path)
}

// AdmissionMiddleware wraps handlers with the admission filter.
//
// Example usage:
//
//	handler = AdmissionMiddleware(limiter, cfg)(handler)
func AdmissionMiddleware(limiter Limiter, cfg AdmissionConfig) func(http.Handler) http.Handler {
	return NewAdmission(limiter, cfg).Middleware
}

// Middleware admits or rejects requests before they reach next.
//
// Blocked keys and keys over quota receive 429 with a Retry-After header.
// Admitted requests consume one unit of quota before the handler runs, unless
// the quota skips successful or failed requests, in which case consumption
// waits for the response status. A counter store failure while consuming is
// a hard failure and answered with 500.
func (a *Admission) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight never counts against a quota.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		cfg := a.cfg.Load()
		ctx := r.Context()
		key := cfg.KeyFunc(r)
		ctx = withRateLimitKey(ctx, key)
		r = r.WithContext(ctx)
		opts := cfg.optionsFor(r.URL.Path)

		if a.limiter.IsBlocked(ctx, key) {
			retryAfter := a.limiter.BlockTTL(ctx, key)
			cfg.Logger.WarnContext(ctx, "request rejected: key blocked",
				"key", key,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)
			decision := &ratelimit.Decision{
				Limit:      opts.MaxRequests,
				ResetTime:  time.Now().Add(retryAfter),
				RetryAfter: retryAfter,
				Blocked:    true,
			}
			cfg.setHeaders(w.Header(), decision.Limit, 0, decision.ResetTime)
			cfg.denied(w, r, key, decision, "Too many requests. This client is temporarily blocked.")
			return
		}

		decision, err := a.limiter.IsAllowed(ctx, key, opts)
		if err != nil {
			cfg.Logger.ErrorContext(ctx, "rate limit check failed", "key", key, "error", err)
			ReportError(ctx, err)
			writeError(w, http.StatusInternalServerError, ErrorDetail{
				Message:   "Rate limit check failed.",
				Type:      ErrorTypeServer,
				RequestID: GetRequestID(ctx),
			})
			return
		}

		cfg.setHeaders(w.Header(), decision.Limit, decision.Remaining, decision.ResetTime)

		if !decision.Allowed {
			cfg.Logger.WarnContext(ctx, "request rejected: quota exceeded",
				"key", key,
				"path", r.URL.Path,
				"limit", decision.Limit,
				"blocked", decision.Blocked,
			)
			cfg.denied(w, r, key, decision, "Too many requests. Please try again later.")
			return
		}

		// The store already failed once for this request; admit uncounted.
		if decision.FailOpen {
			next.ServeHTTP(w, r)
			return
		}

		if opts.SkipSuccessfulRequests || opts.SkipFailedRequests {
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)
			a.consumeAfter(ctx, cfg, key, opts, rw.statusCode)
			return
		}

		usage, err := a.limiter.Consume(ctx, key, opts)
		if err != nil {
			cfg.Logger.ErrorContext(ctx, "failed to consume quota", "key", key, "error", err)
			ReportError(ctx, err)
			writeError(w, http.StatusInternalServerError, ErrorDetail{
				Message:   "Rate limit accounting failed.",
				Type:      ErrorTypeServer,
				RequestID: GetRequestID(ctx),
			})
			return
		}
		cfg.setHeaders(w.Header(), decision.Limit, usage.Remaining, usage.ResetTime)

		next.ServeHTTP(w, r)
	})
}

// consumeAfter charges a request once its status is known. The response has
// already been sent, so failures are only logged.
func (a *Admission) consumeAfter(ctx context.Context, cfg *AdmissionConfig, key string, opts ratelimit.Options, status int) {
	if opts.SkipSuccessfulRequests && status < 400 {
		return
	}
	if opts.SkipFailedRequests && status >= 400 {
		return
	}
	if _, err := a.limiter.Consume(context.WithoutCancel(ctx), key, opts); err != nil {
		cfg.Logger.ErrorContext(ctx, "failed to consume quota after response",
			"key", key,
			"status", status,
			"error", err,
		)
	}
}

func (c *AdmissionConfig) optionsFor(path string) ratelimit.Options {
	for _, route := range c.Routes {
		if strings.HasPrefix(path, route.PathPrefix) {
			return route.Options
		}
	}
	return c.Default
}

func (c *AdmissionConfig) setHeaders(h http.Header, limit, remaining int64, reset time.Time) {
	if remaining < 0 {
		remaining = 0
	}
	if c.StandardHeaders {
		h.Set("RateLimit-Limit", strconv.FormatInt(limit, 10))
		h.Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		h.Set("RateLimit-Reset", strconv.FormatInt(ceilSeconds(time.Until(reset)), 10))
	}
	if c.LegacyHeaders {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(int64(math.Ceil(float64(reset.UnixMilli())/1000)), 10))
	}
}

func (c *AdmissionConfig) denied(w http.ResponseWriter, r *http.Request, key string, decision *ratelimit.Decision, message string) {
	retryAfter := ceilSeconds(decision.RetryAfter)
	if retryAfter < 1 {
		retryAfter = 1
	}

	if c.OnDenied != nil {
		c.OnDenied(r, key, decision)
	}

	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	writeError(w, http.StatusTooManyRequests, ErrorDetail{
		Message:    message,
		Type:       ErrorTypeRateLimit,
		RetryAfter: retryAfter,
		RequestID:  GetRequestID(r.Context()),
	})
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

package errortrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/notify"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// Metric names written to the metrics registry.
const (
	MetricErrors            = "errors_total"
	MetricOperationDuration = "operation_duration_ms"
	MetricSlowOperations    = "slow_operations_total"
	MetricAlerts            = "alerts_total"
)

// Context describes where an error happened. All fields are optional.
type Context struct {
	Operation  string         `json:"operation,omitempty"`
	Route      string         `json:"route,omitempty"`
	Method     string         `json:"method,omitempty"`
	StatusCode int            `json:"statusCode,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// ErrorInfo is the result of capturing an error.
type ErrorInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Category   string    `json:"category"`
	Severity   string    `json:"severity"`
	UserImpact string    `json:"userImpact"`
	StatusCode int       `json:"statusCode,omitempty"`
	Count      int64     `json:"count"`
	Context    Context   `json:"context"`
	Timestamp  time.Time `json:"timestamp"`
	Ignored    bool      `json:"ignored"`
}

type errorRecord struct {
	name    string
	message string
	count   int64
}

// Config configures a Tracker.
type Config struct {
	Thresholds             config.AlertThresholdsConfig
	MaxSamplesPerOperation int
	SampleRetention        time.Duration
	MaxErrorKeys           int
	KeepErrorKeys          int
	IgnoreMessages         []string

	// AlertCooldown suppresses repeats of the same alert. Default: 1m
	AlertCooldown time.Duration

	// QueueSize bounds events waiting to be forwarded. Default: 256
	QueueSize int
}

// ConfigFrom maps the errors section of the configuration file.
func ConfigFrom(cfg config.ErrorsConfig) Config {
	return Config{
		Thresholds:             cfg.Alerts,
		MaxSamplesPerOperation: cfg.MaxSamplesPerOperation,
		SampleRetention:        cfg.SampleRetention,
		MaxErrorKeys:           cfg.MaxErrorKeys,
		KeepErrorKeys:          cfg.KeepErrorKeys,
		IgnoreMessages:         cfg.IgnoreMessages,
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSink forwards captured errors and alerts to sink.
func WithSink(sink notify.Sink) Option {
	return func(t *Tracker) { t.sink = sink }
}

// WithRegistry mirrors errors and timings into a metrics registry and
// reads the memory usage gauge from it.
func WithRegistry(r *metrics.Registry) Option {
	return func(t *Tracker) { t.registry = r }
}

// WithRedactor scrubs messages before they leave the process.
func WithRedactor(r *logging.Redactor) Option {
	return func(t *Tracker) { t.redactor = r }
}

// WithLogger sets the tracker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker captures errors and operation timings, keeps rolling statistics
// and raises alerts when thresholds are crossed. All methods are safe for
// concurrent use.
type Tracker struct {
	cfg    Config
	ignore []string

	mu          sync.RWMutex
	errors      map[string]*errorRecord
	samples     map[string][]PerformanceRecord
	thresholds  config.AlertThresholdsConfig
	lastAlerted map[string]time.Time

	totalErrors     atomic.Int64
	totalOperations atomic.Int64
	dropped         atomic.Int64

	sink     notify.Sink
	registry *metrics.Registry
	redactor *logging.Redactor
	logger   *slog.Logger
	now      func() time.Time
	started  time.Time

	queue     chan notify.Event
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Tracker and starts its forwarding worker. Close stops it.
func New(cfg Config, opts ...Option) *Tracker {
	if cfg.MaxSamplesPerOperation <= 0 {
		cfg.MaxSamplesPerOperation = 1000
	}
	if cfg.SampleRetention <= 0 {
		cfg.SampleRetention = time.Hour
	}
	if cfg.MaxErrorKeys <= 0 {
		cfg.MaxErrorKeys = 1000
	}
	if cfg.KeepErrorKeys <= 0 || cfg.KeepErrorKeys > cfg.MaxErrorKeys {
		cfg.KeepErrorKeys = cfg.MaxErrorKeys / 2
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	t := &Tracker{
		cfg:         cfg,
		errors:      make(map[string]*errorRecord),
		samples:     make(map[string][]PerformanceRecord),
		thresholds:  cfg.Thresholds,
		lastAlerted: make(map[string]time.Time),
		now:         time.Now,
		queue:       make(chan notify.Event, cfg.QueueSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "error_tracker")
	if t.sink == nil {
		t.sink = notify.NopSink{}
	}

	t.ignore = append([]string{}, defaultIgnoreMessages...)
	for _, m := range cfg.IgnoreMessages {
		t.ignore = append(t.ignore, strings.ToLower(m))
	}
	t.started = t.now()

	go t.forwardLoop()
	return t
}

// SetThresholds replaces the alert thresholds, typically after a
// configuration reload.
func (t *Tracker) SetThresholds(th config.AlertThresholdsConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thresholds = th
}

// Thresholds returns the current alert thresholds.
func (t *Tracker) Thresholds() config.AlertThresholdsConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thresholds
}

// CaptureError categorizes err, counts it, forwards it unless it is noise
// and evaluates the alert thresholds. It never panics; an internal failure
// is logged and a partial ErrorInfo is returned.
func (t *Tracker) CaptureError(ctx context.Context, err error, ec Context) (info *ErrorInfo) {
	if err == nil {
		return nil
	}

	info = &ErrorInfo{
		ID:         uuid.NewString(),
		Category:   CategoryUnknown,
		Severity:   SeverityLow,
		UserImpact: ImpactLow,
		Context:    ec,
		Timestamp:  t.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("error capture failed", "panic", r, "error_id", info.ID)
		}
	}()

	info.Message = err.Error()
	s := newSignal(err, ec.StatusCode)
	info.Name = errorName(err)
	info.StatusCode = s.status
	info.Category = categorize(s)
	info.Severity = severity(s, info.Category)
	info.UserImpact = userImpact(info.Category, info.Severity)
	info.Ignored = shouldIgnore(err, s.status, t.ignore)

	key := info.Name + ":" + info.Message
	t.mu.Lock()
	rec, ok := t.errors[key]
	if !ok {
		rec = &errorRecord{name: info.Name, message: info.Message}
		t.errors[key] = rec
	}
	rec.count++
	info.Count = rec.count
	t.mu.Unlock()
	t.totalErrors.Add(1)

	if t.registry != nil {
		t.registry.IncrementCounter(MetricErrors, 1, metrics.Labels{
			"category": info.Category,
			"severity": info.Severity,
		})
	}

	t.logger.LogAttrs(ctx, logLevel(info.Severity), "error captured",
		slog.String("error_id", info.ID),
		slog.String("error", info.Message),
		slog.String("category", info.Category),
		slog.String("severity", info.Severity),
		slog.String("user_impact", info.UserImpact),
		slog.String("operation", ec.Operation),
		slog.Int("status", info.StatusCode),
	)

	if !info.Ignored {
		t.enqueue(t.errorEvent(info))
	}
	t.CheckAlertThresholds(info)

	return info
}

// ShouldIgnore reports whether err is noise that is counted but not
// forwarded: a 4xx status other than 401 and 403, a cancelled request or a
// message on the ignore list.
func (t *Tracker) ShouldIgnore(err error) bool {
	return shouldIgnore(err, 0, t.ignore)
}

// ErrorCount is one row of the error table.
type ErrorCount struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// MemoryUsage is the Go runtime's view of process memory.
type MemoryUsage struct {
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapSys   uint64 `json:"heapSys"`
	Sys       uint64 `json:"sys"`
}

// ErrorStats summarizes captured errors.
type ErrorStats struct {
	TotalErrors  int64        `json:"totalErrors"`
	UniqueErrors int          `json:"uniqueErrors"`
	TopErrors    []ErrorCount `json:"topErrors"`
	MemoryUsage  MemoryUsage  `json:"memoryUsage"`
	Uptime       float64      `json:"uptime"`
}

// ErrorStats returns lifetime totals and the ten most frequent errors.
func (t *Tracker) ErrorStats() ErrorStats {
	t.mu.RLock()
	rows := make([]ErrorCount, 0, len(t.errors))
	for _, rec := range t.errors {
		rows = append(rows, ErrorCount{Name: rec.name, Message: rec.message, Count: rec.count})
	}
	t.mu.RUnlock()

	sortErrorCounts(rows)
	unique := len(rows)
	if len(rows) > 10 {
		rows = rows[:10]
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return ErrorStats{
		TotalErrors:  t.totalErrors.Load(),
		UniqueErrors: unique,
		TopErrors:    rows,
		MemoryUsage:  MemoryUsage{HeapAlloc: ms.HeapAlloc, HeapSys: ms.HeapSys, Sys: ms.Sys},
		Uptime:       t.now().Sub(t.started).Seconds(),
	}
}

// CleanupStats reports what Cleanup removed.
type CleanupStats struct {
	Samples   int
	ErrorKeys int
}

// Cleanup drops performance samples older than the retention window and,
// once the error table exceeds its ceiling, keeps only the most frequent
// entries.
func (t *Tracker) Cleanup(now time.Time) CleanupStats {
	cutoff := now.Add(-t.cfg.SampleRetention)
	var stats CleanupStats

	t.mu.Lock()
	defer t.mu.Unlock()

	for op, samples := range t.samples {
		i := sort.Search(len(samples), func(i int) bool {
			return !samples[i].Timestamp.Before(cutoff)
		})
		if i == 0 {
			continue
		}
		stats.Samples += i
		if i == len(samples) {
			delete(t.samples, op)
			continue
		}
		t.samples[op] = append(samples[:0:0], samples[i:]...)
	}

	if len(t.errors) > t.cfg.MaxErrorKeys {
		type keyed struct {
			key string
			ErrorCount
		}
		rows := make([]keyed, 0, len(t.errors))
		for key, rec := range t.errors {
			rows = append(rows, keyed{key: key, ErrorCount: ErrorCount{Name: rec.name, Message: rec.message, Count: rec.count}})
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Count != rows[j].Count {
				return rows[i].Count > rows[j].Count
			}
			return rows[i].key < rows[j].key
		})
		for _, r := range rows[t.cfg.KeepErrorKeys:] {
			delete(t.errors, r.key)
		}
		stats.ErrorKeys = len(rows) - t.cfg.KeepErrorKeys
	}

	if stats.Samples > 0 || stats.ErrorKeys > 0 {
		t.logger.Debug("error tracker cleanup", "samples", stats.Samples, "error_keys", stats.ErrorKeys)
	}
	return stats
}

// Close stops the forwarding worker after draining queued events, then
// closes the sink.
func (t *Tracker) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.queue)
		<-t.done
		err = t.sink.Close()
	})
	return err
}

// Dropped returns how many events were discarded because the forwarding
// queue was full.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

func (t *Tracker) errorEvent(info *ErrorInfo) notify.Event {
	event := notify.NewEvent(notify.TypeError, info.Severity, t.redact(info.Message))
	event.ID = info.ID
	event.Attributes = map[string]any{
		"name":        info.Name,
		"category":    info.Category,
		"user_impact": info.UserImpact,
		"count":       info.Count,
	}
	if info.StatusCode != 0 {
		event.Attributes["status"] = info.StatusCode
	}
	if info.Context.Operation != "" {
		event.Attributes["operation"] = info.Context.Operation
	}
	if info.Context.Route != "" {
		event.Attributes["route"] = info.Context.Route
	}
	if info.Context.RequestID != "" {
		event.Attributes["request_id"] = info.Context.RequestID
	}
	return event
}

func (t *Tracker) redact(s string) string {
	return t.redactor.RedactString(s)
}

// enqueue hands an event to the forwarding worker without blocking.
func (t *Tracker) enqueue(event notify.Event) {
	defer func() {
		// enqueue after Close
		if recover() != nil {
			t.dropped.Add(1)
		}
	}()

	select {
	case t.queue <- event:
	default:
		t.dropped.Add(1)
	}
}

func (t *Tracker) forwardLoop() {
	defer close(t.done)

	for event := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := t.sink.Send(ctx, event); err != nil {
			t.logger.Warn("failed to forward event", "event_id", event.ID, "event_type", event.Type, "error", err)
		}
		cancel()
	}
}

func errorName(err error) string {
	var named interface{ Name() string }
	if errors.As(err, &named) {
		return named.Name()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func sortErrorCounts(rows []ErrorCount) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Message < rows[j].Message
	})
}

func logLevel(sev string) slog.Level {
	switch sev {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

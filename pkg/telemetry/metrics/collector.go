package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mercator-hq/tollgate/pkg/config"
)

// TableStat is the row count of one database table.
type TableStat struct {
	Table string
	Rows  int64
}

// DatabaseProbe is the database as seen by the collection loop.
type DatabaseProbe interface {
	Ping(ctx context.Context) error
	TableStats(ctx context.Context) ([]TableStat, error)
}

// BusinessStore supplies named business counts, such as active users.
type BusinessStore interface {
	Counts(ctx context.Context) (map[string]float64, error)
}

// StorePinger is the counter store as seen by the collection loop.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	// Interval between collection cycles. Default: 30s
	Interval time.Duration

	// ProbeTimeout bounds each dependency call. Default: 5s
	ProbeTimeout time.Duration

	// Retention is the age past which Cleanup evicts samples. Default: 1h
	Retention time.Duration
}

// CollectorConfigFrom maps the metrics section of the configuration file.
func CollectorConfigFrom(cfg config.MetricsConfig) CollectorConfig {
	return CollectorConfig{
		Interval:     cfg.CollectionInterval,
		ProbeTimeout: cfg.ProbeTimeout,
		Retention:    cfg.Retention,
	}
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithDatabase enables database connectivity and table row sampling.
func WithDatabase(db DatabaseProbe) CollectorOption {
	return func(c *Collector) { c.db = db }
}

// WithCounterStore enables counter store connectivity sampling.
func WithCounterStore(store StorePinger) CollectorOption {
	return func(c *Collector) { c.store = store }
}

// WithBusinessStore enables business count sampling.
func WithBusinessStore(store BusinessStore) CollectorOption {
	return func(c *Collector) { c.business = store }
}

// WithSystemSampler replaces the /proc sampler.
func WithSystemSampler(s SystemSampler) CollectorOption {
	return func(c *Collector) { c.system = s }
}

// WithLogger sets the collector's logger.
func WithLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = logger }
}

// Collector periodically refreshes a Registry from process, host and
// dependency state.
//
// Every cycle runs its sources concurrently and each source fails alone:
// a failing dependency sets its <dep>_connected gauge to 0 and increments
// metrics_collection_errors_total{source=...} while the others proceed.
type Collector struct {
	registry *Registry
	cfg      CollectorConfig

	db       DatabaseProbe
	store    StorePinger
	business BusinessStore
	system   SystemSampler

	logger  *slog.Logger
	tracer  trace.Tracer
	started time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCollector creates a collector writing to registry. Without
// WithSystemSampler it samples /proc, falling back to Go runtime figures
// when /proc cannot be opened.
func NewCollector(registry *Registry, cfg CollectorConfig, opts ...CollectorOption) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}

	c := &Collector{
		registry: registry,
		cfg:      cfg,
		tracer:   otel.Tracer("mercator-hq/tollgate/metrics"),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "metrics_collector")

	if c.system == nil {
		if s, err := NewProcSampler(); err == nil {
			c.system = s
		} else {
			c.logger.Warn("procfs unavailable, host gauges disabled", "error", err)
			c.system = runtimeSampler{}
		}
	}

	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *Registry {
	return c.registry
}

// Start runs one collection cycle and then keeps collecting every
// interval until ctx is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("collector already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.logger.Info("starting metrics collection", "interval", c.cfg.Interval)

	_ = c.Collect(ctx)
	go c.loop(ctx)

	return nil
}

// Stop cancels the collection loop and waits for the current cycle to
// finish.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info("metrics collection stopped")
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Collect(ctx)
		}
	}
}

// Collect runs one collection cycle. It returns the first source error,
// after every source has run.
func (c *Collector) Collect(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "metrics.collect")
	defer span.End()

	start := time.Now()

	var g errgroup.Group
	g.Go(func() error { return c.step(ctx, SourceSystem, c.collectSystem) })
	if c.store != nil {
		g.Go(func() error { return c.step(ctx, SourceCounterStore, c.collectCounterStore) })
	}
	if c.db != nil {
		g.Go(func() error { return c.step(ctx, SourceDatabase, c.collectDatabase) })
	}
	if c.business != nil {
		g.Go(func() error { return c.step(ctx, SourceBusiness, c.collectBusiness) })
	}
	err := g.Wait()

	c.registry.RecordHistogram(MetricCollectionDuration, float64(time.Since(start).Milliseconds()), nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("metrics collection cycle had failures", "error", err)
	}
	return err
}

// step runs one source in its own span and records a failure against it.
func (c *Collector) step(ctx context.Context, source string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "metrics.collect."+source,
		trace.WithAttributes(attribute.String("source", source)))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.registry.IncrementCounter(MetricCollectionErrors, 1, Labels{"source": source})
		c.logger.Debug("collection source failed", "source", source, "error", err)
		return fmt.Errorf("%s: %w", source, err)
	}
	return nil
}

func (c *Collector) collectSystem(context.Context) error {
	stats, err := c.system.Sample()

	r := c.registry
	r.SetGauge(MetricHeapBytes, float64(stats.HeapBytes), nil)
	r.SetGauge(MetricGoroutines, float64(stats.Goroutines), nil)
	r.SetGauge(MetricCPUCount, float64(stats.CPUCount), nil)
	r.SetGauge(MetricUptimeSeconds, time.Since(c.started).Seconds(), nil)
	if err != nil {
		return err
	}

	r.SetGauge(MetricRSSBytes, float64(stats.RSSBytes), nil)
	r.SetGauge(MetricCPUSeconds, stats.CPUSeconds, nil)
	if stats.Host {
		r.SetGauge(MetricMemoryUsageRatio, stats.MemoryRatio, nil)
		r.SetGauge(MetricLoadAverage, stats.Load1, load1)
		r.SetGauge(MetricLoadAverage, stats.Load5, Labels{"period": "5m"})
		r.SetGauge(MetricLoadAverage, stats.Load15, Labels{"period": "15m"})
	}
	return nil
}

func (c *Collector) collectCounterStore(ctx context.Context) error {
	latency, err := c.probe(ctx, c.store.Ping)
	if err != nil {
		c.registry.SetGauge(MetricStoreConnected, 0, nil)
		return err
	}
	c.registry.SetGauge(MetricStoreConnected, 1, nil)
	c.registry.SetGauge(MetricStoreLatency, latency, nil)
	return nil
}

func (c *Collector) collectDatabase(ctx context.Context) error {
	latency, err := c.probe(ctx, c.db.Ping)
	if err != nil {
		c.registry.SetGauge(MetricDatabaseConnected, 0, nil)
		return err
	}
	c.registry.SetGauge(MetricDatabaseConnected, 1, nil)
	c.registry.SetGauge(MetricDatabaseLatency, latency, nil)

	tctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	tables, err := c.db.TableStats(tctx)
	if err != nil {
		return fmt.Errorf("table stats: %w", err)
	}
	for _, t := range tables {
		c.registry.SetGauge(MetricTableRows, float64(t.Rows), Labels{"table": t.Table})
	}
	return nil
}

func (c *Collector) collectBusiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	counts, err := c.business.Counts(ctx)
	for name, v := range counts {
		c.registry.SetGauge(MetricBusinessCount, v, Labels{"name": name})
	}
	return err
}

// probe times fn under the probe timeout and returns its latency in
// milliseconds.
func (c *Collector) probe(ctx context.Context, fn func(context.Context) error) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	return float64(time.Since(start).Microseconds()) / 1000, err
}

// HealthStatus evaluates the health checks against the latest gauges.
func (c *Collector) HealthStatus() HealthReport {
	return EvaluateHealth(HealthFromRegistry(c.registry, c.db != nil, c.store != nil), time.Now())
}

// Cleanup evicts samples older than the retention window.
func (c *Collector) Cleanup(now time.Time) CleanupStats {
	stats := c.registry.Cleanup(now, c.cfg.Retention)
	if stats.Gauges > 0 || stats.Observations > 0 {
		c.logger.Debug("metrics retention sweep",
			"gauges", stats.Gauges,
			"observations", stats.Observations,
			"histograms", stats.Histograms)
	}
	return stats
}

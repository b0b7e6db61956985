package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubSampler struct {
	stats SystemStats
	err   error
}

func (s stubSampler) Sample() (SystemStats, error) { return s.stats, s.err }

type stubPinger struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (p *stubPinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

type stubDatabase struct {
	stubPinger
	tables []TableStat
}

func (d *stubDatabase) TableStats(context.Context) ([]TableStat, error) {
	return d.tables, nil
}

type stubBusiness map[string]float64

func (b stubBusiness) Counts(context.Context) (map[string]float64, error) { return b, nil }

func healthyHost() stubSampler {
	return stubSampler{stats: SystemStats{
		HeapBytes: 1 << 20, RSSBytes: 4 << 20, MemoryRatio: 0.4,
		Load1: 0.5, Load5: 0.4, Load15: 0.3, CPUCount: 4, Goroutines: 12, Host: true,
	}}
}

// ============================================================================
// Collection cycle
// ============================================================================

func TestCollector_Collect(t *testing.T) {
	r := NewRegistry()
	db := &stubDatabase{tables: []TableStat{{Table: "users", Rows: 42}}}
	c := NewCollector(r, CollectorConfig{},
		WithSystemSampler(healthyHost()),
		WithCounterStore(&stubPinger{}),
		WithDatabase(db),
		WithBusinessStore(stubBusiness{"active_users": 7}),
	)

	if err := c.Collect(context.Background()); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	gauges := []struct {
		name   string
		labels Labels
		want   float64
	}{
		{MetricStoreConnected, nil, 1},
		{MetricDatabaseConnected, nil, 1},
		{MetricTableRows, Labels{"table": "users"}, 42},
		{MetricBusinessCount, Labels{"name": "active_users"}, 7},
		{MetricMemoryUsageRatio, nil, 0.4},
		{MetricLoadAverage, Labels{"period": "1m"}, 0.5},
		{MetricCPUCount, nil, 4},
		{MetricGoroutines, nil, 12},
	}
	for _, g := range gauges {
		v, ok := r.Gauge(g.name, g.labels)
		if !ok {
			t.Errorf("Expected gauge %s to be set", SeriesKey(g.name, g.labels))
			continue
		}
		if v != g.want {
			t.Errorf("%s: expected %v, got %v", SeriesKey(g.name, g.labels), g.want, v)
		}
	}
	if _, ok := r.Histogram(MetricCollectionDuration, nil); !ok {
		t.Error("Expected collection duration to be recorded")
	}
}

func TestCollector_FailingSourceIsIsolated(t *testing.T) {
	r := NewRegistry()
	c := NewCollector(r, CollectorConfig{},
		WithSystemSampler(healthyHost()),
		WithCounterStore(&stubPinger{err: errors.New("connection refused")}),
		WithDatabase(&stubDatabase{}),
	)

	err := c.Collect(context.Background())
	if err == nil {
		t.Fatal("Expected collection error")
	}

	if v, _ := r.Gauge(MetricStoreConnected, nil); v != 0 {
		t.Errorf("Expected counter store disconnected, got %v", v)
	}
	if v, _ := r.Gauge(MetricDatabaseConnected, nil); v != 1 {
		t.Errorf("Expected database still connected, got %v", v)
	}
	if got := r.Counter(MetricCollectionErrors, Labels{"source": SourceCounterStore}); got != 1 {
		t.Errorf("Expected 1 counter store error, got %d", got)
	}
	if got := r.Counter(MetricCollectionErrors, Labels{"source": SourceDatabase}); got != 0 {
		t.Errorf("Expected no database errors, got %d", got)
	}
}

func TestCollector_ProbeTimeout(t *testing.T) {
	r := NewRegistry()
	slow := &stubPinger{delay: time.Second}
	c := NewCollector(r, CollectorConfig{ProbeTimeout: 20 * time.Millisecond},
		WithSystemSampler(healthyHost()),
		WithCounterStore(slow),
	)

	start := time.Now()
	err := c.Collect(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Collect took %v, expected the probe timeout to bound it", elapsed)
	}
	if v, _ := r.Gauge(MetricStoreConnected, nil); v != 0 {
		t.Errorf("Expected counter store disconnected, got %v", v)
	}
}

func TestCollector_SystemErrorKeepsRuntimeGauges(t *testing.T) {
	r := NewRegistry()
	c := NewCollector(r, CollectorConfig{},
		WithSystemSampler(stubSampler{stats: SystemStats{CPUCount: 2, Goroutines: 3}, err: errors.New("no /proc")}),
	)

	_ = c.Collect(context.Background())

	if v, ok := r.Gauge(MetricCPUCount, nil); !ok || v != 2 {
		t.Errorf("Expected cpu count 2, got %v (set=%v)", v, ok)
	}
	if _, ok := r.Gauge(MetricMemoryUsageRatio, nil); ok {
		t.Error("Expected memory ratio to stay unset")
	}
	if got := r.Counter(MetricCollectionErrors, Labels{"source": SourceSystem}); got != 1 {
		t.Errorf("Expected 1 system error, got %d", got)
	}
}

func TestCollector_StartStop(t *testing.T) {
	store := &stubPinger{}
	c := NewCollector(NewRegistry(), CollectorConfig{Interval: 10 * time.Millisecond},
		WithSystemSampler(healthyHost()),
		WithCounterStore(store),
	)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("Expected error starting a running collector")
	}

	// first cycle runs synchronously
	if store.calls.Load() < 1 {
		t.Error("Expected an immediate collection cycle")
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if store.calls.Load() < 3 {
		t.Errorf("Expected periodic collection, got %d cycles", store.calls.Load())
	}

	after := store.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if store.calls.Load() != after {
		t.Error("Expected no collection after Stop")
	}
	c.Stop()
}

func TestCollector_Cleanup(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	c := NewCollector(r, CollectorConfig{Retention: time.Hour}, WithSystemSampler(healthyHost()))

	r.SetGauge("per_table", 1, Labels{"table": "dropped"})
	clock.Advance(2 * time.Hour)

	if stats := c.Cleanup(clock.Now()); stats.Gauges != 1 {
		t.Errorf("Expected 1 evicted gauge, got %+v", stats)
	}
}

// ============================================================================
// Health
// ============================================================================

func TestEvaluateHealth(t *testing.T) {
	base := HealthInput{
		DatabaseConfigured: true, HasDatabase: true, DatabaseConnected: 1,
		StoreConfigured: true, HasStore: true, StoreConnected: 1,
		HasMemory: true, MemoryRatio: 0.5,
		HasLoad: true, Load1: 1, CPUCount: 4,
		Uptime: 120,
	}

	tests := []struct {
		name       string
		mutate     func(*HealthInput)
		wantStatus string
		wantCheck  string
		wantResult string
	}{
		{"all healthy", func(*HealthInput) {}, StatusHealthy, "memory", CheckHealthy},
		{"memory warning", func(in *HealthInput) { in.MemoryRatio = 0.95 }, StatusDegraded, "memory", CheckWarning},
		{"memory at threshold", func(in *HealthInput) { in.MemoryRatio = 0.9 }, StatusDegraded, "memory", CheckWarning},
		{"load warning", func(in *HealthInput) { in.Load1 = 3.2 }, StatusDegraded, "load", CheckWarning},
		{"load below threshold", func(in *HealthInput) { in.Load1 = 3.1 }, StatusHealthy, "load", CheckHealthy},
		{"database down", func(in *HealthInput) { in.DatabaseConnected = 0 }, StatusUnhealthy, "database", CheckUnhealthy},
		{
			"unhealthy beats degraded",
			func(in *HealthInput) { in.StoreConnected = 0; in.MemoryRatio = 0.99 },
			StatusUnhealthy, "counterStore", CheckUnhealthy,
		},
		{"store never probed", func(in *HealthInput) { in.HasStore = false }, StatusUnhealthy, "counterStore", CheckUnhealthy},
		{
			"database not configured",
			func(in *HealthInput) { in.DatabaseConfigured = false; in.HasDatabase = false },
			StatusHealthy, "database", CheckHealthy,
		},
		{"host not sampled", func(in *HealthInput) { in.HasMemory = false; in.HasLoad = false }, StatusHealthy, "load", CheckHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)

			report := EvaluateHealth(in, time.Now())

			if report.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, report.Status)
			}
			if got := report.Checks[tt.wantCheck].Status; got != tt.wantResult {
				t.Errorf("Expected %s check %s, got %s", tt.wantCheck, tt.wantResult, got)
			}
			if len(report.Checks) != 4 {
				t.Errorf("Expected 4 checks, got %d", len(report.Checks))
			}
		})
	}
}

func TestEvaluateHealth_Summary(t *testing.T) {
	report := EvaluateHealth(HealthInput{
		DatabaseConfigured: true, HasDatabase: true, DatabaseConnected: 0,
		StoreConfigured: true, HasStore: true, StoreConnected: 1,
		HasMemory: true, MemoryRatio: 0.3,
		HasLoad: true, Load1: 0.7, CPUCount: 2,
		Uptime: 90,
	}, time.Now())

	if report.Summary.DependenciesConnected {
		t.Error("Expected dependenciesConnected=false with database down")
	}
	if report.Summary.Uptime != 90 || report.Summary.MemoryUsage != 0.3 || report.Summary.LoadAverage != 0.7 {
		t.Errorf("Unexpected summary: %+v", report.Summary)
	}
}

// ============================================================================
// HTTP and Prometheus
// ============================================================================

func TestHandlers(t *testing.T) {
	r := NewRegistry()
	c := NewCollector(r, CollectorConfig{},
		WithSystemSampler(healthyHost()),
		WithCounterStore(&stubPinger{err: errors.New("down")}),
	)
	_ = c.Collect(context.Background())
	r.IncrementCounter("http_requests_total", 2, Labels{"route": "/x"})

	t.Run("text", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.TextHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
			t.Errorf("Unexpected content type %q", ct)
		}
		if !strings.Contains(rec.Body.String(), `http_requests_total{route="/x"} 2`) {
			t.Errorf("Expected counter in body:\n%s", rec.Body.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.JSONHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics/json", nil))

		var snap Snapshot
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			t.Fatalf("Failed to decode snapshot: %v", err)
		}
		if snap.Counters[`http_requests_total{route="/x"}`] != 2 {
			t.Errorf("Unexpected counters: %v", snap.Counters)
		}
	})

	t.Run("health unhealthy is 503", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rec.Code)
		}
		var report HealthReport
		if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
			t.Fatalf("Failed to decode report: %v", err)
		}
		if report.Checks["counterStore"].Status != CheckUnhealthy {
			t.Errorf("Expected counterStore unhealthy, got %+v", report.Checks["counterStore"])
		}
	})

	t.Run("reset requires POST", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ResetHandler()(rec, httptest.NewRequest(http.MethodGet, "/admin/metrics/reset", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		r.ResetHandler()(rec, httptest.NewRequest(http.MethodPost, "/admin/metrics/reset", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
		if len(r.Snapshot().Counters) != 0 {
			t.Error("Expected counters cleared")
		}
	})
}

func TestBridge(t *testing.T) {
	r := NewRegistry()
	r.IncrementCounter("jobs_total", 4, Labels{"queue": "email"})
	r.SetGauge("database_connected", 1, nil)
	r.RecordHistogram("wait_ms", 10, nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewBridge(r))

	if n := testutil.CollectAndCount(NewBridge(r)); n != 3 {
		t.Errorf("Expected 3 metrics, got %d", n)
	}

	expected := `
# HELP jobs_total Tollgate in-process metric jobs_total
# TYPE jobs_total counter
jobs_total{queue="email"} 4
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "jobs_total"); err != nil {
		t.Errorf("Unexpected bridge output: %v", err)
	}
}

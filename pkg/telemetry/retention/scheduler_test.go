package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/telemetry/errortrack"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{
			name:        "every five minutes",
			schedule:    "*/5 * * * *",
			wantRunning: true,
		},
		{
			name:        "hourly",
			schedule:    "0 * * * *",
			wantRunning: true,
		},
		{
			name:     "empty schedule - no error, not running",
			schedule: "",
		},
		{
			name:      "invalid schedule",
			schedule:  "invalid cron",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scheduler := NewScheduler(tt.schedule)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := scheduler.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Errorf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if scheduler.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", scheduler.IsRunning(), tt.wantRunning)
			}

			if tt.wantRunning {
				next := scheduler.NextRun()
				if next == nil {
					t.Error("NextRun() returned nil for running scheduler")
				} else if !next.After(time.Now()) {
					t.Errorf("NextRun() = %v, expected a future time", next)
				}
				scheduler.Stop()
				if scheduler.IsRunning() {
					t.Error("Expected scheduler to stop")
				}
			}
		})
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	scheduler := NewScheduler("*/5 * * * *")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	if err := scheduler.Start(ctx); err == nil {
		t.Error("Expected error starting a running scheduler")
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	scheduler := NewScheduler("*/5 * * * *")
	ctx, cancel := context.WithCancel(context.Background())

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for scheduler.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("Scheduler still running after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	var seen time.Time
	scheduler := NewScheduler("",
		Task{Name: "a", Run: func(now time.Time) int { seen = now; return 3 }},
		Task{Name: "broken", Run: func(time.Time) int { panic(errors.New("boom")) }},
		Task{Name: "b", Run: func(time.Time) int { return 0 }},
	)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	scheduler.now = func() time.Time { return fixed }

	removed := scheduler.RunNow()

	if removed["a"] != 3 || removed["b"] != 0 || removed["broken"] != 0 {
		t.Errorf("Unexpected results: %v", removed)
	}
	if !seen.Equal(fixed) {
		t.Errorf("Expected tasks to receive the scheduler clock, got %v", seen)
	}
}

func TestScheduler_SweepsTelemetry(t *testing.T) {
	registry := metrics.NewRegistry()
	collector := metrics.NewCollector(registry, metrics.CollectorConfig{Retention: time.Hour})
	registry.SetGauge("queue_depth", 4, nil)
	registry.RecordHistogram("latency_ms", 12, nil)

	tracker := errortrack.New(errortrack.Config{SampleRetention: time.Hour})
	defer tracker.Close()
	tracker.StartTimer("op").End(nil)

	scheduler := NewScheduler("*/5 * * * *", MetricsTask(collector), ErrorsTask(tracker))
	scheduler.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	removed := scheduler.RunNow()

	// One gauge, one observation and the emptied histogram.
	if removed["metrics"] != 3 {
		t.Errorf("Expected 3 metric entries removed, got %d", removed["metrics"])
	}
	if removed["errors"] != 1 {
		t.Errorf("Expected 1 sample removed, got %d", removed["errors"])
	}
	if _, ok := registry.Gauge("queue_depth", nil); ok {
		t.Error("Expected stale gauge to be evicted")
	}
}

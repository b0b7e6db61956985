package errortrack

import (
	"sort"
	"sync"
	"time"

	"mercator-hq/tollgate/pkg/notify"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// PerformanceRecord is one timed execution of an operation.
type PerformanceRecord struct {
	Operation  string         `json:"operation"`
	Duration   time.Duration  `json:"-"`
	DurationMs float64        `json:"duration"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Slow       bool           `json:"slow,omitempty"`
}

// Timer measures one execution of an operation.
type Timer struct {
	tracker   *Tracker
	operation string
	start     time.Time
	once      sync.Once
	record    PerformanceRecord
}

// StartTimer starts timing operation.
//
// Example:
//
//	timer := tracker.StartTimer("db.query")
//	rows, err := db.QueryContext(ctx, q)
//	timer.End(map[string]any{"rows": n})
func (t *Tracker) StartTimer(operation string) *Timer {
	return &Timer{tracker: t, operation: operation, start: t.now()}
}

// End records the elapsed time. Only the first call records; later calls
// return the same record.
func (tm *Timer) End(metadata map[string]any) PerformanceRecord {
	tm.once.Do(func() {
		now := tm.tracker.now()
		d := now.Sub(tm.start)
		tm.record = PerformanceRecord{
			Operation:  tm.operation,
			Duration:   d,
			DurationMs: durationMs(d),
			Timestamp:  now,
			Metadata:   metadata,
		}
		tm.tracker.recordSample(&tm.record)
	})
	return tm.record
}

func (t *Tracker) recordSample(rec *PerformanceRecord) {
	t.mu.Lock()
	threshold := t.thresholds.ResponseTime
	rec.Slow = threshold > 0 && rec.Duration > threshold
	samples := append(t.samples[rec.Operation], *rec)
	if overflow := len(samples) - t.cfg.MaxSamplesPerOperation; overflow > 0 {
		samples = append(samples[:0:0], samples[overflow:]...)
	}
	t.samples[rec.Operation] = samples
	t.mu.Unlock()
	t.totalOperations.Add(1)

	if t.registry != nil {
		t.registry.RecordHistogram(MetricOperationDuration, rec.DurationMs, metrics.Labels{"operation": rec.Operation})
	}

	if rec.Slow {
		t.logger.Warn("slow operation",
			"operation", rec.Operation,
			"duration_ms", rec.DurationMs,
			"threshold_ms", durationMs(threshold))
		if t.registry != nil {
			t.registry.IncrementCounter(MetricSlowOperations, 1, metrics.Labels{"operation": rec.Operation})
		}

		event := notify.NewEvent(notify.TypeSlowOperation, SeverityMedium, "slow operation: "+rec.Operation)
		event.Attributes = map[string]any{
			"operation":    rec.Operation,
			"duration_ms":  rec.DurationMs,
			"threshold_ms": durationMs(threshold),
		}
		t.enqueue(event)
	}
}

// OperationStats summarizes the retained samples of one operation.
// Durations are in milliseconds.
type OperationStats struct {
	Count       int                 `json:"count"`
	AvgDuration float64             `json:"avgDuration"`
	MaxDuration float64             `json:"maxDuration"`
	MinDuration float64             `json:"minDuration"`
	Recent      []PerformanceRecord `json:"recent"`
}

// PerformanceStats summarizes all retained samples.
type PerformanceStats struct {
	Operations          map[string]OperationStats `json:"operations"`
	TotalOperations     int64                     `json:"totalOperations"`
	AverageResponseTime float64                   `json:"averageResponseTime"`
	SlowestOperations   []PerformanceRecord       `json:"slowestOperations"`
}

// PerformanceStats reports per-operation statistics over retained samples,
// the lifetime operation count and the ten slowest retained samples.
func (t *Tracker) PerformanceStats() PerformanceStats {
	t.mu.RLock()
	copied := make(map[string][]PerformanceRecord, len(t.samples))
	for op, samples := range t.samples {
		copied[op] = append([]PerformanceRecord(nil), samples...)
	}
	t.mu.RUnlock()

	stats := PerformanceStats{
		Operations:      make(map[string]OperationStats, len(copied)),
		TotalOperations: t.totalOperations.Load(),
	}

	var all []PerformanceRecord
	var total float64
	for op, samples := range copied {
		if len(samples) == 0 {
			continue
		}
		os := OperationStats{
			Count:       len(samples),
			MinDuration: samples[0].DurationMs,
			MaxDuration: samples[0].DurationMs,
		}
		var sum float64
		for _, s := range samples {
			sum += s.DurationMs
			if s.DurationMs > os.MaxDuration {
				os.MaxDuration = s.DurationMs
			}
			if s.DurationMs < os.MinDuration {
				os.MinDuration = s.DurationMs
			}
		}
		os.AvgDuration = sum / float64(len(samples))

		recent := samples
		if len(recent) > 10 {
			recent = recent[len(recent)-10:]
		}
		os.Recent = append([]PerformanceRecord(nil), recent...)

		stats.Operations[op] = os
		total += sum
		all = append(all, samples...)
	}

	if len(all) > 0 {
		stats.AverageResponseTime = total / float64(len(all))
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Duration > all[j].Duration })
	if len(all) > 10 {
		all = all[:10]
	}
	stats.SlowestOperations = all

	return stats
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

package errortrack

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tollgate/pkg/notify"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// Alert types.
const (
	AlertHighErrorRate   = "high_error_rate"
	AlertHighMemoryUsage = "high_memory_usage"
)

// Alert is a threshold crossing.
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorRate returns totalErrors / (totalErrors + totalOperations) over the
// tracker's lifetime. This mixes two counter families and is an
// approximation, not a per-interval error rate.
func (t *Tracker) ErrorRate() float64 {
	errs := float64(t.totalErrors.Load())
	ops := float64(t.totalOperations.Load())
	if errs+ops == 0 {
		return 0
	}
	return errs / (errs + ops)
}

// MemoryRatio returns the memory usage ratio. The host-level gauge from
// the metrics registry is preferred; without it the Go heap ratio is used.
func (t *Tracker) MemoryRatio() float64 {
	if t.registry != nil {
		if v, ok := t.registry.Gauge(metrics.MetricMemoryUsageRatio, nil); ok {
			return v
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapAlloc) / float64(ms.HeapSys)
}

// CheckAlertThresholds compares the error rate and memory usage against
// the configured thresholds and raises an alert for each one exceeded.
// A given alert type fires at most once per cooldown period. Forwarding is
// asynchronous and never blocks the caller. info may be nil.
func (t *Tracker) CheckAlertThresholds(info *ErrorInfo) []Alert {
	th := t.Thresholds()
	now := t.now()

	var alerts []Alert
	if th.ErrorRate > 0 {
		if rate := t.ErrorRate(); rate > th.ErrorRate {
			alerts = append(alerts, Alert{
				Type:      AlertHighErrorRate,
				Severity:  SeverityHigh,
				Message:   fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%%", rate*100, th.ErrorRate*100),
				Value:     rate,
				Threshold: th.ErrorRate,
			})
		}
	}
	if th.MemoryUsage > 0 {
		if usage := t.MemoryRatio(); usage > th.MemoryUsage {
			alerts = append(alerts, Alert{
				Type:      AlertHighMemoryUsage,
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("memory usage %.2f%% exceeds threshold %.2f%%", usage*100, th.MemoryUsage*100),
				Value:     usage,
				Threshold: th.MemoryUsage,
			})
		}
	}
	if len(alerts) == 0 {
		return nil
	}

	fired := alerts[:0]
	t.mu.Lock()
	for _, a := range alerts {
		if last, ok := t.lastAlerted[a.Type]; ok && now.Sub(last) < t.cfg.AlertCooldown {
			continue
		}
		t.lastAlerted[a.Type] = now
		fired = append(fired, a)
	}
	t.mu.Unlock()

	for i := range fired {
		a := &fired[i]
		a.ID = uuid.NewString()
		a.Timestamp = now
		t.raise(*a, info)
	}
	if len(fired) == 0 {
		return nil
	}
	return fired
}

func (t *Tracker) raise(a Alert, info *ErrorInfo) {
	t.logger.Warn("alert triggered",
		"alert_id", a.ID,
		"alert_type", a.Type,
		"value", a.Value,
		"threshold", a.Threshold)

	if t.registry != nil {
		t.registry.IncrementCounter(MetricAlerts, 1, metrics.Labels{"type": a.Type})
	}

	event := notify.NewEvent(notify.TypeAlert, a.Severity, a.Message)
	event.ID = a.ID
	event.Timestamp = a.Timestamp
	event.Attributes = map[string]any{
		"alert_type": a.Type,
		"value":      a.Value,
		"threshold":  a.Threshold,
	}
	if info != nil {
		event.Attributes["error_id"] = info.ID
		event.Attributes["category"] = info.Category
	}
	t.enqueue(event)
}

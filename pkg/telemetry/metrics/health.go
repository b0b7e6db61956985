package metrics

import "time"

// Check states.
const (
	CheckHealthy   = "healthy"
	CheckWarning   = "warning"
	CheckUnhealthy = "unhealthy"
)

// Overall states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health thresholds. A ratio at or above the threshold is a warning.
const (
	MemoryWarningRatio = 0.9
	LoadWarningRatio   = 0.8
)

// CheckResult is the verdict of a single health check.
type CheckResult struct {
	Status  string  `json:"status"`
	Value   float64 `json:"value"`
	Message string  `json:"message,omitempty"`
}

// HealthSummary carries the headline figures behind a HealthReport.
type HealthSummary struct {
	Uptime                float64 `json:"uptime"`
	MemoryUsage           float64 `json:"memoryUsage"`
	LoadAverage           float64 `json:"loadAverage"`
	DependenciesConnected bool    `json:"dependenciesConnected"`
}

// HealthReport is the aggregate health verdict.
type HealthReport struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthInput is the gauge state a health verdict is derived from.
// Has* fields are false when the gauge has not been sampled.
type HealthInput struct {
	DatabaseConfigured bool
	DatabaseConnected  float64
	HasDatabase        bool
	StoreConfigured    bool
	StoreConnected     float64
	HasStore           bool
	MemoryRatio        float64
	HasMemory          bool
	Load1              float64
	HasLoad            bool
	CPUCount           float64
	Uptime             float64
}

// HealthFromRegistry reads the gauges written by the Collector.
func HealthFromRegistry(r *Registry, databaseConfigured, storeConfigured bool) HealthInput {
	in := HealthInput{DatabaseConfigured: databaseConfigured, StoreConfigured: storeConfigured}
	in.DatabaseConnected, in.HasDatabase = r.Gauge(MetricDatabaseConnected, nil)
	in.StoreConnected, in.HasStore = r.Gauge(MetricStoreConnected, nil)
	in.MemoryRatio, in.HasMemory = r.Gauge(MetricMemoryUsageRatio, nil)
	in.Load1, in.HasLoad = r.Gauge(MetricLoadAverage, load1)
	in.CPUCount, _ = r.Gauge(MetricCPUCount, nil)
	in.Uptime, _ = r.Gauge(MetricUptimeSeconds, nil)
	return in
}

// EvaluateHealth derives the verdict from in. It performs no I/O.
//
// Connectivity checks are healthy or unhealthy. Memory and load checks are
// healthy or warning. The overall status is unhealthy if any check is
// unhealthy, degraded if any is a warning, and healthy otherwise.
func EvaluateHealth(in HealthInput, now time.Time) HealthReport {
	checks := map[string]CheckResult{
		"database":     connectivityCheck(in.DatabaseConfigured, in.HasDatabase, in.DatabaseConnected),
		"counterStore": connectivityCheck(in.StoreConfigured, in.HasStore, in.StoreConnected),
		"memory":       memoryCheck(in),
		"load":         loadCheck(in),
	}

	status := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case CheckUnhealthy:
			status = StatusUnhealthy
		case CheckWarning:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}

	return HealthReport{
		Status: status,
		Checks: checks,
		Summary: HealthSummary{
			Uptime:                in.Uptime,
			MemoryUsage:           in.MemoryRatio,
			LoadAverage:           in.Load1,
			DependenciesConnected: checks["database"].Status == CheckHealthy && checks["counterStore"].Status == CheckHealthy,
		},
		Timestamp: now,
	}
}

func connectivityCheck(configured, sampled bool, connected float64) CheckResult {
	switch {
	case !configured:
		return CheckResult{Status: CheckHealthy, Message: "not configured"}
	case !sampled:
		return CheckResult{Status: CheckUnhealthy, Message: "not yet probed"}
	case connected >= 1:
		return CheckResult{Status: CheckHealthy, Value: connected}
	default:
		return CheckResult{Status: CheckUnhealthy, Value: connected, Message: "disconnected"}
	}
}

func memoryCheck(in HealthInput) CheckResult {
	if !in.HasMemory {
		return CheckResult{Status: CheckHealthy, Message: "not sampled"}
	}
	if in.MemoryRatio >= MemoryWarningRatio {
		return CheckResult{Status: CheckWarning, Value: in.MemoryRatio, Message: "memory usage high"}
	}
	return CheckResult{Status: CheckHealthy, Value: in.MemoryRatio}
}

func loadCheck(in HealthInput) CheckResult {
	if !in.HasLoad || in.CPUCount <= 0 {
		return CheckResult{Status: CheckHealthy, Value: in.Load1, Message: "not sampled"}
	}
	if in.Load1 >= LoadWarningRatio*in.CPUCount {
		return CheckResult{Status: CheckWarning, Value: in.Load1, Message: "load average high"}
	}
	return CheckResult{Status: CheckHealthy, Value: in.Load1}
}

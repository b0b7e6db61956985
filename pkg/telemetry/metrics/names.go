package metrics

// Series written by the Collector.
const (
	MetricHeapBytes          = "process_memory_heap_bytes"
	MetricRSSBytes           = "process_memory_rss_bytes"
	MetricMemoryUsageRatio   = "system_memory_usage_ratio"
	MetricCPUSeconds         = "process_cpu_seconds"
	MetricLoadAverage        = "system_load_average"
	MetricCPUCount           = "system_cpu_count"
	MetricUptimeSeconds      = "process_uptime_seconds"
	MetricGoroutines         = "process_goroutines"
	MetricDatabaseConnected  = "database_connected"
	MetricDatabaseLatency    = "database_latency_ms"
	MetricTableRows          = "database_table_rows"
	MetricStoreConnected     = "counter_store_connected"
	MetricStoreLatency       = "counter_store_latency_ms"
	MetricBusinessCount      = "business_count"
	MetricCollectionErrors   = "metrics_collection_errors_total"
	MetricCollectionDuration = "metrics_collection_duration_ms"
)

// Collection sources, used as the "source" label of MetricCollectionErrors.
const (
	SourceSystem       = "system"
	SourceDatabase     = "database"
	SourceCounterStore = "counter_store"
	SourceBusiness     = "business"
)

// load1 labels the one-minute load average gauge.
var load1 = Labels{"period": "1m"}

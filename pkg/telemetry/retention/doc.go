// Package retention runs the periodic sweeps that keep in-process telemetry
// bounded: stale gauges and histogram observations in the metrics registry,
// old performance samples and an oversized error table in the error tracker.
//
// # Basic Usage
//
//	scheduler := retention.NewScheduler("*/5 * * * *",
//	    retention.MetricsTask(collector),
//	    retention.ErrorsTask(tracker),
//	)
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
package retention

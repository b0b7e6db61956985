// Package errortrack captures application errors and operation timings.
//
// Each captured error is assigned a category from an ordered rule table
// (database, network, authentication, validation, platform_api, queue,
// file_upload, rate_limiting, application), a severity and an estimate of
// user impact. Errors are counted by name and message. Noise such as most
// 4xx responses and cancelled requests is counted but not forwarded.
//
// Timers record per-operation durations into a bounded sample buffer.
// Operations slower than the response-time threshold are logged and
// forwarded.
//
// After every captured error the tracker compares the error rate and the
// memory usage ratio against the alert thresholds. Errors, slow operations
// and alerts are forwarded to a notify.Sink by a background worker so that
// callers never wait on the sink.
//
// Usage:
//
//	tracker := errortrack.New(errortrack.ConfigFrom(cfg.Telemetry.Errors),
//		errortrack.WithSink(sink),
//		errortrack.WithRegistry(registry),
//	)
//	defer tracker.Close()
//
//	timer := tracker.StartTimer("checkout")
//	if err := checkout(ctx); err != nil {
//		tracker.CaptureError(ctx, err, errortrack.Context{Operation: "checkout"})
//	}
//	timer.End(nil)
package errortrack

// Tollgate is a fixed-window rate limiter and telemetry service.
//
// It admits or rejects HTTP requests per caller against quotas kept in a
// shared counter store, and collects metrics, health, and error statistics
// about itself and its dependencies.
//
// Usage:
//
//	# Start the server with built-in defaults
//	tollgate serve
//
//	# Start with a configuration file
//	tollgate serve --config /etc/tollgate/config.yaml
//
//	# Inspect or reset a rate limit key
//	tollgate ratelimit status user:alice
//	tollgate ratelimit reset user:alice
//
//	# Check a configuration file
//	tollgate validate --config config.yaml
package main

func main() {
	Execute()
}

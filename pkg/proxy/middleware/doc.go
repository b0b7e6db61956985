// Package middleware provides the HTTP filters in front of Tollgate's handlers.
//
// # Middleware Chain
//
// The server composes the filters in this order:
//
//	RequestID(Logging(Instrument(Recovery(Admission(handler)))))
//
// Execution order for a request:
//  1. RequestID: accepts a well-formed X-Request-ID or generates a UUID
//  2. Logging: logs start and completion with status, latency and rate limit key
//  3. Instrument: counts requests, records latency, captures failed requests
//  4. Recovery: turns handler panics into a JSON 500 and reports them
//  5. Admission: rejects blocked or over-quota callers with 429
//  6. Handler: processes the request
//
// # Admission
//
// The admission filter resolves a key per request (caller identity by default,
// falling back to a hashed bearer token and then the client IP), checks the
// fixed-window limiter and consumes one unit of quota for admitted requests.
// Counter store outages fail open inside the limiter; a failure to consume is
// answered with 500.
//
// Rate limit headers:
//   - RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset (seconds)
//   - X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset (unix seconds)
//   - Retry-After on every 429
//
// Denied requests receive:
//
//	{"error": {"message": "...", "type": "rate_limit_exceeded", "retry_after": 42}}
//
// # Error Reporting
//
// Handlers attach the cause of a failure with ReportError. Instrument captures
// it in the error tracker together with the route, method and status.
package middleware

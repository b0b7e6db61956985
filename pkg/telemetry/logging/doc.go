// Package logging provides structured logging with PII redaction.
//
// # Overview
//
// Logger embeds a *slog.Logger, so it can be passed anywhere a standard
// logger is expected. Its handler:
//   - writes JSON, text or console output
//   - redacts PII from attribute values (API keys, emails, SSN, etc.)
//   - appends request_id, user_id, trace_id and span_id from the context
//   - supports changing the level at runtime
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//
//	logger.InfoContext(ctx, "Request processed",
//	    "api_key", "sk-abc123",  // Redacted
//	    "duration_ms", 1234,
//	)
//
// # PII Redaction
//
// Values under sensitive keys (password, token, authorization, ...) are
// masked outright. Other string and error values are scanned:
//
//   - API keys: sk-abc123xyz → sk-***
//   - Emails: user@example.com → ***@***
//   - SSN: 123-45-6789 → ***-**-****
//   - IP addresses: 192.168.1.100 → *.*.*.*
//
// The same Redactor cleans error messages before they are forwarded to an
// external sink.
package logging

package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/limits/ratelimit"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("Failed to decode log line: %v", err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success", http.StatusOK, "INFO"},
		{"client error", http.StatusNotFound, "WARN"},
		{"server error", http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			handler := RequestIDMiddleware(LoggingMiddleware(logger)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					if GetStartTime(r.Context()).IsZero() {
						t.Error("Expected start time in context")
					}
					w.WriteHeader(tt.status)
				}),
			))

			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			req.Header.Set(RequestIDHeader, "req-123")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			lines := decodeLogLines(t, &buf)
			if len(lines) != 1 {
				t.Fatalf("Expected 1 log line, got %d", len(lines))
			}
			line := lines[0]
			if line["level"] != tt.wantLevel {
				t.Errorf("Expected level %s, got %v", tt.wantLevel, line["level"])
			}
			if line["status"] != float64(tt.status) {
				t.Errorf("Expected status %d, got %v", tt.status, line["status"])
			}
			if line["request_id"] != "req-123" {
				t.Errorf("Expected request_id req-123, got %v", line["request_id"])
			}
		})
	}
}

func TestLoggingMiddleware_RateLimitKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	admission := AdmissionMiddleware(newTestLimiter(t), AdmissionConfig{
		Default: ratelimit.Options{MaxRequests: 10, Window: time.Minute},
		Logger:  discardLogger(),
	})
	handler := LoggingMiddleware(logger)(admission(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetRateLimitKey(r.Context()); got != "user:alice" {
			t.Errorf("Expected key in handler context, got %q", got)
		}
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "alice"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 || lines[0]["ratelimit_key"] != "user:alice" {
		t.Errorf("Expected ratelimit_key in completion log, got %v", lines)
	}
}

func TestResponseWriter_SharedAcrossWrappers(t *testing.T) {
	rec := httptest.NewRecorder()
	outer := newResponseWriter(rec)
	inner := newResponseWriter(outer)

	if inner != outer {
		t.Fatal("Expected nested wrap to reuse the outer writer")
	}

	inner.WriteHeader(http.StatusTeapot)
	inner.WriteHeader(http.StatusOK)
	if outer.statusCode != http.StatusTeapot {
		t.Errorf("Expected first status to stick, got %d", outer.statusCode)
	}

	outer.Flush()
	if !rec.Flushed {
		t.Error("Expected Flush to reach the recorder")
	}
	if outer.Unwrap() != rec {
		t.Error("Expected Unwrap to return the recorder")
	}
}

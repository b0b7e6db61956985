package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tollgate/pkg/config"
)

func newTestLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.Writer = buf
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid JSON config", config: Config{Level: "info", Format: "json", RedactPII: true}},
		{name: "valid text config", config: Config{Level: "debug", Format: "text"}},
		{name: "valid console config", config: Config{Level: "warn", Format: "console", RedactPII: true}},
		{name: "empty values use defaults", config: Config{}},
		{name: "invalid log level", config: Config{Level: "invalid", Format: "json"}, wantErr: true},
		{name: "invalid format", config: Config{Level: "info", Format: "invalid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Writer = &bytes.Buffer{}
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		logMethod func(*Logger, string)
		wantLog   bool
	}{
		{"debug level logs debug", "debug", func(l *Logger, m string) { l.Debug(m) }, true},
		{"info level filters debug", "info", func(l *Logger, m string) { l.Debug(m) }, false},
		{"info level logs info", "info", func(l *Logger, m string) { l.Info(m) }, true},
		{"warn level filters info", "warn", func(l *Logger, m string) { l.Info(m) }, false},
		{"error level filters warn", "error", func(l *Logger, m string) { l.Warn(m) }, false},
		{"error level logs error", "error", func(l *Logger, m string) { l.Error(m) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger(t, Config{Level: tt.logLevel, Format: "json"})

			tt.logMethod(logger, "test message")

			hasLog := strings.Contains(buf.String(), "test message")
			if hasLog != tt.wantLog {
				t.Errorf("Log filtering failed: got log=%v, want log=%v, output=%s",
					hasLog, tt.wantLog, buf.String())
			}
		})
	}
}

func TestLogger_SetLevel(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json"})
	child := logger.With("component", "child")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("Expected debug to be filtered, got %s", buf.String())
	}

	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	child.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("Expected derived logger to follow the new level")
	}

	if err := logger.SetLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestLogger_RedactsAttributes(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json", RedactPII: true})

	logger.Info("login failed",
		"email", "alice@example.com",
		"password", "hunter2hunter2",
		"error", errors.New("connect to 10.0.0.12 refused"),
		"attempts", 3,
	)

	entry := decodeLine(t, buf)
	if entry["email"] != "***@***" {
		t.Errorf("Expected email redacted, got %v", entry["email"])
	}
	if entry["password"] != "hunt***" {
		t.Errorf("Expected password masked, got %v", entry["password"])
	}
	if entry["error"] != "connect to *.*.*.* refused" {
		t.Errorf("Expected IP redacted from error, got %v", entry["error"])
	}
	if entry["attempts"] != float64(3) {
		t.Errorf("Expected non-string fields untouched, got %v", entry["attempts"])
	}
}

func TestLogger_WithAttrsRedacted(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json", RedactPII: true})

	logger.With("api_key", "sk-abcdef123456").Info("call")

	entry := decodeLine(t, buf)
	if entry["api_key"] != "sk-a***" {
		t.Errorf("Expected api key masked, got %v", entry["api_key"])
	}
}

func TestLogger_NoRedactionWhenDisabled(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json"})

	logger.Info("plain", "email", "alice@example.com")

	entry := decodeLine(t, buf)
	if entry["email"] != "alice@example.com" {
		t.Errorf("Expected email untouched, got %v", entry["email"])
	}
	if logger.Redactor() != nil {
		t.Error("Expected nil redactor when redaction is disabled")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json"})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithUser(ctx, "user-42")

	logger.InfoContext(ctx, "handled")

	entry := decodeLine(t, buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id, got %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Errorf("Expected user_id, got %v", entry["user_id"])
	}
	if entry["trace_id"] != traceID.String() {
		t.Errorf("Expected trace_id %s, got %v", traceID, entry["trace_id"])
	}
	if entry["span_id"] != spanID.String() {
		t.Errorf("Expected span_id %s, got %v", spanID, entry["span_id"])
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetUser(ctx) != "" || GetRoute(ctx) != "" {
		t.Error("Expected empty values from bare context")
	}

	ctx = WithRoute(ctx, "/api/posts")
	if GetRoute(ctx) != "/api/posts" {
		t.Errorf("Expected route, got %q", GetRoute(ctx))
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LoggingConfig{Level: "warn", Format: "text", RedactPII: true})
	if cfg.Level != "warn" || cfg.Format != "text" || !cfg.RedactPII {
		t.Errorf("Unexpected conversion: %+v", cfg)
	}
}

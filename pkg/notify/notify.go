package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tollgate/pkg/config"
)

// Event types.
const (
	TypeError         = "error"
	TypeAlert         = "alert"
	TypeSlowOperation = "slow_operation"
)

// Event is a notification forwarded out of the process.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Severity   string         `json:"severity,omitempty"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(eventType, severity, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Sink delivers events to an external collaborator.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// New creates the sink selected by cfg.Sink.
func New(cfg config.NotifyConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Sink {
	case "", "log":
		return NewLogSink(logger), nil
	case "none":
		return NopSink{}, nil
	case "mqtt":
		sink, err := NewMQTTSink(cfg.MQTT, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown notify sink: %s", cfg.Sink)
	}
}

// LogSink writes events to a logger. Alerts are logged at warn level,
// everything else at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify")}
}

// Send logs the event.
func (s *LogSink) Send(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	if event.Type == TypeAlert {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	}
	if event.Severity != "" {
		attrs = append(attrs, slog.String("severity", event.Severity))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, slog.Any(k, v))
	}

	s.logger.LogAttrs(ctx, level, event.Message, attrs...)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

// NopSink discards events.
type NopSink struct{}

// Send discards the event.
func (NopSink) Send(context.Context, Event) error { return nil }

// Close is a no-op.
func (NopSink) Close() error { return nil }

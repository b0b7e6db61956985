package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type keyStatus struct {
	Key       string `json:"key"`
	Remaining int64  `json:"remaining"`
}

func (s keyStatus) Fields() []Field {
	return []Field{
		{Label: "Key", Value: s.Key},
		{Label: "Remaining", Value: s.Remaining},
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  OutputFormat
		want    string
		wantErr bool
	}{
		{"", "*cli.TextFormatter", false},
		{FormatText, "*cli.TextFormatter", false},
		{FormatJSON, "*cli.JSONFormatter", false},
		{"csv", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && typeName(f) != tt.want {
				t.Errorf("NewFormatter() = %s, want %s", typeName(f), tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	default:
		return "unknown"
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &TextFormatter{}

	if err := f.FormatTo(&buf, keyStatus{Key: "user:alice", Remaining: 7}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "Key:") || !strings.HasSuffix(lines[0], "user:alice") {
		t.Errorf("Unexpected first line %q", lines[0])
	}
	// Values are aligned in one column.
	if strings.Index(lines[0], "user:alice") != strings.Index(lines[1], "7") {
		t.Errorf("Expected aligned values, got %q", buf.String())
	}

	buf.Reset()
	if err := f.FormatTo(&buf, "plain"); err != nil || buf.String() != "plain\n" {
		t.Errorf("Expected plain value, got %q (err %v)", buf.String(), err)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &JSONFormatter{Indent: true}

	if err := f.FormatTo(&buf, keyStatus{Key: "ip:10.0.0.1", Remaining: 3}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var decoded keyStatus
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if decoded.Key != "ip:10.0.0.1" || decoded.Remaining != 3 {
		t.Errorf("Unexpected decoded value %+v", decoded)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("Expected indented output")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	ctx, stop := SetupSignalHandler(parent)

	select {
	case <-ctx.Done():
		t.Fatal("Context should not be cancelled initially")
	case <-time.After(10 * time.Millisecond):
	}

	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Expected stop to cancel the context")
	}
}

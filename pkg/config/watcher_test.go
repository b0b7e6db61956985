package config

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CollapsesBursts(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected 1 callback, got %d", got)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })

	time.Sleep(120 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("Expected no callbacks after Stop, got %d", got)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	configPath := writeConfig(t, "ratelimit:\n  default:\n    max_requests: 10\n")

	w, err := NewWatcher(configPath, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func() error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			reloaded <- cfg
			return nil
		})
	}()

	// Give the watcher time to register the directory
	time.Sleep(50 * time.Millisecond)
	writeFile(t, configPath, "ratelimit:\n  default:\n    max_requests: 25\n")

	select {
	case cfg := <-reloaded:
		if cfg.RateLimit.Default.MaxRequests != 25 {
			t.Errorf("Expected reloaded max requests 25, got %d", cfg.RateLimit.Default.MaxRequests)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	configPath := writeConfig(t, "{}\n")

	w, err := NewWatcher(configPath, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func() error {
			calls.Add(1)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	writeFile(t, configPath+".bak", "{}\n")
	time.Sleep(100 * time.Millisecond)

	cancel()
	<-done
	_ = w.Stop()

	if got := calls.Load(); got != 0 {
		t.Errorf("Expected sibling writes to be ignored, got %d reloads", got)
	}
}

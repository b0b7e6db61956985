package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/tollgate/pkg/telemetry/errortrack"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

// Task is one retention sweep. Run returns how many entries it removed.
type Task struct {
	Name string
	Run  func(now time.Time) int
}

// MetricsTask sweeps stale gauges and histogram observations.
func MetricsTask(c *metrics.Collector) Task {
	return Task{Name: "metrics", Run: func(now time.Time) int {
		s := c.Cleanup(now)
		return s.Gauges + s.Observations + s.Histograms
	}}
}

// ErrorsTask sweeps old performance samples and trims the error table.
func ErrorsTask(t *errortrack.Tracker) Task {
	return Task{Name: "errors", Run: func(now time.Time) int {
		s := t.Cleanup(now)
		return s.Samples + s.ErrorKeys
	}}
}

// Scheduler runs retention sweeps on a cron schedule.
type Scheduler struct {
	schedule string
	tasks    []Task
	now      func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a scheduler that runs tasks on schedule, a standard
// five-field cron expression.
func NewScheduler(schedule string, tasks ...Task) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		tasks:    tasks,
		now:      time.Now,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "retention.scheduler"),
	}
}

// Start schedules the sweeps. It stops by itself when ctx is cancelled.
//
// Common cron expressions:
//   - "*/5 * * * *"  - Every 5 minutes
//   - "0 * * * *"    - Hourly
//
// If the schedule is empty, the scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("retention scheduler already running")
	}
	if s.schedule == "" {
		s.logger.Info("cleanup schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started", "schedule", s.schedule, "tasks", len(s.tasks))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunNow runs every task once and returns how many entries each removed.
// A panicking task is logged and reported as zero.
func (s *Scheduler) RunNow() map[string]int {
	now := s.now()
	removed := make(map[string]int, len(s.tasks))
	for _, task := range s.tasks {
		removed[task.Name] = s.run(task, now)
	}

	total := 0
	for _, n := range removed {
		total += n
	}
	if total > 0 {
		s.logger.Info("retention sweep completed", "removed", removed)
	} else {
		s.logger.Debug("retention sweep completed, nothing removed")
	}
	return removed
}

func (s *Scheduler) run(task Task, now time.Time) (n int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("retention task panicked", "task", task.Name, "panic", r)
			n = 0
		}
	}()
	return task.Run(now)
}

// Stop stops the scheduler and waits for a running sweep to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

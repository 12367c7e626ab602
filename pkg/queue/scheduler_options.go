package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	logger        *slog.Logger
	metrics       *Metrics
	now           func() time.Time
}

// WithCheckInterval sets how often the scheduler looks for due tasks.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) SchedulerOption {
	return func(o *schedulerOptions) { o.metrics = m }
}

// WithSchedulerClock replaces time.Now when computing due times.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(o *schedulerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// SchedulerTaskOption configures a single registered task.
type SchedulerTaskOption func(*schedulerTaskOptions)

type schedulerTaskOptions struct {
	timeout    time.Duration
	runOnStart bool
}

// WithTaskTimeout bounds each run of the task.
func WithTaskTimeout(d time.Duration) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRunOnStart makes the first run happen on the first check instead of one schedule
// period after start.
func WithRunOnStart() SchedulerTaskOption {
	return func(o *schedulerTaskOptions) { o.runOnStart = true }
}

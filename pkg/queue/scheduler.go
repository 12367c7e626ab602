package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Scheduler runs registered handlers in-process on their schedules. A task never
// overlaps with itself: a run that is still in progress when the task comes due again
// causes that slot to be skipped.
type Scheduler struct {
	tasks    map[string]*scheduledTask
	mu       sync.Mutex
	wg       sync.WaitGroup
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

type scheduledTask struct {
	handler  Handler
	schedule Schedule
	opts     schedulerTaskOptions
	nextRun  time.Time
	running  bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	o := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Scheduler{
		tasks:    make(map[string]*scheduledTask),
		interval: o.checkInterval,
		logger:   o.logger,
		metrics:  o.metrics,
		now:      o.now,
	}
}

// AddTask registers a handler under its name.
func (s *Scheduler) AddTask(h Handler, schedule Schedule, opts ...SchedulerTaskOption) error {
	if h == nil {
		return ErrHandlerNil
	}
	if schedule == nil {
		return ErrNoScheduleSpecified
	}
	taskOpts := schedulerTaskOptions{}
	for _, opt := range opts {
		opt(&taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[h.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRegistered, h.Name())
	}
	s.tasks[h.Name()] = &scheduledTask{handler: h, schedule: schedule, opts: taskOpts}

	s.logger.Info("registered periodic task",
		slog.String("task_name", h.Name()),
		slog.String("schedule", schedule.String()))
	return nil
}

// Tasks lists the registered task names in order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start checks for due tasks every check interval until ctx is cancelled, then waits for
// running tasks to return. It always returns a non-nil error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.tasks)
	s.mu.Unlock()
	if count == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkTasks(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.checkTasks(ctx)
		}
	}
}

// RunNow runs the named task synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if task.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	task.running = true
	s.mu.Unlock()

	return s.run(ctx, task)
}

func (s *Scheduler) checkTasks(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*scheduledTask
	for _, task := range s.tasks {
		if task.nextRun.IsZero() {
			if !task.opts.runOnStart {
				task.nextRun = task.schedule.Next(now)
				continue
			}
			task.nextRun = now
		}
		if now.Before(task.nextRun) {
			continue
		}
		task.nextRun = task.schedule.Next(now)
		if task.running {
			s.logger.Warn("skipping periodic task, previous run still in progress",
				slog.String("task_name", task.handler.Name()))
			continue
		}
		task.running = true
		due = append(due, task)
	}
	s.mu.Unlock()

	for _, task := range due {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.run(ctx, task)
		}()
	}
}

// run executes the task and clears its running flag. The caller must have set it.
func (s *Scheduler) run(ctx context.Context, task *scheduledTask) (err error) {
	name := task.handler.Name()
	if task.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.opts.timeout)
		defer cancel()
	}

	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
		elapsed := s.now().Sub(started)
		s.metrics.observe(name, started, elapsed, err)

		s.mu.Lock()
		task.running = false
		s.mu.Unlock()

		switch {
		case err == nil:
			s.logger.InfoContext(ctx, "periodic task finished",
				slog.String("task_name", name),
				slog.Duration("duration", elapsed))
		case errors.Is(err, context.Canceled):
			s.logger.WarnContext(ctx, "periodic task cancelled", slog.String("task_name", name))
		default:
			s.logger.ErrorContext(ctx, "periodic task failed",
				slog.String("task_name", name),
				slog.Duration("duration", elapsed),
				slog.Any("error", err))
		}
	}()

	return task.handler.Handle(ctx)
}

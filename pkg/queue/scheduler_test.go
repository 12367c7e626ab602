package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/printforge/pkg/queue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_AddTask(t *testing.T) {
	t.Parallel()

	s := queue.NewScheduler(queue.WithSchedulerLogger(quietLogger()))
	noop := queue.NewPeriodicTaskHandler("expire-trials", func(context.Context) error { return nil })

	require.NoError(t, s.AddTask(noop, queue.EveryInterval(time.Hour)))
	assert.ErrorIs(t, s.AddTask(noop, queue.EveryInterval(time.Hour)), queue.ErrTaskAlreadyRegistered)
	assert.ErrorIs(t, s.AddTask(nil, queue.EveryInterval(time.Hour)), queue.ErrHandlerNil)
	assert.ErrorIs(t, s.AddTask(queue.NewPeriodicTaskHandler("other", nil), nil), queue.ErrNoScheduleSpecified)

	require.NoError(t, s.AddTask(queue.NewPeriodicTaskHandler("a-first", func(context.Context) error { return nil }), queue.DailyAt(3, 0)))
	assert.Equal(t, []string{"a-first", "expire-trials"}, s.Tasks())
}

func TestScheduler_StartWithoutTasks(t *testing.T) {
	t.Parallel()
	s := queue.NewScheduler(queue.WithSchedulerLogger(quietLogger()))
	assert.ErrorIs(t, s.Start(context.Background()), queue.ErrSchedulerNotConfigured)
}

func TestScheduler_RunsDueTasks(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := queue.NewScheduler(
		queue.WithSchedulerLogger(quietLogger()),
		queue.WithCheckInterval(5*time.Millisecond),
	)
	require.NoError(t, s.AddTask(
		queue.NewPeriodicTaskHandler("purge", func(context.Context) error {
			runs.Add(1)
			return nil
		}),
		queue.EveryInterval(10*time.Millisecond),
		queue.WithRunOnStart(),
	))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_FirstRunWaitsForSchedule(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := queue.NewScheduler(
		queue.WithSchedulerLogger(quietLogger()),
		queue.WithCheckInterval(5*time.Millisecond),
	)
	require.NoError(t, s.AddTask(
		queue.NewPeriodicTaskHandler("notify", func(context.Context) error {
			runs.Add(1)
			return nil
		}),
		queue.EveryInterval(time.Hour),
	))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Start(ctx)
	assert.Zero(t, runs.Load())
}

func TestScheduler_NoOverlap(t *testing.T) {
	t.Parallel()

	var active, maxActive atomic.Int32
	release := make(chan struct{})
	s := queue.NewScheduler(
		queue.WithSchedulerLogger(quietLogger()),
		queue.WithCheckInterval(2*time.Millisecond),
	)
	require.NoError(t, s.AddTask(
		queue.NewPeriodicTaskHandler("slow", func(ctx context.Context) error {
			n := active.Add(1)
			defer active.Add(-1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}),
		queue.EveryInterval(time.Millisecond),
		queue.WithRunOnStart(),
	))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return active.Load() == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), queue.ErrTaskRunning)
	time.Sleep(20 * time.Millisecond)
	close(release)
	cancel()
	<-done

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := queue.NewMetrics(reg)
	s := queue.NewScheduler(queue.WithSchedulerLogger(quietLogger()), queue.WithMetrics(metrics))

	boom := errors.New("boom")
	require.NoError(t, s.AddTask(queue.NewPeriodicTaskHandler("ok", func(context.Context) error { return nil }), queue.DailyAt(3, 0)))
	require.NoError(t, s.AddTask(queue.NewPeriodicTaskHandler("fails", func(context.Context) error { return boom }), queue.DailyAt(3, 0)))
	require.NoError(t, s.AddTask(queue.NewPeriodicTaskHandler("panics", func(context.Context) error { panic("bad") }), queue.DailyAt(3, 0)))

	require.NoError(t, s.RunNow(context.Background(), "ok"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "fails"), boom)
	assert.ErrorIs(t, s.RunNow(context.Background(), "panics"), queue.ErrTaskPanicked)
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), queue.ErrTaskNotFound)

	// The panic cleared the running flag.
	assert.ErrorIs(t, s.RunNow(context.Background(), "panics"), queue.ErrTaskPanicked)

	assert.Equal(t, 1.0, jobRuns(t, reg, "ok", "success"))
	assert.Equal(t, 1.0, jobRuns(t, reg, "fails", "failure"))
	assert.Equal(t, 2.0, jobRuns(t, reg, "panics", "failure"))
	series, err := testutil.GatherAndCount(reg, "printforge_job_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestScheduler_TaskTimeout(t *testing.T) {
	t.Parallel()

	s := queue.NewScheduler(queue.WithSchedulerLogger(quietLogger()))
	require.NoError(t, s.AddTask(
		queue.NewPeriodicTaskHandler("stuck", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		queue.EveryInterval(time.Hour),
		queue.WithTaskTimeout(10*time.Millisecond),
	))
	assert.ErrorIs(t, s.RunNow(context.Background(), "stuck"), context.DeadlineExceeded)
}

// jobRuns reads printforge_job_runs_total for job and result from reg.
func jobRuns(t *testing.T, reg *prometheus.Registry, job, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "printforge_job_runs_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["job"] == job && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

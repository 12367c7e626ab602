// Package queue runs periodic background jobs inside the service process.
//
// Jobs are Handlers registered on a Scheduler together with a Schedule. Start checks for
// due jobs on a fixed interval and runs each one in its own goroutine; a job that is
// still running when it comes due again skips that slot. RunNow triggers a job on demand,
// outside the schedule.
//
//	s := queue.NewScheduler(queue.WithMetrics(queue.NewMetrics(prometheus.DefaultRegisterer)))
//	expire := queue.NewPeriodicTaskHandler("expire-trials", func(ctx context.Context) error {
//		_, err := sweeper.ExpireTrials(ctx)
//		return err
//	})
//	_ = s.AddTask(expire, queue.EveryInterval(time.Hour))
//	err := s.Start(ctx)
//
// Schedules can be read from configuration with ParseSchedule. Every run is logged and,
// when Metrics are configured, counted by outcome and timed.
package queue

// Command printforge runs the subscription lifecycle service: the billing API and the
// scheduler that expires trials, finalizes deferred cancellations, sends grace period
// reminders and purges images once a grace period has elapsed.
//
// Usage:
//
//	printforge                          serve the API and run the scheduler
//	printforge -run-job expire-trials   run a single sweep and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/printforge/modules/billing"
	"github.com/dmitrymomot/printforge/pkg/config"
	"github.com/dmitrymomot/printforge/pkg/httpserver"
	"github.com/dmitrymomot/printforge/pkg/jwt"
	"github.com/dmitrymomot/printforge/pkg/logger"
	"github.com/dmitrymomot/printforge/pkg/queue"
	"github.com/dmitrymomot/printforge/pkg/rbac"
	"github.com/dmitrymomot/printforge/pkg/requestid"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

func main() {
	runJob := flag.String("run-job", "", "run a single sweep and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *runJob); err != nil {
		fmt.Fprintf(os.Stderr, "printforge: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, runJob string) error {
	var app appConfig
	if err := config.Load(&app); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(app.Env, app.ServiceName),
		logger.WithContextExtractors(requestid.LogExtractor()),
	)
	logger.SetAsDefault(log)

	infra, err := connect(ctx, app, log)
	if err != nil {
		return err
	}
	defer infra.close(log)

	tiers, err := app.tierTable()
	if err != nil {
		return fmt.Errorf("load tier table: %w", err)
	}

	deps, opts, err := infra.engineDeps(app, tiers, log)
	if err != nil {
		return err
	}
	engine := sub.NewEngine(deps, opts...)
	sweeper := sub.NewSweeper(deps, opts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var queueCfg queue.Config
	if err := config.Load(&queueCfg); err != nil {
		return err
	}
	scheduler, err := newScheduler(app, queueCfg, sweeper, queue.NewMetrics(reg), log)
	if err != nil {
		return err
	}

	if runJob != "" {
		if err := scheduler.RunNow(ctx, runJob); err != nil {
			return fmt.Errorf("run %s: %w", runJob, err)
		}
		return nil
	}

	var jwtCfg jwt.Config
	if err := config.Load(&jwtCfg); err != nil {
		return err
	}
	tokens, err := jwt.New(jwtCfg)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}
	authz, err := rbac.NewAuthorizer(rbac.DefaultRoles())
	if err != nil {
		return fmt.Errorf("init role catalogue: %w", err)
	}

	svc := billing.NewService(engine, sweeper, billing.WithLogger(log), billing.WithTierTable(tiers))
	gate := rbac.NewGate(tokens, infra.grants(), authz,
		rbac.WithErrorResponder(svc.RenderError),
		rbac.WithGateLogger(log),
	)
	router := billing.Router(billing.RouterOptions{
		Service: svc,
		Gate:    gate,
		Health:  httpserver.ReadinessHandler(log, app.HealthTimeout, infra.checks),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}
	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, router)
	})
	if queueCfg.Enabled {
		g.Go(func() error {
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("scheduler: %w", err)
			}
			return nil
		})
	}

	log.InfoContext(ctx, "printforge started",
		slog.String("addr", httpCfg.Addr),
		slog.Bool("scheduler", queueCfg.Enabled),
		slog.String("audit_backend", app.AuditBackend),
		slog.String("storage_backend", app.StorageBackend))

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("printforge stopped")
	return nil
}

func newScheduler(app appConfig, cfg queue.Config, sweeper *sub.Sweeper, metrics *queue.Metrics, log *slog.Logger) (*queue.Scheduler, error) {
	scheduler := queue.NewScheduler(
		queue.WithCheckInterval(cfg.CheckInterval),
		queue.WithSchedulerLogger(log),
		queue.WithMetrics(metrics),
	)
	schedules := app.schedules()
	for _, job := range sub.Jobs {
		schedule, err := queue.ParseSchedule(schedules[job])
		if err != nil {
			return nil, fmt.Errorf("schedule of %s: %w", job, err)
		}
		handler := queue.NewPeriodicTaskHandler(job, func(ctx context.Context) error {
			n, err := sweeper.Run(ctx, job)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "sweep finished", logger.Job(job), slog.Int("processed", n))
			return nil
		})
		if err := scheduler.AddTask(handler, schedule, queue.WithTaskTimeout(cfg.TaskTimeout)); err != nil {
			return nil, fmt.Errorf("register %s: %w", job, err)
		}
	}
	return scheduler, nil
}

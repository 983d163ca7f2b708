package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/dispatcher"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/sweeper"
	"github.com/dukex/stepflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		databaseURLFlag(),
		&cli.IntFlag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "Maximum number of jobs running at once",
			Value:   dispatcher.DefaultConfig().Concurrency,
			Sources: cli.EnvVars("CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Per-step time budget checked after the step finishes; 0 disables the check",
			Value:   dispatcher.DefaultConfig().Timeout,
			Sources: cli.EnvVars("STEP_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "request-timeout",
			Usage:   "HTTP client timeout for api steps (0 keeps the executor default)",
			Sources: cli.EnvVars("REQUEST_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "step-retries",
			Usage:   "Reserved; failed steps are not retried",
			Sources: cli.EnvVars("STEP_RETRIES"),
		},
		&cli.StringFlag{
			Name:    "sweep-schedule",
			Usage:   "Cron schedule for failing abandoned running jobs",
			Value:   sweeper.DefaultSchedule,
			Sources: cli.EnvVars("SWEEP_SCHEDULE"),
		},
		&cli.DurationFlag{
			Name:    "stale-after",
			Usage:   "How long a running job may go without progress before it is failed",
			Value:   sweeper.DefaultStaleAfter,
			Sources: cli.EnvVars("STALE_AFTER"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		logLevelFlag(),
	}

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Poll the job store and run pending jobs",
		Flags:   append(flags, eventBusFlags("gochannel")...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("stepflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Stepflow Worker")

			config := dispatcher.Config{
				Concurrency: command.Int("concurrency"),
				Timeout:     stepTimeout(command.Duration("step-timeout")),
				Retries:     command.Int("step-retries"),
			}.WithDefaults()

			err := config.Validate()
			if err != nil {
				return err
			}

			tracer, shutdown, err := cmd.NewTracer(ctx, logger, "stepflow-worker", command.Bool("otel-enabled"))
			if err != nil {
				return err
			}

			defer func() {
				err := shutdown(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close job store", "error", err)
				}
			}()

			runner := workflow.NewRunner(store, cmd.NewRegistry(logger, command.Duration("request-timeout")), logger,
				workflow.WithPublisher(eventBus),
				workflow.WithTracer(tracer),
				workflow.WithTimeout(config.StepTimeout()),
				workflow.WithWorkerID(workerID),
			)

			pool := dispatcher.New(store, runner, config, logger)

			sweep := sweeper.New(store, logger,
				sweeper.WithSchedule(command.String("sweep-schedule")),
				sweeper.WithStaleAfter(command.Duration("stale-after")),
				sweeper.WithInFlight(pool.InFlight),
			)

			return NewWorkerManager(workerID, pool, sweep, logger).Start(ctx)
		},
	}
}

// stepTimeout maps the flag value to the dispatcher setting: 0 on the command line disables the check.
func stepTimeout(flag time.Duration) time.Duration {
	if flag == 0 {
		return dispatcher.NoTimeout
	}

	return flag
}

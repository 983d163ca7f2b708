package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/urfave/cli/v3"
)

var watchedEvents = []events.EventType{
	events.JobStartedEvent,
	events.JobCompletedEvent,
	events.JobFailedEvent,
	events.StepCompletedEvent,
	events.StepFailedEvent,
}

func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Log job and step lifecycle events published by workers",
		Flags: append([]cli.Flag{logLevelFlag()}, eventBusFlags("kafka")...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("stepflow-watch")

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

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = watch(ctx, eventBus, logger)
			if err != nil {
				return err
			}

			<-ctx.Done()

			return nil
		},
	}
}

// watch registers a logging handler for every lifecycle event and subscribes.
func watch(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	for _, eventType := range watchedEvents {
		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			logEvent(ctx, logger, event)

			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return bus.Subscribe(ctx)
}

func logEvent(ctx context.Context, logger *slog.Logger, event any) {
	switch e := event.(type) {
	case *events.JobStarted:
		logger.InfoContext(ctx, "Job started", "job_id", e.JobID, "worker_id", e.WorkerID, "first_step_id", e.FirstStepID)
	case *events.JobCompleted:
		logger.InfoContext(ctx, "Job completed", "job_id", e.JobID, "steps_executed", e.StepsExecuted, "duration", e.Duration)
	case *events.JobFailed:
		logger.WarnContext(ctx, "Job failed", "job_id", e.JobID, "step_id", e.StepID, "error", e.Error)
	case *events.StepCompleted:
		logger.InfoContext(ctx, "Step completed", "job_id", e.JobID, "step_id", e.StepID, "duration", e.Duration)
	case *events.StepFailed:
		logger.WarnContext(ctx, "Step failed", "job_id", e.JobID, "step_id", e.StepID, "error", e.Error)
	default:
		logger.DebugContext(ctx, "Unknown event", "event", fmt.Sprintf("%T", event))
	}
}

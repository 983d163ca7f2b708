package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/config"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/urfave/cli/v3"
)

var errNoFiles = errors.New("at least one job file is required")

func NewSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Aliases:   []string{"s"},
		Usage:     "Queue the jobs defined in YAML files",
		ArgsUsage: "<file.yaml> [file.yaml...]",
		Flags: []cli.Flag{
			databaseURLFlag(),
			logLevelFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("stepflow-submit")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close job store", "error", err)
				}
			}()

			jobs := services.NewJobs(store, cmd.NewRegistry(logger, 0))

			return submitFiles(ctx, os.Stdout, jobs, command.Args().Slice())
		},
	}
}

// submitFiles queues every job of every file and prints one line per queued job.
func submitFiles(ctx context.Context, out io.Writer, jobs *services.Jobs, files []string) error {
	if len(files) == 0 {
		return errNoFiles
	}

	for _, file := range files {
		definitions, err := config.LoadJobFile(file)
		if err != nil {
			return err
		}

		for _, definition := range definitions {
			job, err := jobs.Submit(ctx, definition)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			_, _ = fmt.Fprintf(out, "%s\t%s\t%d steps\n", job.ID, job.Status, len(job.Steps))
		}
	}

	return nil
}

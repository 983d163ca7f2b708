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

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check YAML job definitions without queueing them",
		ArgsUsage: "<file.yaml> [file.yaml...]",
		Flags: []cli.Flag{
			logLevelFlag(),
		},
		Action: func(_ context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			jobs := services.NewJobs(nil, cmd.NewRegistry(log.WithModule("stepflow-validate"), 0))

			return validateFiles(os.Stdout, jobs, command.Args().Slice())
		},
	}
}

// validateFiles reports every invalid job and fails when any file has one.
func validateFiles(out io.Writer, jobs *services.Jobs, files []string) error {
	if len(files) == 0 {
		return errNoFiles
	}

	var errs []error

	for _, file := range files {
		definitions, err := config.LoadJobFile(file)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		for i, definition := range definitions {
			err := jobs.Prepare(definition)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: job %d: %w", file, i, err))
			}
		}

		_, _ = fmt.Fprintf(out, "%s: %d job(s) checked\n", file, len(definitions))
	}

	return errors.Join(errs...)
}

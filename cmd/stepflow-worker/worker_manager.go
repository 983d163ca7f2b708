package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Pool is the dispatcher surface the worker manager drives.
type Pool interface {
	Start(ctx context.Context) error
	Stop()
	Wait()
	InFlight() []string
}

// Sweeper is the abandoned-job recovery surface the worker manager drives.
type Sweeper interface {
	Start(ctx context.Context) error
	Stop()
}

// WorkerManager runs the dispatcher and the sweeper until a shutdown signal arrives,
// then drains in-flight jobs.
type WorkerManager struct {
	id      string
	pool    Pool
	sweeper Sweeper
	signals chan os.Signal
	logger  *slog.Logger
}

func NewWorkerManager(id string, pool Pool, sweeper Sweeper, logger *slog.Logger) *WorkerManager {
	return &WorkerManager{
		id:      id,
		pool:    pool,
		sweeper: sweeper,
		signals: make(chan os.Signal, 1),
		logger:  logger.With("module", "worker_manager"),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	err := w.sweeper.Start(ctx)
	if err != nil {
		return err
	}

	defer w.sweeper.Stop()

	signal.Notify(w.signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(w.signals)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-w.signals:
			w.logger.InfoContext(ctx, "Received shutdown signal", "signal", sig.String())
			w.pool.Stop()
		case <-loopCtx.Done():
		}
	}()

	err = w.pool.Start(loopCtx)

	w.logger.InfoContext(ctx, "Waiting for in-flight jobs", "in_flight", len(w.pool.InFlight()))
	w.pool.Wait()
	w.logger.InfoContext(ctx, "Worker manager stopped")

	return err
}

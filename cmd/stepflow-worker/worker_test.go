package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/dispatcher"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence/file"
	"github.com/dukex/stepflow/pkg/registry"
	"github.com/dukex/stepflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJobs = `
name: fetch
steps:
  - id: fetch
    type: api
    next_step_id: shape
    config:
      url: https://api.example.com/users
      method: GET
  - id: shape
    type: transform
    config:
      transform: '{"count": {{ len . }}}'
---
name: single
steps:
  - id: only
    type: transform
    config:
      transform: '{}'
`

const cyclicJob = `
name: loop
steps:
  - id: a
    type: transform
    next_step_id: a
    config:
      transform: '{}'
`

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestSubmitFiles(t *testing.T) {
	t.Parallel()

	store, err := file.NewStore(t.TempDir())
	require.NoError(t, err)

	jobs := services.NewJobs(store, registry.NewDefaultRegistry(discardLogger()))

	var out bytes.Buffer

	err = submitFiles(t.Context(), &out, jobs, []string{writeFile(t, "jobs.yaml", validJobs)})
	require.NoError(t, err)

	queued, err := jobs.List(t.Context(), string(models.JobStatusPending))
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	for _, job := range queued {
		assert.Contains(t, out.String(), job.ID)
	}
}

func TestSubmitFiles_RequiresFiles(t *testing.T) {
	t.Parallel()

	err := submitFiles(t.Context(), &bytes.Buffer{}, services.NewJobs(nil, nil), nil)
	assert.ErrorIs(t, err, errNoFiles)
}

func TestValidateFiles(t *testing.T) {
	t.Parallel()

	jobs := services.NewJobs(nil, registry.NewDefaultRegistry(discardLogger()))

	var out bytes.Buffer

	err := validateFiles(&out, jobs, []string{writeFile(t, "jobs.yaml", validJobs)})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2 job(s) checked")

	err = validateFiles(&out, jobs, []string{writeFile(t, "loop.yaml", cyclicJob)})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCyclicStepGraph)

	err = validateFiles(&out, jobs, []string{filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

type fakePool struct {
	mu      sync.Mutex
	stopped chan struct{}
	waited  bool
	once    sync.Once
}

func (p *fakePool) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-p.stopped:
	}

	return nil
}

func (p *fakePool) Stop() {
	p.once.Do(func() { close(p.stopped) })
}

func (p *fakePool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.waited = true
}

func (p *fakePool) InFlight() []string {
	return nil
}

type fakeSweeper struct {
	started bool
	stopped bool
}

func (s *fakeSweeper) Start(context.Context) error {
	s.started = true

	return nil
}

func (s *fakeSweeper) Stop() {
	s.stopped = true
}

func TestWorkerManager_StopsOnSignal(t *testing.T) {
	t.Parallel()

	pool := &fakePool{stopped: make(chan struct{})}
	sweep := &fakeSweeper{}
	manager := NewWorkerManager("worker-test", pool, sweep, discardLogger())

	done := make(chan error, 1)

	go func() {
		done <- manager.Start(t.Context())
	}()

	manager.signals <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker manager did not stop")
	}

	assert.True(t, pool.waited)
	assert.True(t, sweep.started)
	assert.True(t, sweep.stopped)
}

type recordingSubscriber struct {
	handlers   map[events.EventType]eventbus.EventHandler
	subscribed bool
}

func (s *recordingSubscriber) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	s.handlers[eventType] = handler

	return nil
}

func (s *recordingSubscriber) Subscribe(context.Context) error {
	s.subscribed = true

	return nil
}

func TestWatch_HandlesEveryLifecycleEvent(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&logs, nil))
	subscriber := &recordingSubscriber{handlers: map[events.EventType]eventbus.EventHandler{}}

	require.NoError(t, watch(t.Context(), subscriber, logger))
	assert.True(t, subscriber.subscribed)
	assert.Len(t, subscriber.handlers, len(watchedEvents))

	failed := &events.JobFailed{
		BaseEvent: events.NewBaseEvent(events.JobFailedEvent, "job-1", "worker-1"),
		StepID:    "fetch",
		Error:     "boom",
	}

	require.NoError(t, subscriber.handlers[events.JobFailedEvent](t.Context(), failed))
	assert.Contains(t, logs.String(), "Job failed")
	assert.Contains(t, logs.String(), "job-1")
}

func TestStepTimeout_ZeroDisablesTheCheck(t *testing.T) {
	t.Parallel()

	config := dispatcher.Config{Concurrency: 1, Timeout: stepTimeout(0)}.WithDefaults()
	require.NoError(t, config.Validate())
	assert.Zero(t, config.StepTimeout())

	config = dispatcher.Config{Concurrency: 1, Timeout: stepTimeout(time.Minute)}.WithDefaults()
	assert.Equal(t, time.Minute, config.StepTimeout())
}

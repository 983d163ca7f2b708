package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/stepflow/pkg/channels/gochannel"
	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	defer func() {
		_ = bus.Close()
	}()

	received := make(chan *events.StepFailed, 1)

	require.NoError(t, bus.Handle(events.StepFailedEvent, func(_ context.Context, event any) error {
		failed, ok := event.(*events.StepFailed)
		assert.True(t, ok)
		received <- failed

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// Unhandled event types are acknowledged and dropped.
	require.NoError(t, bus.Publish(ctx, "job-1", events.JobStarted{
		BaseEvent: events.NewBaseEvent(events.JobStartedEvent, "job-1", ""),
	}))

	require.NoError(t, bus.Publish(ctx, "job-1", events.StepFailed{
		BaseEvent: events.NewBaseEvent(events.StepFailedEvent, "job-1", "worker-1"),
		StepID:    "fetch",
		StepType:  "api",
		Error:     "boom",
	}))

	select {
	case event := <-received:
		assert.Equal(t, "job-1", event.JobID)
		assert.Equal(t, "fetch", event.StepID)
		assert.Equal(t, "boom", event.Error)
		assert.Equal(t, "worker-1", event.WorkerID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	err := eventbus.NopPublisher{}.Publish(context.Background(), "job", events.JobFailed{})
	assert.NoError(t, err)
}

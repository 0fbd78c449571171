package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvio/approvio/pkg/channels/gochannel"
	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ApplicationSubmitted, 1)

	require.NoError(t, bus.Handle(events.ApplicationSubmittedEvent, func(_ context.Context, event any) error {
		submitted, ok := event.(*events.ApplicationSubmitted)
		require.True(t, ok)
		received <- submitted

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	base := events.NewBaseEvent(events.ApplicationSubmittedEvent, "app-1")
	base.WorkflowID = "wf-1"
	base.SubjectID = "subject-1"

	require.NoError(t, bus.Publish(ctx, "app-1", events.ApplicationSubmitted{
		BaseEvent: base,
		StageID:   "stage-1",
		LevelID:   "level-1",
	}))

	select {
	case submitted := <-received:
		assert.Equal(t, "app-1", submitted.ApplicationID)
		assert.Equal(t, "wf-1", submitted.WorkflowID)
		assert.Equal(t, "stage-1", submitted.StageID)
		assert.Equal(t, events.ApplicationSubmittedEvent, submitted.GetType())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnhandledEventTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.ApplicationCancelledEvent, func(context.Context, any) error {
		received <- struct{}{}

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler for approvals; the message is dropped, not requeued.
	require.NoError(t, bus.Publish(ctx, "app-1", events.ApplicationApproved{
		BaseEvent: events.NewBaseEvent(events.ApplicationApprovedEvent, "app-1"),
	}))

	require.NoError(t, bus.Publish(ctx, "app-1", events.ApplicationCancelled{
		BaseEvent: events.NewBaseEvent(events.ApplicationCancelledEvent, "app-1"),
		Reason:    "cleanup",
	}))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_PublishReachesSubscribers(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()

	var seen []Event
	dispatcher.Subscribe(EventUserLoggedIn, func(_ context.Context, event Event) error {
		seen = append(seen, event)
		return nil
	})

	err := dispatcher.Publish(context.Background(), Event{Type: EventUserLoggedIn, UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "user-1", seen[0].UserID)
}

func TestDispatcher_UnrelatedTypeNotDelivered(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()

	called := false
	dispatcher.Subscribe(EventUserLoggedOut, func(context.Context, Event) error {
		called = true
		return nil
	})

	require.NoError(t, dispatcher.Publish(context.Background(), Event{Type: EventUserLoggedIn}))
	assert.False(t, called)
}

func TestDispatcher_HandlerErrorDoesNotStopOthers(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()

	reached := false
	dispatcher.Subscribe(EventRefreshReplay, func(context.Context, Event) error {
		return errors.New("boom")
	})
	dispatcher.Subscribe(EventRefreshReplay, func(context.Context, Event) error {
		reached = true
		return nil
	})

	require.NoError(t, dispatcher.Publish(context.Background(), Event{Type: EventRefreshReplay}))
	assert.True(t, reached)
}

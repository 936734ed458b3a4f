package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingocrowd/core/internal/utils"
)

func TestHub_PublishReachesSubscribers(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := NewSubscriber(utils.NewSixID())
	bob := NewSubscriber(utils.NewSixID())
	channel := ConversationChannel(utils.NewSixID())

	require.NoError(t, hub.Subscribe(ctx, channel, alice))
	require.NoError(t, hub.Subscribe(ctx, channel, bob))

	ev, err := NewEvent(EventMessage, map[string]string{"content": "hola"})
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, channel, ev))

	assert.Equal(t, EventMessage, (<-alice.Events()).Type)
	assert.Equal(t, EventMessage, (<-bob.Events()).Type)
}

func TestHub_Presence(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	userID := utils.NewSixID()
	sub := NewSubscriber(userID)
	channel := UserChannel(userID)

	present, err := hub.IsSubscriberPresent(ctx, userID, channel)
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, hub.Subscribe(ctx, channel, sub))
	present, _ = hub.IsSubscriberPresent(ctx, userID, channel)
	assert.True(t, present)

	other, _ := hub.IsSubscriberPresent(ctx, utils.NewSixID(), channel)
	assert.False(t, other)

	hub.Unsubscribe(ctx, channel, sub)
	present, _ = hub.IsSubscriberPresent(ctx, userID, channel)
	assert.False(t, present)
	assert.Equal(t, 0, hub.SubscriberCount(channel))
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	sub := NewSubscriber(utils.NewSixID())
	channel := "conversation:slow"
	require.NoError(t, hub.Subscribe(ctx, channel, sub))

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, channel, Event{Type: EventMessage}))
	}
	assert.Len(t, sub.events, subscriberBuffer)
}

func TestHub_ConcurrentSubscribeAndPublish(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	channel := "conversation:busy"

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := NewSubscriber(utils.NewSixID())
			_ = hub.Subscribe(ctx, channel, sub)
			hub.Unsubscribe(ctx, channel, sub)
		}()
		go func() {
			defer wg.Done()
			_ = hub.Publish(ctx, channel, Event{Type: EventUnreadCount})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.SubscriberCount(channel))
}

func TestSubscriber_CloseIsIdempotent(t *testing.T) {
	sub := NewSubscriber(utils.NewSixID())
	sub.Close()
	sub.Close()
	_, open := <-sub.Events()
	assert.False(t, open)
}

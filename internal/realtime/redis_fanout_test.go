package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingocrowd/core/internal/utils"
)

func TestRedisFanout_PresencePerConnection(t *testing.T) {
	ctx := context.Background()
	fanout := NewRedisFanout(NewHub(), utils.SetupTestRedis(t))
	userID := utils.NewSixID()
	channel := ConversationChannel(utils.NewSixID())

	first := NewSubscriber(userID)
	second := NewSubscriber(userID)
	require.NoError(t, fanout.Subscribe(ctx, channel, first))
	require.NoError(t, fanout.Subscribe(ctx, channel, second))

	fanout.Unsubscribe(ctx, channel, first)
	present, err := fanout.IsSubscriberPresent(ctx, userID, channel)
	require.NoError(t, err)
	assert.True(t, present, "the second tab is still open")

	fanout.Unsubscribe(ctx, channel, second)
	present, err = fanout.IsSubscriberPresent(ctx, userID, channel)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRedisFanout_UnrenewedPresenceExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	fanout := NewRedisFanout(NewHub(), utils.SetupTestRedis(t))
	fanout.now = func() time.Time { return now }
	userID := utils.NewSixID()
	channel := UserChannel(userID)

	// Subscribed on an instance that then died without unsubscribing.
	crashed := NewSubscriber(userID)
	require.NoError(t, fanout.Subscribe(ctx, channel, crashed))
	live := NewSubscriber(userID)
	require.NoError(t, fanout.Subscribe(ctx, channel, live))

	now = now.Add(presenceTTL - time.Second)
	require.NoError(t, fanout.Touch(ctx, channel, live))

	now = now.Add(2 * time.Second)
	present, err := fanout.IsSubscriberPresent(ctx, userID, channel)
	require.NoError(t, err)
	assert.True(t, present, "the renewed connection still counts")

	now = now.Add(presenceTTL)
	present, err = fanout.IsSubscriberPresent(ctx, userID, channel)
	require.NoError(t, err)
	assert.False(t, present, "nobody renewed presence in time")
}

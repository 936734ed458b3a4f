package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"lingocrowd/core/internal/utils"
)

const (
	pubsubPrefix   = "fanout:"
	presencePrefix = "presence:"
	// Three missed stream heartbeats.
	presenceTTL = 75 * time.Second
)

// RedisFanout shares live delivery and presence between API instances. Presence is a
// sorted set per channel and user holding one member per open connection, scored by
// the time that connection's presence runs out. Streams push the deadline forward on
// every heartbeat, so connections of an instance that died stop counting on their own.
// Events travel over Redis pub/sub and are handed to the local Hub by Listen.
type RedisFanout struct {
	hub *Hub
	rdb *redis.Client
	now func() time.Time
}

// NewRedisFanout wraps hub with a Redis bridge.
func NewRedisFanout(hub *Hub, rdb *redis.Client) *RedisFanout {
	return &RedisFanout{hub: hub, rdb: rdb, now: time.Now}
}

func presenceKey(channel string, userID utils.SixID) string {
	return presencePrefix + channel + ":" + userID.String()
}

func (f *RedisFanout) Subscribe(ctx context.Context, channel string, sub *Subscriber) error {
	if err := f.hub.Subscribe(ctx, channel, sub); err != nil {
		return err
	}
	if err := f.Touch(ctx, channel, sub); err != nil {
		f.hub.Unsubscribe(ctx, channel, sub)
		return err
	}
	return nil
}

// Touch renews the presence deadline of sub and drops members whose deadline passed.
func (f *RedisFanout) Touch(ctx context.Context, channel string, sub *Subscriber) error {
	key := presenceKey(channel, sub.UserID)
	now := f.now()
	pipe := f.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Add(presenceTTL).UnixMilli()), Member: sub.ID})
	pipe.PExpire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence on %s: %w", channel, err)
	}
	return nil
}

func (f *RedisFanout) Unsubscribe(ctx context.Context, channel string, sub *Subscriber) {
	f.hub.Unsubscribe(ctx, channel, sub)
	if err := f.rdb.ZRem(ctx, presenceKey(channel, sub.UserID), sub.ID).Err(); err != nil {
		log.Printf("realtime: failed to clear presence of %s on %s: %v", sub.UserID, channel, err)
	}
}

// Publish sends ev to every instance, including this one, through Redis.
func (f *RedisFanout) Publish(ctx context.Context, channel string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := f.rdb.Publish(ctx, pubsubPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", channel, err)
	}
	return nil
}

// IsSubscriberPresent reports whether userID has a connection on channel whose
// presence deadline has not passed.
func (f *RedisFanout) IsSubscriberPresent(ctx context.Context, userID utils.SixID, channel string) (bool, error) {
	live := "(" + strconv.FormatInt(f.now().UnixMilli(), 10)
	n, err := f.rdb.ZCount(ctx, presenceKey(channel, userID), live, "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("failed to read presence on %s: %w", channel, err)
	}
	return n > 0, nil
}

// Listen relays Redis pub/sub messages to local subscribers until ctx is done.
func (f *RedisFanout) Listen(ctx context.Context) error {
	pubsub := f.rdb.PSubscribe(ctx, pubsubPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to fanout channels: %w", err)
	}
	log.Println("Subscribed to Redis fanout channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("realtime: dropping malformed event on %s: %v", msg.Channel, err)
				continue
			}
			f.hub.deliver(strings.TrimPrefix(msg.Channel, pubsubPrefix), ev)
		}
	}
}

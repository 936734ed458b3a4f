package realtime

import (
	"context"
	"log"
	"sync"

	"lingocrowd/core/internal/utils"
)

const subscriberBuffer = 32

// Subscriber is one live connection (an SSE stream) for one user.
type Subscriber struct {
	ID     string
	UserID utils.SixID
	events chan Event
	once   sync.Once
}

// NewSubscriber creates a subscriber with a buffered event queue.
func NewSubscriber(userID utils.SixID) *Subscriber {
	return &Subscriber{ID: utils.NewSixID().String(), UserID: userID, events: make(chan Event, subscriberBuffer)}
}

// Events is closed once the subscriber has been removed from every channel by Close.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close stops delivery to the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.events) })
}

// Hub is the in-process subscriber registry. It is safe for concurrent use and lives
// for the lifetime of the server.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(_ context.Context, channel string, sub *Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(_ context.Context, channel string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// Touch is a no-op: local presence lasts as long as the subscription.
func (h *Hub) Touch(context.Context, string, *Subscriber) error {
	return nil
}

// Publish delivers ev to every local subscriber of channel. A subscriber whose queue is
// full misses the event.
func (h *Hub) Publish(_ context.Context, channel string, ev Event) error {
	h.deliver(channel, ev)
	return nil
}

func (h *Hub) deliver(channel string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.channels[channel] {
		select {
		case sub.events <- ev:
			delivered++
		default:
			log.Printf("realtime: dropping %s event for slow subscriber %s on %s", ev.Type, sub.UserID, channel)
		}
	}
	return delivered
}

func (h *Hub) IsSubscriberPresent(_ context.Context, userID utils.SixID, channel string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.channels[channel] {
		if sub.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// SubscriberCount returns the number of local subscribers of channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

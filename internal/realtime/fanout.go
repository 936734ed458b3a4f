package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"lingocrowd/core/internal/utils"
)

// Event is one message pushed to subscribers of a channel.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event of the given type.
func NewEvent(eventType string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{Type: eventType, Data: raw}, nil
}

// Event types published by the negotiation and funding flows.
const (
	EventMessage            = "message"
	EventOfferAccepted      = "offer_accepted"
	EventOfferRejected      = "offer_rejected"
	EventConversationClosed = "conversation_closed"
	EventParticipantLeft    = "participant_left"
	EventUnreadCount        = "unread_count"
	EventNotification       = "notification"
)

// Fanout is the publish-to-subscriber interface used for live delivery.
// Delivery is best effort: Publish succeeding does not mean anybody received the event.
type Fanout interface {
	Subscribe(ctx context.Context, channel string, sub *Subscriber) error
	Unsubscribe(ctx context.Context, channel string, sub *Subscriber)
	// Touch keeps sub present on channel; streams call it on every heartbeat.
	Touch(ctx context.Context, channel string, sub *Subscriber) error
	Publish(ctx context.Context, channel string, ev Event) error
	IsSubscriberPresent(ctx context.Context, userID utils.SixID, channel string) (bool, error)
}

// ConversationChannel carries message, offer and closure events of one conversation.
func ConversationChannel(conversationID utils.SixID) string {
	return "conversation:" + conversationID.String()
}

// UserChannel carries unread counters and cross-cutting notifications of one user.
func UserChannel(userID utils.SixID) string {
	return "user:" + userID.String()
}

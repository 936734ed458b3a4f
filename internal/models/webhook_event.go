package models

import "time"

// WebhookEvent records a verified payment-provider event by its provider id.
// A record with ProcessedAt set is never applied again.
type WebhookEvent struct {
	Base            `bson:",inline"`
	ProviderEventID string     `bson:"provider_event_id" json:"provider_event_id"`
	Type            string     `bson:"type" json:"type"`
	Payload         []byte     `bson:"payload" json:"-"`
	Attempts        int        `bson:"attempts" json:"attempts"`
	ReceivedAt      time.Time  `bson:"received_at" json:"received_at"`
	ProcessedAt     *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	ProcessingError string     `bson:"processing_error,omitempty" json:"processing_error,omitempty"`
}

// Setting is a runtime-tunable platform setting.
type Setting struct {
	Key    string      `bson:"key" json:"key"`
	Value  interface{} `bson:"value" json:"value"`
	Public bool        `bson:"public" json:"public"`
}

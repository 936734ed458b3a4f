package models

import (
	"time"

	"lingocrowd/core/internal/utils"
)

type NotificationType string

const (
	NotifyNewRequest        NotificationType = "new_request"
	NotifyNewMessage        NotificationType = "new_message"
	NotifyConversationLeft  NotificationType = "conversation_left"
	NotifyRequestCancelled  NotificationType = "request_cancelled"
	NotifyOfferAccepted     NotificationType = "offer_accepted"
	NotifyOfferRejected     NotificationType = "offer_rejected"
	NotifyNewPledge         NotificationType = "new_pledge"
	NotifyProjectFunded     NotificationType = "project_funded"
	NotifyConfirmCompletion NotificationType = "confirm_completion"
	NotifyPayoutSent        NotificationType = "payout_sent"
	NotifyPledgeRefunded    NotificationType = "pledge_refunded"
	NotifyRequestReopened   NotificationType = "request_reopened"
	NotifyProjectOnHold     NotificationType = "project_on_hold"
	NotifyNewVideo          NotificationType = "new_video"
	NotifyAccountUpdated    NotificationType = "account_updated"
	NotifyRequestClaimed    NotificationType = "request_claimed"
)

// Notification is a persisted, per-user feed entry.
type Notification struct {
	Base      `bson:",inline"`
	UserID    utils.SixID      `bson:"user_id" json:"user_id"`
	Type      NotificationType `bson:"type" json:"type"`
	Content   string           `bson:"content" json:"content"`
	Link      string           `bson:"link,omitempty" json:"link,omitempty"`
	IsRead    bool             `bson:"is_read" json:"is_read"`
	CreatedAt time.Time        `bson:"created_at" json:"created_at"`
}

package models

import (
	"time"

	"lingocrowd/core/internal/utils"
)

type PledgeStatus string

const (
	PledgePending  PledgeStatus = "PENDING"
	PledgeCaptured PledgeStatus = "CAPTURED"
	PledgeRefunded PledgeStatus = "REFUNDED"
)

// Pledge is a student's funding commitment to a project. Amount never changes after creation.
type Pledge struct {
	Base              `bson:",inline"`
	ProjectID         utils.SixID  `bson:"project_id" json:"project_id"`
	StudentID         utils.SixID  `bson:"student_id" json:"student_id"`
	Amount            int64        `bson:"amount" json:"amount"` // cents
	Currency          string       `bson:"currency" json:"currency"`
	Status            PledgeStatus `bson:"status" json:"status"`
	CheckoutSessionID string       `bson:"checkout_session_id" json:"-"`
	PaymentIntentID   string       `bson:"payment_intent_id,omitempty" json:"-"`
	CreatedAt         time.Time    `bson:"created_at" json:"created_at"`
	CapturedAt        *time.Time   `bson:"captured_at,omitempty" json:"captured_at,omitempty"`
	RefundedAt        *time.Time   `bson:"refunded_at,omitempty" json:"refunded_at,omitempty"`
	CheckoutExpiredAt *time.Time   `bson:"checkout_expired_at,omitempty" json:"-"`
}

package models

import (
	"time"

	"lingocrowd/core/internal/utils"
)

type ProjectStatus string

const (
	ProjectDraft               ProjectStatus = "DRAFT"
	ProjectFunding             ProjectStatus = "FUNDING"
	ProjectSuccessful          ProjectStatus = "SUCCESSFUL"
	ProjectPendingConfirmation ProjectStatus = "PENDING_CONFIRMATION"
	ProjectCompleted           ProjectStatus = "COMPLETED"
	ProjectCancelled           ProjectStatus = "CANCELLED"
	ProjectOnHold              ProjectStatus = "ON_HOLD"
)

// IsTerminal reports COMPLETED and CANCELLED.
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectCompleted || s == ProjectCancelled
}

// Project is the fundable unit. Money fields are integer cents.
type Project struct {
	Base            `bson:",inline"`
	TeacherID       utils.SixID   `bson:"teacher_id" json:"teacher_id"`
	Title           string        `bson:"title" json:"title"`
	Description     string        `bson:"description" json:"description"`
	Language        string        `bson:"language,omitempty" json:"language,omitempty"`
	Level           string        `bson:"level,omitempty" json:"level,omitempty"`
	FundingGoal     int64         `bson:"funding_goal" json:"funding_goal"`
	CurrentFunding  int64         `bson:"current_funding" json:"current_funding"`
	IsSeries        bool          `bson:"is_series" json:"is_series"`
	PricePerVideo   int64         `bson:"price_per_video,omitempty" json:"price_per_video,omitempty"`
	NumVideos       int           `bson:"num_videos,omitempty" json:"num_videos,omitempty"`
	Status          ProjectStatus `bson:"status" json:"status"`
	OriginRequestID *utils.SixID  `bson:"origin_request_id,omitempty" json:"origin_request_id,omitempty"`

	StripeTransferID string       `bson:"stripe_transfer_id,omitempty" json:"stripe_transfer_id,omitempty"`
	PayoutAmount     int64        `bson:"payout_amount,omitempty" json:"payout_amount,omitempty"`
	PlatformFee      int64        `bson:"platform_fee,omitempty" json:"platform_fee,omitempty"`
	PayoutClaimedAt  *time.Time   `bson:"payout_claimed_at,omitempty" json:"-"`
	PayoutClaimedBy  *utils.SixID `bson:"payout_claimed_by,omitempty" json:"-"`
	FundingAnomaly   bool         `bson:"funding_anomaly,omitempty" json:"-"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// RequiredVideoCount is the number of delivered videos needed before completion.
func (p *Project) RequiredVideoCount() int {
	if p.IsSeries {
		return p.NumVideos
	}
	return 1
}

// Video is a delivered or demo video stored in object storage.
type Video struct {
	Base      `bson:",inline"`
	ProjectID utils.SixID `bson:"project_id" json:"project_id"`
	TeacherID utils.SixID `bson:"teacher_id" json:"teacher_id"`
	Title     string      `bson:"title" json:"title"`
	ObjectKey string      `bson:"object_key" json:"object_key"`
	URL       string      `bson:"url" json:"url"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}

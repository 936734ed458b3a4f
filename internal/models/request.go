package models

import (
	"time"

	"lingocrowd/core/internal/utils"
)

type RequestStatus string

const (
	RequestOpen        RequestStatus = "OPEN"
	RequestNegotiating RequestStatus = "NEGOTIATING"
	RequestAccepted    RequestStatus = "ACCEPTED"
	RequestRejected    RequestStatus = "REJECTED"
	RequestCancelled   RequestStatus = "CANCELLED"
)

// ActiveRequestStatuses are the statuses in which a request can still be negotiated.
var ActiveRequestStatuses = []RequestStatus{RequestOpen, RequestNegotiating}

// IsActive reports whether teachers can still engage with the request.
func (s RequestStatus) IsActive() bool {
	return s == RequestOpen || s == RequestNegotiating
}

// Request is a student's ask for content.
type Request struct {
	Base            `bson:",inline"`
	StudentID       utils.SixID   `bson:"student_id" json:"student_id"`
	Title           string        `bson:"title" json:"title"`
	Description     string        `bson:"description" json:"description"`
	Language        string        `bson:"language" json:"language"`
	Level           string        `bson:"level" json:"level"`
	Budget          int64         `bson:"budget" json:"budget"` // cents
	TargetTeacherID *utils.SixID  `bson:"target_teacher_id,omitempty" json:"target_teacher_id,omitempty"`
	IsPrivate       bool          `bson:"is_private" json:"is_private"`
	Status          RequestStatus `bson:"status" json:"status"`
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updated_at"`
}

type BlacklistReason string

const (
	BlacklistOfferRejected    BlacklistReason = "offer_rejected"
	BlacklistLeftConversation BlacklistReason = "left_conversation"
	BlacklistProjectCancelled BlacklistReason = "project_cancelled"
)

// RequestBlacklist permanently excludes one teacher from one request. Entries are never deleted.
type RequestBlacklist struct {
	Base      `bson:",inline"`
	RequestID utils.SixID     `bson:"request_id" json:"request_id"`
	TeacherID utils.SixID     `bson:"teacher_id" json:"teacher_id"`
	Reason    BlacklistReason `bson:"reason" json:"reason"`
	CreatedAt time.Time       `bson:"created_at" json:"created_at"`
}

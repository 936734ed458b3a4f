package models

import (
	"time"

	"lingocrowd/core/internal/utils"
)

type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "OPEN"
	ConversationClosed ConversationStatus = "CLOSED"
)

// Conversation is the negotiation channel between one teacher and the request's student.
type Conversation struct {
	Base          `bson:",inline"`
	RequestID     utils.SixID        `bson:"request_id" json:"request_id"`
	StudentID     utils.SixID        `bson:"student_id" json:"student_id"`
	TeacherID     utils.SixID        `bson:"teacher_id" json:"teacher_id"`
	Status        ConversationStatus `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	LastMessageAt time.Time          `bson:"last_message_at" json:"last_message_at"`
}

// HasParticipant reports whether userID is the student or the teacher.
func (c *Conversation) HasParticipant(userID utils.SixID) bool {
	return c.StudentID == userID || c.TeacherID == userID
}

// OtherParty returns the participant that is not userID.
func (c *Conversation) OtherParty(userID utils.SixID) utils.SixID {
	if c.StudentID == userID {
		return c.TeacherID
	}
	return c.StudentID
}

type MessageType string

const (
	MessageText        MessageType = "TEXT"
	MessageOffer       MessageType = "OFFER"
	MessageDemoRequest MessageType = "DEMO_REQUEST"
	MessageDemoVideo   MessageType = "DEMO_VIDEO"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "PENDING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferRejected OfferStatus = "REJECTED"
)

// Offer is the project proposal carried by an OFFER message.
type Offer struct {
	Title         string      `bson:"title" json:"title"`
	Description   string      `bson:"description" json:"description"`
	Price         int64       `bson:"price" json:"price"` // cents, derived for series
	IsSeries      bool        `bson:"is_series" json:"is_series"`
	PricePerVideo int64       `bson:"price_per_video,omitempty" json:"price_per_video,omitempty"`
	NumVideos     int         `bson:"num_videos,omitempty" json:"num_videos,omitempty"`
	Status        OfferStatus `bson:"status" json:"status"`
}

// Message is immutable once sent apart from IsRead and ReplyToID.
type Message struct {
	Base           `bson:",inline"`
	ConversationID utils.SixID  `bson:"conversation_id" json:"conversation_id"`
	SenderID       utils.SixID  `bson:"sender_id" json:"sender_id"`
	Type           MessageType  `bson:"message_type" json:"message_type"`
	Content        string       `bson:"content" json:"content"`
	IsSystem       bool         `bson:"is_system" json:"is_system"`
	IsRead         bool         `bson:"is_read" json:"is_read"`
	ReplyToID      *utils.SixID `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	Offer          *Offer       `bson:"offer,omitempty" json:"offer,omitempty"`
	VideoURL       string       `bson:"video_url,omitempty" json:"video_url,omitempty"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
}

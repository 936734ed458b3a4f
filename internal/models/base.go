package models

import (
	"lingocrowd/core/internal/utils"
)

type IBase interface {
	GenIDIfEmpty()
	GenID()
	SetID(id utils.SixID)
}

type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

func (m *Base) SetID(id utils.SixID) {
	m.ID = id
}

func NewBase() Base {
	return Base{
		ID: utils.NewSixID(),
	}
}

// Collection names.
const (
	UsersCollection            = "users"
	RequestsCollection         = "requests"
	RequestBlacklistCollection = "request_blacklist"
	ConversationsCollection    = "conversations"
	MessagesCollection         = "messages"
	ProjectsCollection         = "projects"
	PledgesCollection          = "pledges"
	NotificationsCollection    = "notifications"
	VideosCollection           = "videos"
	VideoCommentsCollection    = "video_comments"
	RatingsCollection          = "project_ratings"
	WebhookEventsCollection    = "webhook_events"
	SettingsCollection         = "settings"
)

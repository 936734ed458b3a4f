package models

import (
	"time"

	"lingocrowd/core/internal/utils"
)

// ProjectRating is a backer's 1-5 verdict on a completed project, one per backer.
type ProjectRating struct {
	Base      `bson:",inline"`
	ProjectID utils.SixID `bson:"project_id" json:"project_id"`
	UserID    utils.SixID `bson:"user_id" json:"user_id"`
	Rating    int         `bson:"rating" json:"rating"`
	Comment   string      `bson:"comment,omitempty" json:"comment,omitempty"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UserName  string      `bson:"-" json:"user_name,omitempty"`
}

// VideoComment is a public remark under a delivered video.
type VideoComment struct {
	Base      `bson:",inline"`
	VideoID   utils.SixID `bson:"video_id" json:"video_id"`
	UserID    utils.SixID `bson:"user_id" json:"user_id"`
	Content   string      `bson:"content" json:"content"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UserName  string      `bson:"-" json:"user_name,omitempty"`
}

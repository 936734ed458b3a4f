package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/utils"
)

const defaultNotificationLimit = 50

// INotificationService is the per-user notification feed.
type INotificationService interface {
	Create(ctx context.Context, userID utils.SixID, nt models.NotificationType, content, link string) (*models.Notification, error)
	FindByID(ctx context.Context, id utils.SixID) (*models.Notification, error)
	ListForUser(ctx context.Context, userID utils.SixID, unreadOnly bool, limit int64) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID utils.SixID) (int64, error)
	MarkRead(ctx context.Context, actor models.Actor, id utils.SixID) error
	MarkAllRead(ctx context.Context, userID utils.SixID) (int64, error)
}

type notificationService struct {
	db *mongo.Database
	d  *Dispatcher
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(database *mongo.Database, d *Dispatcher) INotificationService {
	return &notificationService{db: database, d: d}
}

// insertNotification writes one notification. ctx may be a transaction's SessionContext.
func insertNotification(ctx context.Context, database *mongo.Database, userID utils.SixID, nt models.NotificationType, content, link string) (*models.Notification, error) {
	n := &models.Notification{
		UserID:    userID,
		Type:      nt,
		Content:   content,
		Link:      link,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertOne(ctx, database.Collection(models.NotificationsCollection), n); err != nil {
		return nil, fmt.Errorf("failed to insert %s notification for %s: %w", nt, userID, err)
	}
	return n, nil
}

// Create inserts and announces a standalone notification.
func (s *notificationService) Create(ctx context.Context, userID utils.SixID, nt models.NotificationType, content, link string) (*models.Notification, error) {
	n, err := insertNotification(ctx, s.db, userID, nt, content, link)
	if err != nil {
		return nil, err
	}
	s.d.announce(ctx, n)
	return n, nil
}

func (s *notificationService) FindByID(ctx context.Context, id utils.SixID) (*models.Notification, error) {
	var n models.Notification
	err := s.db.Collection(models.NotificationsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("notification")
		}
		return nil, fmt.Errorf("error finding notification %s: %w", id, err)
	}
	return &n, nil
}

// ListForUser returns the newest notifications first.
func (s *notificationService) ListForUser(ctx context.Context, userID utils.SixID, unreadOnly bool, limit int64) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	filter := bson.M{"user_id": userID}
	if unreadOnly {
		filter["is_read"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).SetLimit(limit)
	cursor, err := s.db.Collection(models.NotificationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for %s: %w", userID, err)
	}
	notifications := []models.Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications for %s: %w", userID, err)
	}
	return notifications, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID utils.SixID) (int64, error) {
	n, err := s.db.Collection(models.NotificationsCollection).CountDocuments(ctx, bson.M{"user_id": userID, "is_read": false})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications for %s: %w", userID, err)
	}
	return n, nil
}

// MarkRead marks one notification read. Only its recipient may do this.
func (s *notificationService) MarkRead(ctx context.Context, actor models.Actor, id utils.SixID) error {
	n, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.Is(n.UserID) {
		return forbidden("mark this notification read")
	}
	if n.IsRead {
		return nil
	}
	_, err = s.db.Collection(models.NotificationsCollection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID utils.SixID) (int64, error) {
	res, err := s.db.Collection(models.NotificationsCollection).UpdateMany(ctx,
		bson.M{"user_id": userID, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications of %s read: %w", userID, err)
	}
	return res.ModifiedCount, nil
}

package services

import (
	"context"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/utils"
)

// TaskEnqueuer queues background work. Implemented by the asynq client wrapper in
// internal/tasks.
type TaskEnqueuer interface {
	EnqueueNotificationEmail(ctx context.Context, notificationID utils.SixID) error
	EnqueueRefundRetry(ctx context.Context, pledgeID utils.SixID) error
}

type channelEvent struct {
	channel string
	event   realtime.Event
}

// afterCommit collects the side effects of a transaction body. Nothing in it runs until
// the transaction has committed; the body resets it on every attempt.
type afterCommit struct {
	notifications []*models.Notification
	events        []channelEvent
	refunds       []utils.SixID
}

func (a *afterCommit) reset() {
	*a = afterCommit{}
}

// notify inserts a notification inside the transaction and schedules its delivery.
func (a *afterCommit) notify(sc mongo.SessionContext, database *mongo.Database, userID utils.SixID, nt models.NotificationType, content, link string) error {
	n, err := insertNotification(sc, database, userID, nt, content, link)
	if err != nil {
		return err
	}
	a.notifications = append(a.notifications, n)
	return nil
}

func (a *afterCommit) publish(channel, eventType string, data interface{}) {
	ev, err := realtime.NewEvent(eventType, data)
	if err != nil {
		log.Printf("Failed to build %s event for %s: %v", eventType, channel, err)
		return
	}
	a.events = append(a.events, channelEvent{channel: channel, event: ev})
}

// Dispatcher performs afterCommit work: live publishes in order, then notification
// e-mails and unread counters, then refund retries.
type Dispatcher struct {
	db     *mongo.Database
	fanout realtime.Fanout
	tasks  TaskEnqueuer
}

// NewDispatcher creates a Dispatcher. fanout and tasks may be nil, which disables live
// delivery and background work respectively.
func NewDispatcher(database *mongo.Database, fanout realtime.Fanout, tasks TaskEnqueuer) *Dispatcher {
	return &Dispatcher{db: database, fanout: fanout, tasks: tasks}
}

func (d *Dispatcher) run(ctx context.Context, a *afterCommit) {
	if d.fanout != nil {
		for _, ce := range a.events {
			if err := d.fanout.Publish(ctx, ce.channel, ce.event); err != nil {
				log.Printf("Failed to publish %s on %s: %v", ce.event.Type, ce.channel, err)
			}
		}
	}
	for _, n := range a.notifications {
		d.announce(ctx, n)
	}
	for _, pledgeID := range a.refunds {
		d.queueRefundRetry(ctx, pledgeID)
	}
}

func (d *Dispatcher) queueRefundRetry(ctx context.Context, pledgeID utils.SixID) {
	if d.tasks == nil {
		log.Printf("No task queue configured; refund retry for pledge %s not queued", pledgeID)
		return
	}
	if err := d.tasks.EnqueueRefundRetry(ctx, pledgeID); err != nil {
		log.Printf("Failed to enqueue refund retry for pledge %s: %v", pledgeID, err)
	}
}

// announce pushes the recipient's unread count and queues the notification e-mail.
func (d *Dispatcher) announce(ctx context.Context, n *models.Notification) {
	if d.fanout != nil {
		count, err := d.db.Collection(models.NotificationsCollection).CountDocuments(ctx, bson.M{"user_id": n.UserID, "is_read": false})
		if err == nil {
			ev, _ := realtime.NewEvent(realtime.EventUnreadCount, map[string]int64{"notifications": count})
			if err := d.fanout.Publish(ctx, realtime.UserChannel(n.UserID), ev); err != nil {
				log.Printf("Failed to publish unread count to %s: %v", n.UserID, err)
			}
		} else {
			log.Printf("Failed to count unread notifications of %s: %v", n.UserID, err)
		}
	}
	if d.tasks != nil {
		if err := d.tasks.EnqueueNotificationEmail(ctx, n.ID); err != nil {
			log.Printf("Failed to enqueue e-mail for notification %s: %v", n.ID, err)
		}
	}
}

// isPresent answers the live-vs-persisted question. A presence lookup failure counts as
// absent so the recipient still gets a persisted notification.
func (d *Dispatcher) isPresent(ctx context.Context, userID utils.SixID, channel string) bool {
	if d.fanout == nil {
		return false
	}
	present, err := d.fanout.IsSubscriberPresent(ctx, userID, channel)
	if err != nil {
		log.Printf("Presence check for %s on %s failed: %v", userID, channel, err)
		return false
	}
	return present
}

// withTx runs fn in a transaction and dispatches its collected effects after commit.
func (d *Dispatcher) withTx(ctx context.Context, fn func(sc mongo.SessionContext, a *afterCommit) error) error {
	var a afterCommit
	err := db.WithTransaction(ctx, d.db, func(sc mongo.SessionContext) error {
		a.reset()
		return fn(sc, &a)
	})
	if err != nil {
		return err
	}
	d.run(ctx, &a)
	return nil
}

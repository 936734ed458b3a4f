package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/payments"
	"lingocrowd/core/internal/utils"
)

// IWebhookService reconciles payment-provider events with local state.
type IWebhookService interface {
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) error
	ReplayEvent(ctx context.Context, providerEventID string) error
	ListUnprocessed(ctx context.Context, limit int64) ([]models.WebhookEvent, error)
}

type webhookService struct {
	db      *mongo.Database
	d       *Dispatcher
	gateway payments.Gateway
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(database *mongo.Database, d *Dispatcher, gateway payments.Gateway) IWebhookService {
	return &webhookService{db: database, d: d, gateway: gateway}
}

// HandleWebhook verifies, records and applies one delivery. It returns ErrReplayNoop for
// deliveries that change nothing, a *WebhookError for deliveries that fail verification
// and any other error when applying failed and the provider should retry.
func (s *webhookService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	ev, err := s.gateway.ParseWebhook(rawBody, signature)
	if err != nil {
		reason := "invalid payload"
		if errors.Is(err, payments.ErrSignatureInvalid) {
			reason = "invalid signature"
		}
		return &WebhookError{Reason: reason, Err: err}
	}

	record, err := s.record(ctx, ev, rawBody)
	if err != nil {
		return err
	}
	if record.ProcessedAt != nil {
		return ErrReplayNoop
	}
	return s.process(ctx, record, ev)
}

// ReplayEvent re-applies a stored event that has not been processed yet.
func (s *webhookService) ReplayEvent(ctx context.Context, providerEventID string) error {
	var record models.WebhookEvent
	err := s.db.Collection(models.WebhookEventsCollection).FindOne(ctx, bson.M{"provider_event_id": providerEventID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return notFound("webhook event")
		}
		return fmt.Errorf("failed to load webhook event %s: %w", providerEventID, err)
	}
	if record.ProcessedAt != nil {
		return ErrReplayNoop
	}
	ev, err := s.gateway.DecodeStoredEvent(record.Payload)
	if err != nil {
		return &WebhookError{Reason: "stored payload undecodable", Err: err}
	}
	return s.process(ctx, &record, ev)
}

// ListUnprocessed returns events that were received but never applied, oldest first.
func (s *webhookService) ListUnprocessed(ctx context.Context, limit int64) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	cursor, err := s.db.Collection(models.WebhookEventsCollection).Find(ctx,
		bson.M{"processed_at": bson.M{"$exists": false}},
		options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}}).SetLimit(limit).SetProjection(bson.M{"payload": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}
	events := []models.WebhookEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode webhook events: %w", err)
	}
	return events, nil
}

// record upserts the event by provider id and counts the delivery.
func (s *webhookService) record(ctx context.Context, ev payments.Event, rawBody []byte) (*models.WebhookEvent, error) {
	var record models.WebhookEvent
	err := db.WithRetries(func() error {
		return s.db.Collection(models.WebhookEventsCollection).FindOneAndUpdate(ctx,
			bson.M{"provider_event_id": ev.ProviderEventID()},
			bson.M{
				"$setOnInsert": bson.M{
					"_id":         utils.NewSixID(),
					"type":        ev.EventType(),
					"payload":     rawBody,
					"received_at": time.Now().UTC(),
				},
				"$inc": bson.M{"attempts": 1},
			},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&record)
	}, 1, func(err error) bool {
		// Two deliveries of a new event raced on the upsert; the loser sees the winner's record.
		return db.IsDuplicateOnIndex(err, db.IndexWebhookEventID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event %s: %w", ev.ProviderEventID(), err)
	}
	return &record, nil
}

func (s *webhookService) process(ctx context.Context, record *models.WebhookEvent, ev payments.Event) error {
	err := s.apply(ctx, ev)
	coll := s.db.Collection(models.WebhookEventsCollection)
	if err == nil || errors.Is(err, ErrReplayNoop) {
		if _, markErr := coll.UpdateOne(ctx, bson.M{"_id": record.ID},
			bson.M{"$set": bson.M{"processed_at": time.Now().UTC()}, "$unset": bson.M{"processing_error": ""}}); markErr != nil {
			log.Printf("Failed to mark webhook event %s processed: %v", record.ProviderEventID, markErr)
		}
		return err
	}

	log.Printf("Webhook event %s (%s) failed: %v", record.ProviderEventID, record.Type, err)
	if _, markErr := coll.UpdateOne(ctx, bson.M{"_id": record.ID},
		bson.M{"$set": bson.M{"processing_error": err.Error()}}); markErr != nil {
		log.Printf("Failed to store error of webhook event %s: %v", record.ProviderEventID, markErr)
	}
	return err
}

func (s *webhookService) apply(ctx context.Context, ev payments.Event) error {
	switch e := ev.(type) {
	case payments.CheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, e)
	case payments.RefundCompleted:
		return s.applyRefundCompleted(ctx, e)
	case payments.AccountUpdated:
		return s.applyAccountUpdated(ctx, e)
	default:
		return ErrReplayNoop
	}
}

// applyCheckoutCompleted captures the pledge and adds it to the project's funding. A
// capture that reaches the goal moves the project to SUCCESSFUL exactly once.
func (s *webhookService) applyCheckoutCompleted(ctx context.Context, e payments.CheckoutCompleted) error {
	pledge, err := findPledgeForCapture(ctx, s.db, e.Reference, e.SessionID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			log.Printf("Checkout %s completed for unknown pledge %q", e.SessionID, e.Reference)
			return ErrReplayNoop
		}
		return err
	}
	if pledge.Status != models.PledgePending {
		return ErrReplayNoop
	}

	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		now := time.Now().UTC()
		set := bson.M{"status": models.PledgeCaptured, "captured_at": now}
		if e.PaymentIntentID != "" {
			set["payment_intent_id"] = e.PaymentIntentID
		}
		res, err := s.db.Collection(models.PledgesCollection).UpdateOne(sc,
			bson.M{"_id": pledge.ID, "status": models.PledgePending}, bson.M{"$set": set})
		if err != nil {
			return fmt.Errorf("failed to capture pledge %s: %w", pledge.ID, err)
		}
		if res.MatchedCount == 0 {
			return ErrReplayNoop
		}

		projects := s.db.Collection(models.ProjectsCollection)
		var project models.Project
		err = projects.FindOneAndUpdate(sc, bson.M{"_id": pledge.ProjectID},
			bson.M{"$inc": bson.M{"current_funding": pledge.Amount}, "$set": bson.M{"updated_at": now}},
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&project)
		if err != nil {
			return fmt.Errorf("failed to add pledge %s to project %s: %w", pledge.ID, pledge.ProjectID, err)
		}

		if project.Status == models.ProjectCancelled {
			log.Printf("Pledge %s captured on cancelled project %s, refunding", pledge.ID, project.ID)
			a.refunds = append(a.refunds, pledge.ID)
			return nil
		}

		if err := a.notify(sc, s.db, project.TeacherID, models.NotifyNewPledge,
			fmt.Sprintf("New pledge of %s for '%s'.", formatCents(pledge.Amount, pledge.Currency), project.Title), projectLink(project.ID)); err != nil {
			return err
		}

		if project.Status != models.ProjectFunding || project.CurrentFunding < project.FundingGoal {
			return nil
		}
		res, err = projects.UpdateOne(sc,
			bson.M{"_id": project.ID, "status": models.ProjectFunding},
			bson.M{"$set": bson.M{"status": models.ProjectSuccessful, "updated_at": now}})
		if err != nil {
			return fmt.Errorf("failed to mark project %s funded: %w", project.ID, err)
		}
		if res.MatchedCount == 0 {
			return nil
		}
		return a.notify(sc, s.db, project.TeacherID, models.NotifyProjectFunded,
			fmt.Sprintf("'%s' is fully funded. Time to start recording!", project.Title), projectLink(project.ID))
	})
}

// applyRefundCompleted records a refund issued at the provider, including refunds made
// from the provider's dashboard.
func (s *webhookService) applyRefundCompleted(ctx context.Context, e payments.RefundCompleted) error {
	if e.PaymentIntentID == "" {
		return ErrReplayNoop
	}
	var pledge models.Pledge
	err := s.db.Collection(models.PledgesCollection).FindOne(ctx, bson.M{"payment_intent_id": e.PaymentIntentID}).Decode(&pledge)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrReplayNoop
		}
		return fmt.Errorf("failed to find pledge for charge %s: %w", e.PaymentIntentID, err)
	}
	if pledge.Status != models.PledgeCaptured {
		return ErrReplayNoop
	}
	if e.AmountRefunded > 0 && e.AmountRefunded < pledge.Amount {
		log.Printf("Partial refund of %d on pledge %s (%d) ignored", e.AmountRefunded, pledge.ID, pledge.Amount)
		return ErrReplayNoop
	}

	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		applied, err := markPledgeRefunded(sc, s.db, &pledge)
		if err != nil {
			return err
		}
		if !applied {
			return ErrReplayNoop
		}
		return a.notify(sc, s.db, pledge.StudentID, models.NotifyPledgeRefunded,
			fmt.Sprintf("Your pledge of %s was refunded.", formatCents(pledge.Amount, pledge.Currency)), projectLink(pledge.ProjectID))
	})
}

// applyAccountUpdated syncs the teacher's capability flags. Losing charges puts every
// FUNDING project of the teacher ON_HOLD.
func (s *webhookService) applyAccountUpdated(ctx context.Context, e payments.AccountUpdated) error {
	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		before, err := syncAccountFlags(sc, s.db, e.AccountID, e.ChargesEnabled, e.PayoutsEnabled)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				return ErrReplayNoop
			}
			return err
		}
		if before.ChargesEnabled != e.ChargesEnabled || before.PayoutsEnabled != e.PayoutsEnabled {
			if err := a.notify(sc, s.db, before.ID, models.NotifyAccountUpdated,
				fmt.Sprintf("Your payout account was updated (charges %s, payouts %s).", onOff(e.ChargesEnabled), onOff(e.PayoutsEnabled)), ""); err != nil {
				return err
			}
		}
		if e.ChargesEnabled {
			return nil
		}

		projects := s.db.Collection(models.ProjectsCollection)
		cursor, err := projects.Find(sc, bson.M{"teacher_id": before.ID, "status": models.ProjectFunding})
		if err != nil {
			return fmt.Errorf("failed to list funding projects of %s: %w", before.ID, err)
		}
		var funding []models.Project
		if err := cursor.All(sc, &funding); err != nil {
			return fmt.Errorf("failed to decode funding projects of %s: %w", before.ID, err)
		}
		for _, p := range funding {
			res, err := projects.UpdateOne(sc, bson.M{"_id": p.ID, "status": models.ProjectFunding},
				bson.M{"$set": bson.M{"status": models.ProjectOnHold, "updated_at": time.Now().UTC()}})
			if err != nil {
				return fmt.Errorf("failed to put project %s on hold: %w", p.ID, err)
			}
			if res.MatchedCount == 0 {
				continue
			}
			if err := a.notify(sc, s.db, before.ID, models.NotifyProjectOnHold,
				fmt.Sprintf("'%s' is on hold until your payout account can accept charges again.", p.Title), projectLink(p.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

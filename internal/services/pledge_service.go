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

	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/payments"
	"lingocrowd/core/internal/utils"
)

// PledgeCheckout is returned to the backer, who completes payment at CheckoutURL.
type PledgeCheckout struct {
	Pledge      *models.Pledge `json:"pledge"`
	CheckoutURL string         `json:"checkout_url"`
}

// IPledgeService manages backer commitments.
type IPledgeService interface {
	InitiatePledge(ctx context.Context, actor models.Actor, projectID utils.SixID, amount int64) (*PledgeCheckout, error)
	FindByID(ctx context.Context, pledgeID utils.SixID) (*models.Pledge, error)
	ListMyPledges(ctx context.Context, actor models.Actor) ([]models.Pledge, error)
	RefundPledge(ctx context.Context, pledgeID utils.SixID) error
}

type pledgeService struct {
	db       *mongo.Database
	d        *Dispatcher
	gateway  payments.Gateway
	settings ISettingsService
	cfg      *config.Config
}

// NewPledgeService creates a PledgeService.
func NewPledgeService(database *mongo.Database, d *Dispatcher, gateway payments.Gateway, settings ISettingsService, cfg *config.Config) IPledgeService {
	return &pledgeService{db: database, d: d, gateway: gateway, settings: settings, cfg: cfg}
}

// InitiatePledge opens a hosted checkout for amount cents. The pledge is stored only
// after the gateway has accepted the checkout, so a gateway failure leaves no trace.
func (s *pledgeService) InitiatePledge(ctx context.Context, actor models.Actor, projectID utils.SixID, amount int64) (*PledgeCheckout, error) {
	if err := checkPledgeAmount(amount, s.settings.GetInt64(ctx, SettingMaxPledgeAmount, 0)); err != nil {
		return nil, err
	}
	project, err := findProject(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.ProjectFunding {
		return nil, precondition("project", string(project.Status), string(models.ProjectFunding))
	}
	if actor.Is(project.TeacherID) {
		return nil, newValidationError("project_id", "cannot back your own project")
	}

	pledge := &models.Pledge{
		Base:      models.NewBase(),
		ProjectID: project.ID,
		StudentID: actor.UserID,
		Amount:    amount,
		Currency:  s.cfg.Currency,
		Status:    models.PledgePending,
	}
	checkout, err := s.gateway.CreateCheckout(ctx, payments.CheckoutParams{
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Reference:   pledge.ID.String(),
		Description: project.Title,
		Metadata: map[string]string{
			"pledge_id":  pledge.ID.String(),
			"project_id": project.ID.String(),
		},
		SuccessURL: fmt.Sprintf("%s/projects/%s?pledge=%s", s.cfg.FrontendURL, project.ID, pledge.ID),
		CancelURL:  fmt.Sprintf("%s/projects/%s", s.cfg.FrontendURL, project.ID),
	})
	if err != nil {
		return nil, &GatewayError{Op: "create checkout", Err: err}
	}

	pledge.CheckoutSessionID = checkout.CorrelationID
	pledge.CreatedAt = time.Now().UTC()
	if _, err := s.db.Collection(models.PledgesCollection).InsertOne(ctx, pledge); err != nil {
		// The session expires unpaid; a late completion finds no pledge and is a no-op.
		return nil, fmt.Errorf("failed to insert pledge %s after checkout %s: %w", pledge.ID, checkout.CorrelationID, err)
	}
	return &PledgeCheckout{Pledge: pledge, CheckoutURL: checkout.URL}, nil
}

func (s *pledgeService) FindByID(ctx context.Context, pledgeID utils.SixID) (*models.Pledge, error) {
	return findPledge(ctx, s.db, pledgeID)
}

// ListMyPledges returns the actor's pledges, newest first.
func (s *pledgeService) ListMyPledges(ctx context.Context, actor models.Actor) ([]models.Pledge, error) {
	cursor, err := s.db.Collection(models.PledgesCollection).Find(ctx, bson.M{"student_id": actor.UserID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(200))
	if err != nil {
		return nil, fmt.Errorf("failed to list pledges of %s: %w", actor.UserID, err)
	}
	pledges := []models.Pledge{}
	if err := cursor.All(ctx, &pledges); err != nil {
		return nil, fmt.Errorf("failed to decode pledges of %s: %w", actor.UserID, err)
	}
	return pledges, nil
}

// RefundPledge refunds a CAPTURED pledge. It is what the refund retry task runs.
func (s *pledgeService) RefundPledge(ctx context.Context, pledgeID utils.SixID) error {
	pledge, err := findPledge(ctx, s.db, pledgeID)
	if err != nil {
		return err
	}
	if pledge.Status != models.PledgeCaptured {
		return precondition("pledge", string(pledge.Status), string(models.PledgeCaptured))
	}
	return refundCapturedPledge(ctx, s.db, s.d, s.gateway, pledge)
}

// refundCapturedPledge calls the gateway first and only then records the refund.
func refundCapturedPledge(ctx context.Context, database *mongo.Database, d *Dispatcher, gateway payments.Gateway, pledge *models.Pledge) error {
	if pledge.PaymentIntentID == "" {
		return precondition("pledge", "", "has no charge reference")
	}
	if err := gateway.Refund(ctx, pledge.PaymentIntentID); err != nil {
		return &GatewayError{Op: "refund", Err: err}
	}
	return d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		applied, err := markPledgeRefunded(sc, database, pledge)
		if err != nil || !applied {
			return err
		}
		return a.notify(sc, database, pledge.StudentID, models.NotifyPledgeRefunded,
			fmt.Sprintf("Your pledge of %s was refunded.", formatCents(pledge.Amount, pledge.Currency)), projectLink(pledge.ProjectID))
	})
}

// markPledgeRefunded moves a pledge CAPTURED→REFUNDED and takes its amount off the
// project's funding. It reports false when the pledge was no longer CAPTURED. A
// decrement that would take funding below zero is skipped and the project flagged.
func markPledgeRefunded(sc mongo.SessionContext, database *mongo.Database, pledge *models.Pledge) (bool, error) {
	now := time.Now().UTC()
	res, err := database.Collection(models.PledgesCollection).UpdateOne(sc,
		bson.M{"_id": pledge.ID, "status": models.PledgeCaptured},
		bson.M{"$set": bson.M{"status": models.PledgeRefunded, "refunded_at": now}})
	if err != nil {
		return false, fmt.Errorf("failed to mark pledge %s refunded: %w", pledge.ID, err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}

	projects := database.Collection(models.ProjectsCollection)
	res, err = projects.UpdateOne(sc,
		bson.M{"_id": pledge.ProjectID, "current_funding": bson.M{"$gte": pledge.Amount}},
		bson.M{"$inc": bson.M{"current_funding": -pledge.Amount}, "$set": bson.M{"updated_at": now}})
	if err != nil {
		return false, fmt.Errorf("failed to decrement funding of %s: %w", pledge.ProjectID, err)
	}
	if res.MatchedCount == 0 {
		log.Printf("ANOMALY: refund of pledge %s (%d) exceeds funding of project %s", pledge.ID, pledge.Amount, pledge.ProjectID)
		if _, err := projects.UpdateOne(sc, bson.M{"_id": pledge.ProjectID},
			bson.M{"$set": bson.M{"funding_anomaly": true}}); err != nil {
			return false, fmt.Errorf("failed to flag project %s: %w", pledge.ProjectID, err)
		}
	}
	return true, nil
}

// findPledgeForCapture looks a pledge up by the checkout reference, falling back to the
// session id when the reference is missing or unknown.
func findPledgeForCapture(ctx context.Context, database *mongo.Database, reference, sessionID string) (*models.Pledge, error) {
	if id, err := utils.ParseSixID(reference); err == nil {
		pledge, err := findPledge(ctx, database, id)
		if err == nil {
			return pledge, nil
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}
	}
	if sessionID == "" {
		return nil, notFound("pledge")
	}
	var pledge models.Pledge
	err := database.Collection(models.PledgesCollection).FindOne(ctx, bson.M{"checkout_session_id": sessionID}).Decode(&pledge)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("pledge")
		}
		return nil, fmt.Errorf("failed to find pledge by session %s: %w", sessionID, err)
	}
	return &pledge, nil
}

func formatCents(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, currency)
}

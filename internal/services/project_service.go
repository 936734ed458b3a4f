package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/payments"
	"lingocrowd/core/internal/utils"
)

// CreateProjectInput is a teacher-created project, outside any negotiation.
type CreateProjectInput struct {
	ProjectTerms
	Language string `json:"language"`
	Level    string `json:"level"`
}

// ProjectFilter narrows a project listing. An empty Statuses lists FUNDING and SUCCESSFUL.
type ProjectFilter struct {
	TeacherID *utils.SixID
	Statuses  []models.ProjectStatus
	Language  string
	Limit     int64
	Offset    int64
}

// IProjectService is the funding state machine on the project side.
type IProjectService interface {
	CreateProject(ctx context.Context, actor models.Actor, in CreateProjectInput) (*models.Project, error)
	GetProject(ctx context.Context, projectID utils.SixID) (*models.Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]models.Project, error)
	CompleteProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error
	ConfirmCompletion(ctx context.Context, actor models.Actor, projectID utils.SixID) (*models.Project, error)
	CancelProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error
	ResumeProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error
}

type projectService struct {
	db       *mongo.Database
	d        *Dispatcher
	gateway  payments.Gateway
	settings ISettingsService
	cfg      *config.Config
}

// NewProjectService creates a ProjectService.
func NewProjectService(database *mongo.Database, d *Dispatcher, gateway payments.Gateway, settings ISettingsService, cfg *config.Config) IProjectService {
	return &projectService{db: database, d: d, gateway: gateway, settings: settings, cfg: cfg}
}

func (s *projectService) CreateProject(ctx context.Context, actor models.Actor, in CreateProjectInput) (*models.Project, error) {
	if !actor.Role.CanTeach() {
		return nil, forbidden("create projects")
	}
	goal, err := in.FundingGoal()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	project := &models.Project{
		TeacherID:     actor.UserID,
		Title:         strings.TrimSpace(in.Title),
		Description:   strings.TrimSpace(in.Description),
		Language:      strings.TrimSpace(in.Language),
		Level:         strings.TrimSpace(in.Level),
		FundingGoal:   goal,
		IsSeries:      in.IsSeries,
		PricePerVideo: in.PricePerVideo,
		NumVideos:     in.NumVideos,
		Status:        models.ProjectFunding,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.InsertOne(ctx, s.db.Collection(models.ProjectsCollection), project); err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return project, nil
}

func (s *projectService) GetProject(ctx context.Context, projectID utils.SixID) (*models.Project, error) {
	return findProject(ctx, s.db, projectID)
}

func (s *projectService) ListProjects(ctx context.Context, f ProjectFilter) ([]models.Project, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []models.ProjectStatus{models.ProjectFunding, models.ProjectSuccessful}
	}
	filter := bson.M{"status": bson.M{"$in": statuses}}
	if f.TeacherID != nil {
		filter["teacher_id"] = *f.TeacherID
	}
	if f.Language != "" {
		filter["language"] = f.Language
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(max(f.Offset, 0)).
		SetLimit(limit)
	cursor, err := s.db.Collection(models.ProjectsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	projects := []models.Project{}
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}
	return projects, nil
}

// CompleteProject is the teacher's declaration that every video has been delivered.
// Backers are asked to confirm.
func (s *projectService) CompleteProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error {
	project, err := findProject(ctx, s.db, projectID)
	if err != nil {
		return err
	}
	if !actor.Is(project.TeacherID) {
		return forbidden("complete this project")
	}
	if project.Status != models.ProjectSuccessful {
		return precondition("project", string(project.Status), string(models.ProjectSuccessful))
	}
	videos, err := countVideos(ctx, s.db, project.ID)
	if err != nil {
		return err
	}
	if required := project.RequiredVideoCount(); videos != int64(required) {
		return precondition("project", fmt.Sprintf("%d videos uploaded", videos), fmt.Sprintf("exactly %d", required))
	}
	backers, err := capturedBackers(ctx, s.db, project.ID)
	if err != nil {
		return err
	}

	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		res, err := s.db.Collection(models.ProjectsCollection).UpdateOne(sc,
			bson.M{"_id": project.ID, "status": models.ProjectSuccessful},
			bson.M{"$set": bson.M{"status": models.ProjectPendingConfirmation, "updated_at": time.Now().UTC()}})
		if err != nil {
			return fmt.Errorf("failed to complete project %s: %w", project.ID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("project", "", "must still be SUCCESSFUL")
		}
		for _, backer := range backers {
			if err := a.notify(sc, s.db, backer, models.NotifyConfirmCompletion,
				fmt.Sprintf("'%s' is complete. Please confirm to release payment to the teacher.", project.Title), projectLink(project.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ConfirmCompletion releases the payout. The project document is claimed before the
// gateway call so that concurrent confirmations produce a single transfer.
func (s *projectService) ConfirmCompletion(ctx context.Context, actor models.Actor, projectID utils.SixID) (*models.Project, error) {
	project, err := findProject(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.ProjectPendingConfirmation {
		return nil, precondition("project", string(project.Status), string(models.ProjectPendingConfirmation))
	}
	if project.StripeTransferID != "" {
		return nil, precondition("project", "paid out", "no transfer yet")
	}
	backed, err := s.db.Collection(models.PledgesCollection).CountDocuments(ctx,
		bson.M{"project_id": project.ID, "student_id": actor.UserID, "status": models.PledgeCaptured},
		options.Count().SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to check backer of %s: %w", project.ID, err)
	}
	if backed == 0 {
		return nil, forbidden("confirm completion of a project you have not backed")
	}
	teacher, err := findByID[models.User](ctx, s.db, models.UsersCollection, project.TeacherID, "teacher")
	if err != nil {
		return nil, err
	}
	if !teacher.HasPayoutDestination() {
		return nil, precondition("teacher", "no payout account", "a linked payout account")
	}

	projects := s.db.Collection(models.ProjectsCollection)
	claimedAt := time.Now().UTC()
	var claimed models.Project
	err = projects.FindOneAndUpdate(ctx,
		bson.M{
			"_id":                project.ID,
			"status":             models.ProjectPendingConfirmation,
			"stripe_transfer_id": bson.M{"$exists": false},
			"payout_claimed_at":  bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{"payout_claimed_at": claimedAt, "payout_claimed_by": actor.UserID}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&claimed)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, precondition("project", "", "payout already in progress or done")
		}
		return nil, fmt.Errorf("failed to claim payout of %s: %w", project.ID, err)
	}

	payout, fee := PayoutSplit(claimed.CurrentFunding, s.settings.PlatformFeePercent(ctx))
	transfer, err := s.gateway.CreatePayout(ctx, payments.PayoutParams{
		Destination: teacher.StripeAccountID,
		Amount:      payout,
		Currency:    s.cfg.Currency,
		Metadata: map[string]string{
			"project_id":   claimed.ID.String(),
			"platform_fee": fmt.Sprint(fee),
		},
		IdempotencyKey: "payout-" + claimed.ID.String(),
	})
	if err != nil {
		if _, relErr := projects.UpdateOne(ctx,
			bson.M{"_id": claimed.ID, "payout_claimed_at": claimedAt},
			bson.M{"$unset": bson.M{"payout_claimed_at": "", "payout_claimed_by": ""}}); relErr != nil {
			log.Printf("Failed to release payout claim on project %s: %v", claimed.ID, relErr)
		}
		return nil, &GatewayError{Op: "create payout", Err: err}
	}

	completedAt := time.Now().UTC()
	err = s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		res, err := projects.UpdateOne(sc,
			bson.M{"_id": claimed.ID, "status": models.ProjectPendingConfirmation, "stripe_transfer_id": bson.M{"$exists": false}},
			bson.M{
				"$set": bson.M{
					"status":             models.ProjectCompleted,
					"stripe_transfer_id": transfer.TransferID,
					"payout_amount":      payout,
					"platform_fee":       fee,
					"completed_at":       completedAt,
					"updated_at":         completedAt,
				},
				"$unset": bson.M{"payout_claimed_at": "", "payout_claimed_by": ""},
			})
		if err != nil {
			return fmt.Errorf("failed to record payout of %s: %w", claimed.ID, err)
		}
		if res.MatchedCount == 0 {
			log.Printf("ANOMALY: transfer %s sent for project %s but the project was no longer awaiting payout", transfer.TransferID, claimed.ID)
			return nil
		}
		return a.notify(sc, s.db, claimed.TeacherID, models.NotifyPayoutSent,
			fmt.Sprintf("Payout of %s for '%s' is on its way.", formatCents(payout, s.cfg.Currency), claimed.Title), projectLink(claimed.ID))
	})
	if err != nil {
		// The transfer exists; the claim stays so nobody pays twice. A retry with the same
		// idempotency key returns the same transfer once the claim is cleared by hand.
		log.Printf("ANOMALY: transfer %s for project %s not recorded: %v", transfer.TransferID, claimed.ID, err)
		return nil, err
	}

	claimed.Status = models.ProjectCompleted
	claimed.StripeTransferID = transfer.TransferID
	claimed.PayoutAmount = payout
	claimed.PlatformFee = fee
	claimed.CompletedAt = &completedAt
	claimed.PayoutClaimedAt = nil
	claimed.PayoutClaimedBy = nil
	return &claimed, nil
}

// CancelProject cancels a project and hands the request back to its student. Captured
// pledges are refunded one by one; a failed refund is queued for retry and does not
// stop the others.
func (s *projectService) CancelProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error {
	project, err := findProject(ctx, s.db, projectID)
	if err != nil {
		return err
	}
	if !actor.Is(project.TeacherID) && !actor.Role.IsAdmin() {
		return forbidden("cancel this project")
	}
	if project.Status.IsTerminal() {
		return precondition("project", string(project.Status), "not COMPLETED or CANCELLED")
	}

	var origin *models.Request
	if project.OriginRequestID != nil {
		if origin, err = findRequest(ctx, s.db, *project.OriginRequestID); err != nil {
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				return err
			}
			origin = nil
		}
	}

	now := time.Now().UTC()
	err = s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		res, err := s.db.Collection(models.ProjectsCollection).UpdateOne(sc,
			bson.M{
				"_id":               project.ID,
				"status":            bson.M{"$nin": []models.ProjectStatus{models.ProjectCompleted, models.ProjectCancelled}},
				"payout_claimed_at": bson.M{"$exists": false},
			},
			bson.M{"$set": bson.M{"status": models.ProjectCancelled, "updated_at": now}})
		if err != nil {
			return fmt.Errorf("failed to cancel project %s: %w", project.ID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("project", "", "must not be finished or paying out")
		}
		if origin == nil || origin.Status != models.RequestAccepted {
			return nil
		}
		_, err = s.db.Collection(models.RequestsCollection).UpdateOne(sc,
			bson.M{"_id": origin.ID, "status": models.RequestAccepted},
			bson.M{
				"$set":   bson.M{"status": models.RequestOpen, "is_private": false, "updated_at": now},
				"$unset": bson.M{"target_teacher_id": ""},
			})
		if err != nil {
			return fmt.Errorf("failed to reopen request %s: %w", origin.ID, err)
		}
		if err := addToBlacklist(sc, s.db, origin.ID, project.TeacherID, models.BlacklistProjectCancelled); err != nil {
			return err
		}
		return a.notify(sc, s.db, origin.StudentID, models.NotifyRequestReopened,
			fmt.Sprintf("The project for '%s' was cancelled. Your request is open again.", origin.Title), requestLink(origin.ID))
	})
	if err != nil {
		return err
	}

	s.unwindPledges(ctx, project.ID)
	return nil
}

// unwindPledges refunds captured pledges and expires the open checkouts of a cancelled project.
func (s *projectService) unwindPledges(ctx context.Context, projectID utils.SixID) {
	cursor, err := s.db.Collection(models.PledgesCollection).Find(ctx,
		bson.M{"project_id": projectID, "status": bson.M{"$in": []models.PledgeStatus{models.PledgeCaptured, models.PledgePending}}})
	if err != nil {
		log.Printf("Failed to list pledges of cancelled project %s: %v", projectID, err)
		return
	}
	var pledges []models.Pledge
	if err := cursor.All(ctx, &pledges); err != nil {
		log.Printf("Failed to decode pledges of cancelled project %s: %v", projectID, err)
		return
	}

	// Queued first so a crash during the loop still leaves every refund owed on the queue.
	// The retries run after the inline attempts and skip pledges already refunded.
	for i := range pledges {
		if pledges[i].Status == models.PledgeCaptured {
			s.d.queueRefundRetry(ctx, pledges[i].ID)
		}
	}

	for i := range pledges {
		pledge := &pledges[i]
		switch pledge.Status {
		case models.PledgeCaptured:
			if err := refundCapturedPledge(ctx, s.db, s.d, s.gateway, pledge); err != nil {
				log.Printf("Refund of pledge %s failed, left to the queued retry: %v", pledge.ID, err)
			}
		case models.PledgePending:
			if pledge.CheckoutSessionID == "" || pledge.CheckoutExpiredAt != nil {
				continue
			}
			if err := s.gateway.ExpireCheckout(ctx, pledge.CheckoutSessionID); err != nil {
				// A session paid in the meantime is captured by the webhook, which refunds
				// pledges of cancelled projects.
				log.Printf("Failed to expire checkout of pledge %s: %v", pledge.ID, err)
				continue
			}
			if _, err := s.db.Collection(models.PledgesCollection).UpdateOne(ctx,
				bson.M{"_id": pledge.ID, "status": models.PledgePending},
				bson.M{"$set": bson.M{"checkout_expired_at": time.Now().UTC()}}); err != nil {
				log.Printf("Failed to record expired checkout of pledge %s: %v", pledge.ID, err)
			}
		}
	}
}

// ResumeProject puts an ON_HOLD project back into FUNDING once the teacher can take
// charges again, or straight to SUCCESSFUL when captures during the hold met the goal.
func (s *projectService) ResumeProject(ctx context.Context, actor models.Actor, projectID utils.SixID) error {
	project, err := findProject(ctx, s.db, projectID)
	if err != nil {
		return err
	}
	if !actor.Is(project.TeacherID) && !actor.Role.IsAdmin() {
		return forbidden("resume this project")
	}
	if project.Status != models.ProjectOnHold {
		return precondition("project", string(project.Status), string(models.ProjectOnHold))
	}
	teacher, err := findByID[models.User](ctx, s.db, models.UsersCollection, project.TeacherID, "teacher")
	if err != nil {
		return err
	}
	if !teacher.ChargesEnabled {
		return precondition("teacher", "charges disabled", "charges enabled")
	}
	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		var current models.Project
		err := s.db.Collection(models.ProjectsCollection).FindOne(sc, bson.M{"_id": project.ID}).Decode(&current)
		if err != nil {
			return fmt.Errorf("failed to reload project %s: %w", project.ID, err)
		}
		// Checkouts opened before the hold can be captured while ON_HOLD.
		next := models.ProjectFunding
		if current.CurrentFunding >= current.FundingGoal {
			next = models.ProjectSuccessful
		}
		res, err := s.db.Collection(models.ProjectsCollection).UpdateOne(sc,
			bson.M{"_id": project.ID, "status": models.ProjectOnHold},
			bson.M{"$set": bson.M{"status": next, "updated_at": time.Now().UTC()}})
		if err != nil {
			return fmt.Errorf("failed to resume project %s: %w", project.ID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("project", "", "must still be ON_HOLD")
		}
		if next != models.ProjectSuccessful {
			return nil
		}
		return a.notify(sc, s.db, project.TeacherID, models.NotifyProjectFunded,
			fmt.Sprintf("'%s' is fully funded. Time to start recording!", project.Title), projectLink(project.ID))
	})
}

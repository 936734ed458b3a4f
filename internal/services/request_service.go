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

	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/utils"
)

const defaultListLimit = 20

// CreateRequestInput is what a student submits.
type CreateRequestInput struct {
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Language        string       `json:"language"`
	Level           string       `json:"level"`
	Budget          int64        `json:"budget"`
	TargetTeacherID *utils.SixID `json:"target_teacher_id,omitempty"`
	IsPrivate       bool         `json:"is_private"`
}

// RequestFilter narrows a request listing. Zero values mean "any".
type RequestFilter struct {
	Language string
	Level    string
	Status   models.RequestStatus
	Limit    int64
	Offset   int64
}

// IRequestService is the request half of the negotiation state machine.
type IRequestService interface {
	CreateRequest(ctx context.Context, actor models.Actor, in CreateRequestInput) (*models.Request, error)
	GetRequest(ctx context.Context, viewer *models.Actor, requestID utils.SixID) (*models.Request, error)
	ListRequests(ctx context.Context, viewer *models.Actor, filter RequestFilter) ([]models.Request, error)
	CancelRequest(ctx context.Context, actor models.Actor, requestID utils.SixID) error
	ClaimRequest(ctx context.Context, actor models.Actor, requestID utils.SixID) (*models.Project, error)
}

type requestService struct {
	db *mongo.Database
	d  *Dispatcher
}

// NewRequestService creates a RequestService.
func NewRequestService(database *mongo.Database, d *Dispatcher) IRequestService {
	return &requestService{db: database, d: d}
}

// RequestVisibilityFilter builds the query that decides which requests viewerID may see:
// their own requests in any status, public active requests, and active requests targeted
// at them, minus requests they are blacklisted from. A zero viewerID sees public active
// requests only.
func RequestVisibilityFilter(viewerID utils.SixID, blacklisted []utils.SixID) bson.M {
	active := bson.M{"$in": models.ActiveRequestStatuses}
	public := bson.M{"is_private": false, "status": active}
	if viewerID.IsZero() {
		return public
	}
	filter := bson.M{
		"$or": bson.A{
			bson.M{"student_id": viewerID},
			public,
			bson.M{"target_teacher_id": viewerID, "status": active},
		},
	}
	if len(blacklisted) > 0 {
		filter["_id"] = bson.M{"$nin": blacklisted}
	}
	return filter
}

func (s *requestService) visibilityFor(ctx context.Context, viewer *models.Actor) (bson.M, error) {
	if viewer == nil {
		return RequestVisibilityFilter(utils.SixID{}, nil), nil
	}
	blacklisted, err := blacklistedRequestIDs(ctx, s.db, viewer.UserID)
	if err != nil {
		return nil, err
	}
	return RequestVisibilityFilter(viewer.UserID, blacklisted), nil
}

// CreateRequest stores an OPEN request and notifies the targeted teacher, if any.
func (s *requestService) CreateRequest(ctx context.Context, actor models.Actor, in CreateRequestInput) (*models.Request, error) {
	if actor.Role != models.RoleStudent && !actor.Role.IsAdmin() {
		return nil, forbidden("create requests")
	}
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return nil, newValidationError("title", "is required")
	case len(in.Title) > maxTitleLength:
		return nil, newValidationError("title", "is too long")
	case strings.TrimSpace(in.Language) == "":
		return nil, newValidationError("language", "is required")
	case strings.TrimSpace(in.Level) == "":
		return nil, newValidationError("level", "is required")
	case in.Budget <= 0:
		return nil, newValidationError("budget", "must be positive")
	case in.Budget > maxMoney:
		return nil, newValidationError("budget", fmt.Sprintf("must not exceed %d", maxMoney))
	}

	if in.TargetTeacherID != nil {
		if *in.TargetTeacherID == actor.UserID {
			return nil, newValidationError("target_teacher_id", "cannot target yourself")
		}
		var teacher models.User
		err := s.db.Collection(models.UsersCollection).FindOne(ctx,
			bson.M{"_id": *in.TargetTeacherID, "deleted": false}).Decode(&teacher)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, newValidationError("target_teacher_id", "unknown teacher")
			}
			return nil, fmt.Errorf("failed to load target teacher: %w", err)
		}
		if !teacher.Role.CanTeach() {
			return nil, newValidationError("target_teacher_id", "is not a teacher")
		}
	}

	now := time.Now().UTC()
	req := &models.Request{
		StudentID:       actor.UserID,
		Title:           in.Title,
		Description:     strings.TrimSpace(in.Description),
		Language:        strings.TrimSpace(in.Language),
		Level:           strings.TrimSpace(in.Level),
		Budget:          in.Budget,
		TargetTeacherID: in.TargetTeacherID,
		IsPrivate:       in.IsPrivate,
		Status:          models.RequestOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		if err := db.InsertOne(sc, s.db.Collection(models.RequestsCollection), req); err != nil {
			return fmt.Errorf("failed to insert request: %w", err)
		}
		if req.TargetTeacherID != nil {
			return a.notify(sc, s.db, *req.TargetTeacherID, models.NotifyNewRequest,
				fmt.Sprintf("A student requested a video from you: %s", req.Title), requestLink(req.ID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// GetRequest applies the same visibility rule as ListRequests; an invisible request is
// reported as not found.
func (s *requestService) GetRequest(ctx context.Context, viewer *models.Actor, requestID utils.SixID) (*models.Request, error) {
	filter, err := s.visibilityFor(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if viewer != nil && viewer.Role.IsStaff() {
		filter = bson.M{}
	}
	filter = bson.M{"$and": bson.A{bson.M{"_id": requestID}, filter}}

	var req models.Request
	err = s.db.Collection(models.RequestsCollection).FindOne(ctx, filter).Decode(&req)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("request")
		}
		return nil, fmt.Errorf("error finding request %s: %w", requestID, err)
	}
	return &req, nil
}

// ListRequests returns visible requests, newest first.
func (s *requestService) ListRequests(ctx context.Context, viewer *models.Actor, f RequestFilter) ([]models.Request, error) {
	visibility, err := s.visibilityFor(ctx, viewer)
	if err != nil {
		return nil, err
	}
	and := bson.A{visibility}
	if f.Language != "" {
		and = append(and, bson.M{"language": f.Language})
	}
	if f.Level != "" {
		and = append(and, bson.M{"level": f.Level})
	}
	if f.Status != "" {
		and = append(and, bson.M{"status": f.Status})
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit).
		SetSkip(max(f.Offset, 0))

	cursor, err := s.db.Collection(models.RequestsCollection).Find(ctx, bson.M{"$and": and}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	requests := []models.Request{}
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode requests: %w", err)
	}
	return requests, nil
}

// CancelRequest cancels an active request and closes every open conversation on it.
// Blacklisted teachers are closed out silently; everyone else gets a departure message
// and is told either live or through a persisted notification.
func (s *requestService) CancelRequest(ctx context.Context, actor models.Actor, requestID utils.SixID) error {
	req, err := findRequest(ctx, s.db, requestID)
	if err != nil {
		return err
	}
	if !actor.Is(req.StudentID) && !actor.Role.IsStaff() {
		return forbidden("cancel this request")
	}
	if !req.Status.IsActive() {
		return precondition("request", string(req.Status), "OPEN or NEGOTIATING")
	}

	convs, err := openConversations(ctx, s.db, requestID)
	if err != nil {
		return err
	}
	type target struct {
		conv    models.Conversation
		present bool
	}
	var targets []target
	for _, c := range convs {
		banned, err := isBlacklisted(ctx, s.db, requestID, c.TeacherID)
		if err != nil {
			return err
		}
		if banned {
			continue
		}
		targets = append(targets, target{conv: c, present: s.d.isPresent(ctx, c.TeacherID, realtime.ConversationChannel(c.ID))})
	}

	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		res, err := s.db.Collection(models.RequestsCollection).UpdateOne(sc,
			bson.M{"_id": requestID, "status": bson.M{"$in": models.ActiveRequestStatuses}},
			bson.M{"$set": bson.M{"status": models.RequestCancelled, "updated_at": time.Now().UTC()}})
		if err != nil {
			return fmt.Errorf("failed to cancel request %s: %w", requestID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("request", "", "must still be OPEN or NEGOTIATING")
		}
		if _, err := closeOpenConversations(sc, s.db, requestID); err != nil {
			return err
		}
		for _, t := range targets {
			msg := systemMessage(t.conv.ID, actor.UserID, "The student cancelled this request. The conversation is closed.")
			if err := insertMessage(sc, s.db, msg); err != nil {
				return err
			}
			channel := realtime.ConversationChannel(t.conv.ID)
			if t.present {
				a.publish(channel, realtime.EventMessage, msg)
				a.publish(channel, realtime.EventConversationClosed, conversationClosedPayload(t.conv.ID, "request_cancelled"))
				continue
			}
			if err := a.notify(sc, s.db, t.conv.TeacherID, models.NotifyRequestCancelled,
				fmt.Sprintf("The request '%s' was cancelled.", req.Title), conversationLink(t.conv.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimRequest converts a visible active request straight into a FUNDING project at the
// student's budget. The request becomes ACCEPTED and all its conversations close.
func (s *requestService) ClaimRequest(ctx context.Context, actor models.Actor, requestID utils.SixID) (*models.Project, error) {
	if !actor.Role.CanTeach() {
		return nil, forbidden("claim requests")
	}
	req, err := s.GetRequest(ctx, &actor, requestID)
	if err != nil {
		return nil, err
	}
	if req.StudentID == actor.UserID {
		return nil, newValidationError("request_id", "cannot claim your own request")
	}
	if !req.Status.IsActive() {
		return nil, precondition("request", string(req.Status), "OPEN or NEGOTIATING")
	}

	now := time.Now().UTC()
	project := &models.Project{
		TeacherID:       actor.UserID,
		Title:           req.Title,
		Description:     req.Description,
		Language:        req.Language,
		Level:           req.Level,
		FundingGoal:     req.Budget,
		Status:          models.ProjectFunding,
		OriginRequestID: req.ID.Ptr(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		res, err := s.db.Collection(models.RequestsCollection).UpdateOne(sc,
			bson.M{"_id": requestID, "status": bson.M{"$in": models.ActiveRequestStatuses}},
			bson.M{"$set": bson.M{"status": models.RequestAccepted, "updated_at": now}})
		if err != nil {
			return fmt.Errorf("failed to accept request %s: %w", requestID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("request", "", "must still be OPEN or NEGOTIATING")
		}
		if err := db.InsertOne(sc, s.db.Collection(models.ProjectsCollection), project); err != nil {
			return fmt.Errorf("failed to insert project for request %s: %w", requestID, err)
		}
		closed, err := closeOpenConversations(sc, s.db, requestID)
		if err != nil {
			return err
		}
		for _, c := range closed {
			a.publish(realtime.ConversationChannel(c.ID), realtime.EventConversationClosed, conversationClosedPayload(c.ID, "request_accepted"))
		}
		return a.notify(sc, s.db, req.StudentID, models.NotifyRequestClaimed,
			fmt.Sprintf("A teacher accepted your request '%s' at your budget.", req.Title), projectLink(project.ID))
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Request %s claimed by %s as project %s", requestID, actor.UserID, project.ID)
	return project, nil
}

func requestLink(id utils.SixID) string      { return "/requests/" + id.String() }
func projectLink(id utils.SixID) string      { return "/projects/" + id.String() }
func conversationLink(id utils.SixID) string { return "/conversations/" + id.String() }

func conversationClosedPayload(conversationID utils.SixID, reason string) map[string]string {
	return map[string]string{"conversation_id": conversationID.String(), "reason": reason}
}

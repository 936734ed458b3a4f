package services

import (
	"context"
	"errors"
	"fmt"
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

const defaultMessageLimit = 100

// SendMessageInput is a non-offer message.
type SendMessageInput struct {
	Type      models.MessageType `json:"message_type"`
	Content   string             `json:"content"`
	ReplyToID *utils.SixID       `json:"reply_to_id,omitempty"`
	VideoURL  string             `json:"video_url,omitempty"`
}

// ConversationSummary is one inbox row.
type ConversationSummary struct {
	Conversation models.Conversation `json:"conversation"`
	RequestTitle string              `json:"request_title"`
	LastMessage  *models.Message     `json:"last_message,omitempty"`
	UnreadCount  int64               `json:"unread_count"`
}

// Inbox lists the viewer's conversations, most recent activity first.
type Inbox struct {
	Conversations    []ConversationSummary `json:"conversations"`
	TotalUnreadCount int64                 `json:"total_unread_count"`
}

// IConversationService is the conversation and offer half of the negotiation state machine.
type IConversationService interface {
	CreateConversation(ctx context.Context, actor models.Actor, requestID utils.SixID) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, actor models.Actor, conversationID utils.SixID) (*models.Conversation, error)
	MakeOffer(ctx context.Context, actor models.Actor, conversationID utils.SixID, terms ProjectTerms) (*models.Message, error)
	AcceptOffer(ctx context.Context, actor models.Actor, messageID utils.SixID) (*models.Project, error)
	RejectOffer(ctx context.Context, actor models.Actor, messageID utils.SixID) error
	LeaveConversation(ctx context.Context, actor models.Actor, conversationID utils.SixID) error
	SendMessage(ctx context.Context, actor models.Actor, conversationID utils.SixID, in SendMessageInput) (*models.Message, error)
	ListMessages(ctx context.Context, actor models.Actor, conversationID utils.SixID, limit int64) ([]models.Message, error)
	Inbox(ctx context.Context, actor models.Actor) (*Inbox, error)
}

type conversationService struct {
	db       *mongo.Database
	d        *Dispatcher
	requests IRequestService
}

// NewConversationService creates a ConversationService. requests is used for the
// visibility check when a teacher opens a conversation.
func NewConversationService(database *mongo.Database, d *Dispatcher, requests IRequestService) IConversationService {
	return &conversationService{db: database, d: d, requests: requests}
}

// CreateConversation opens the (request, teacher) conversation, or returns the existing
// one. The bool reports whether a new conversation was created.
func (s *conversationService) CreateConversation(ctx context.Context, actor models.Actor, requestID utils.SixID) (*models.Conversation, bool, error) {
	if actor.Role != models.RoleTeacher {
		return nil, false, forbidden("open conversations")
	}
	req, err := s.requests.GetRequest(ctx, &actor, requestID)
	if err != nil {
		return nil, false, err
	}
	if req.StudentID == actor.UserID {
		return nil, false, newValidationError("request_id", "cannot open a conversation on your own request")
	}
	if existing, err := s.findByPair(ctx, requestID, actor.UserID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}
	if !req.Status.IsActive() {
		return nil, false, precondition("request", string(req.Status), "OPEN or NEGOTIATING")
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		RequestID:     requestID,
		StudentID:     req.StudentID,
		TeacherID:     actor.UserID,
		Status:        models.ConversationOpen,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	var greeting *models.Message
	err = s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		if err := db.InsertOne(sc, s.db.Collection(models.ConversationsCollection), conv); err != nil {
			return err
		}
		greeting = &models.Message{
			ConversationID: conv.ID,
			SenderID:       actor.UserID,
			Type:           models.MessageText,
			Content:        fmt.Sprintf("Hi, I'm interested in your request for '%s'. Let's discuss!", req.Title),
		}
		if err := insertMessage(sc, s.db, greeting); err != nil {
			return err
		}
		_, err := s.db.Collection(models.RequestsCollection).UpdateOne(sc,
			bson.M{"_id": requestID, "status": models.RequestOpen},
			bson.M{"$set": bson.M{"status": models.RequestNegotiating, "updated_at": now}})
		if err != nil {
			return fmt.Errorf("failed to move request %s to negotiating: %w", requestID, err)
		}
		return a.notify(sc, s.db, req.StudentID, models.NotifyNewMessage,
			fmt.Sprintf("A teacher wants to discuss your request '%s'.", req.Title), conversationLink(conv.ID))
	})
	if err != nil {
		// Lost a race with a concurrent create for the same pair.
		if db.IsDuplicateOnIndex(err, db.IndexConversationTeacher) {
			existing, findErr := s.findByPair(ctx, requestID, actor.UserID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create conversation on request %s: %w", requestID, err)
	}
	return conv, true, nil
}

func (s *conversationService) findByPair(ctx context.Context, requestID, teacherID utils.SixID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Collection(models.ConversationsCollection).FindOne(ctx,
		bson.M{"request_id": requestID, "teacher_id": teacherID}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation returns a conversation to its participants and to staff.
func (s *conversationService) GetConversation(ctx context.Context, actor models.Actor, conversationID utils.SixID) (*models.Conversation, error) {
	conv, err := findConversation(ctx, s.db, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actor.UserID) && !actor.Role.IsStaff() {
		return nil, forbidden("view this conversation")
	}
	return conv, nil
}

func (s *conversationService) openConversationFor(ctx context.Context, actor models.Actor, conversationID utils.SixID) (*models.Conversation, error) {
	conv, err := findConversation(ctx, s.db, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actor.UserID) {
		return nil, forbidden("write to this conversation")
	}
	if conv.Status != models.ConversationOpen {
		return nil, precondition("conversation", string(conv.Status), "OPEN")
	}
	return conv, nil
}

// MakeOffer posts a PENDING offer. Only the conversation's teacher may do this.
func (s *conversationService) MakeOffer(ctx context.Context, actor models.Actor, conversationID utils.SixID, terms ProjectTerms) (*models.Message, error) {
	conv, err := s.openConversationFor(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(conv.TeacherID) {
		return nil, forbidden("make offers in this conversation")
	}
	price, err := terms.FundingGoal()
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		Type:           models.MessageOffer,
		Content:        strings.TrimSpace(terms.Description),
		Offer: &models.Offer{
			Title:         strings.TrimSpace(terms.Title),
			Description:   strings.TrimSpace(terms.Description),
			Price:         price,
			IsSeries:      terms.IsSeries,
			PricePerVideo: terms.PricePerVideo,
			NumVideos:     terms.NumVideos,
			Status:        models.OfferPending,
		},
	}
	if err := s.deliver(ctx, conv, msg, fmt.Sprintf("New offer: %s", msg.Offer.Title)); err != nil {
		return nil, err
	}
	return msg, nil
}

// deliver stores a message and tells the recipient: a live event when they are watching
// the conversation, a persisted notification when they are not.
func (s *conversationService) deliver(ctx context.Context, conv *models.Conversation, msg *models.Message, summary string) error {
	recipient := conv.OtherParty(msg.SenderID)
	channel := realtime.ConversationChannel(conv.ID)
	present := s.d.isPresent(ctx, recipient, channel)

	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		if err := insertMessage(sc, s.db, msg); err != nil {
			return err
		}
		a.publish(channel, realtime.EventMessage, msg)
		if present {
			return nil
		}
		return a.notify(sc, s.db, recipient, models.NotifyNewMessage, summary, conversationLink(conv.ID))
	})
}

// loadOffer returns a PENDING offer message, its conversation and the conversation's
// request, checking the actor is the student.
func (s *conversationService) loadOffer(ctx context.Context, actor models.Actor, messageID utils.SixID) (*models.Message, *models.Conversation, *models.Request, error) {
	msg, err := findMessage(ctx, s.db, messageID)
	if err != nil {
		return nil, nil, nil, err
	}
	if msg.Type != models.MessageOffer || msg.Offer == nil {
		return nil, nil, nil, notFound("offer")
	}
	conv, err := findConversation(ctx, s.db, msg.ConversationID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !actor.Is(conv.StudentID) {
		return nil, nil, nil, forbidden("respond to this offer")
	}
	if msg.Offer.Status != models.OfferPending {
		return nil, nil, nil, precondition("offer", string(msg.Offer.Status), string(models.OfferPending))
	}
	if conv.Status != models.ConversationOpen {
		return nil, nil, nil, precondition("conversation", string(conv.Status), "OPEN")
	}
	req, err := findRequest(ctx, s.db, conv.RequestID)
	if err != nil {
		return nil, nil, nil, err
	}
	return msg, conv, req, nil
}

func (s *conversationService) setOfferStatus(sc mongo.SessionContext, messageID utils.SixID, status models.OfferStatus) error {
	res, err := s.db.Collection(models.MessagesCollection).UpdateOne(sc,
		bson.M{"_id": messageID, "offer.status": models.OfferPending},
		bson.M{"$set": bson.M{"offer.status": status}})
	if err != nil {
		return fmt.Errorf("failed to set offer %s to %s: %w", messageID, status, err)
	}
	if res.MatchedCount == 0 {
		return precondition("offer", "", "must still be PENDING")
	}
	return nil
}

// AcceptOffer turns the offer into a FUNDING project. In one transaction the offer and
// the request become ACCEPTED and every open conversation on the request closes.
// Teachers whose conversations are closed this way are not blacklisted.
func (s *conversationService) AcceptOffer(ctx context.Context, actor models.Actor, messageID utils.SixID) (*models.Project, error) {
	msg, conv, req, err := s.loadOffer(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsActive() {
		return nil, precondition("request", string(req.Status), "OPEN or NEGOTIATING")
	}

	offer := msg.Offer
	now := time.Now().UTC()
	project := &models.Project{
		TeacherID:       conv.TeacherID,
		Title:           offer.Title,
		Description:     offer.Description,
		Language:        req.Language,
		Level:           req.Level,
		FundingGoal:     offer.Price,
		IsSeries:        offer.IsSeries,
		PricePerVideo:   offer.PricePerVideo,
		NumVideos:       offer.NumVideos,
		Status:          models.ProjectFunding,
		OriginRequestID: req.ID.Ptr(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		if err := s.setOfferStatus(sc, messageID, models.OfferAccepted); err != nil {
			return err
		}
		res, err := s.db.Collection(models.RequestsCollection).UpdateOne(sc,
			bson.M{"_id": req.ID, "status": bson.M{"$in": models.ActiveRequestStatuses}},
			bson.M{"$set": bson.M{"status": models.RequestAccepted, "updated_at": now}})
		if err != nil {
			return fmt.Errorf("failed to accept request %s: %w", req.ID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("request", "", "must still be OPEN or NEGOTIATING")
		}
		if err := db.InsertOne(sc, s.db.Collection(models.ProjectsCollection), project); err != nil {
			return fmt.Errorf("failed to insert project for offer %s: %w", messageID, err)
		}
		closed, err := closeOpenConversations(sc, s.db, req.ID)
		if err != nil {
			return err
		}

		// offer_accepted goes out first so the accepting client can navigate to the
		// project before its channel closes.
		a.publish(realtime.ConversationChannel(conv.ID), realtime.EventOfferAccepted, map[string]string{
			"message_id": messageID.String(),
			"project_id": project.ID.String(),
		})
		for _, c := range closed {
			a.publish(realtime.ConversationChannel(c.ID), realtime.EventConversationClosed, conversationClosedPayload(c.ID, "offer_accepted"))
		}
		return a.notify(sc, s.db, conv.TeacherID, models.NotifyOfferAccepted,
			fmt.Sprintf("Your offer '%s' was accepted. The project is now open for funding.", offer.Title), projectLink(project.ID))
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// RejectOffer closes the conversation and blacklists its teacher from the request. The
// request itself keeps its status; other conversations are untouched.
func (s *conversationService) RejectOffer(ctx context.Context, actor models.Actor, messageID utils.SixID) error {
	msg, conv, req, err := s.loadOffer(ctx, actor, messageID)
	if err != nil {
		return err
	}
	channel := realtime.ConversationChannel(conv.ID)

	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		if err := s.setOfferStatus(sc, messageID, models.OfferRejected); err != nil {
			return err
		}
		res, err := s.db.Collection(models.ConversationsCollection).UpdateOne(sc,
			bson.M{"_id": conv.ID, "status": models.ConversationOpen},
			bson.M{"$set": bson.M{"status": models.ConversationClosed}})
		if err != nil {
			return fmt.Errorf("failed to close conversation %s: %w", conv.ID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("conversation", "", "must still be OPEN")
		}
		if err := addToBlacklist(sc, s.db, req.ID, conv.TeacherID, models.BlacklistOfferRejected); err != nil {
			return err
		}
		a.publish(channel, realtime.EventOfferRejected, map[string]string{"message_id": messageID.String()})
		a.publish(channel, realtime.EventConversationClosed, conversationClosedPayload(conv.ID, "offer_rejected"))
		return a.notify(sc, s.db, conv.TeacherID, models.NotifyOfferRejected,
			fmt.Sprintf("Your offer '%s' was declined.", msg.Offer.Title), conversationLink(conv.ID))
	})
}

// LeaveConversation closes the conversation for either party and blacklists the teacher
// from the request. The other party is told live if watching, otherwise by notification.
func (s *conversationService) LeaveConversation(ctx context.Context, actor models.Actor, conversationID utils.SixID) error {
	conv, err := s.openConversationFor(ctx, actor, conversationID)
	if err != nil {
		return err
	}
	other := conv.OtherParty(actor.UserID)
	channel := realtime.ConversationChannel(conv.ID)
	present := s.d.isPresent(ctx, other, channel)

	who := "The student"
	if actor.Is(conv.TeacherID) {
		who = "The teacher"
	}

	return s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		msg := systemMessage(conv.ID, actor.UserID, who+" has left the conversation.")
		if err := insertMessage(sc, s.db, msg); err != nil {
			return err
		}
		res, err := s.db.Collection(models.ConversationsCollection).UpdateOne(sc,
			bson.M{"_id": conv.ID, "status": models.ConversationOpen},
			bson.M{"$set": bson.M{"status": models.ConversationClosed}})
		if err != nil {
			return fmt.Errorf("failed to close conversation %s: %w", conv.ID, err)
		}
		if res.MatchedCount == 0 {
			return precondition("conversation", "", "must still be OPEN")
		}
		if err := addToBlacklist(sc, s.db, conv.RequestID, conv.TeacherID, models.BlacklistLeftConversation); err != nil {
			return err
		}
		if present {
			a.publish(channel, realtime.EventMessage, msg)
			a.publish(channel, realtime.EventParticipantLeft, map[string]string{"user_id": actor.UserID.String()})
			a.publish(channel, realtime.EventConversationClosed, conversationClosedPayload(conv.ID, "participant_left"))
			return nil
		}
		return a.notify(sc, s.db, other, models.NotifyConversationLeft, msg.Content, conversationLink(conv.ID))
	})
}

// SendMessage posts TEXT, DEMO_REQUEST (student) or DEMO_VIDEO (teacher) messages.
// Offers go through MakeOffer.
func (s *conversationService) SendMessage(ctx context.Context, actor models.Actor, conversationID utils.SixID, in SendMessageInput) (*models.Message, error) {
	conv, err := s.openConversationFor(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	in.Content = strings.TrimSpace(in.Content)
	if len(in.Content) > maxContentLength {
		return nil, newValidationError("content", "is too long")
	}

	switch in.Type {
	case models.MessageText:
		if in.Content == "" {
			return nil, newValidationError("content", "is required")
		}
	case models.MessageDemoRequest:
		if !actor.Is(conv.StudentID) {
			return nil, forbidden("request a demo")
		}
	case models.MessageDemoVideo:
		if !actor.Is(conv.TeacherID) {
			return nil, forbidden("send a demo video")
		}
		if !strings.HasPrefix(in.VideoURL, "https://") {
			return nil, newValidationError("video_url", "must be an https URL")
		}
	case models.MessageOffer:
		return nil, newValidationError("message_type", "offers are sent with makeOffer")
	default:
		return nil, newValidationError("message_type", "unknown type")
	}

	if in.ReplyToID != nil {
		parent, err := findMessage(ctx, s.db, *in.ReplyToID)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != conv.ID {
			return nil, newValidationError("reply_to_id", "belongs to another conversation")
		}
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		Type:           in.Type,
		Content:        in.Content,
		ReplyToID:      in.ReplyToID,
		VideoURL:       in.VideoURL,
	}
	summary := in.Content
	switch in.Type {
	case models.MessageDemoRequest:
		summary = "The student asked for a demo video."
	case models.MessageDemoVideo:
		summary = "The teacher sent a demo video."
	}
	if len(summary) > 140 {
		summary = summary[:140] + "..."
	}
	if err := s.deliver(ctx, conv, msg, summary); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the conversation oldest first and marks the other party's
// messages read when the caller is a participant.
func (s *conversationService) ListMessages(ctx context.Context, actor models.Actor, conversationID utils.SixID, limit int64) ([]models.Message, error) {
	conv, err := s.GetConversation(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = defaultMessageLimit
	}

	coll := s.db.Collection(models.MessagesCollection)
	if conv.HasParticipant(actor.UserID) {
		_, err := coll.UpdateMany(ctx,
			bson.M{"conversation_id": conv.ID, "sender_id": bson.M{"$ne": actor.UserID}, "is_read": false},
			bson.M{"$set": bson.M{"is_read": true}})
		if err != nil {
			return nil, fmt.Errorf("failed to mark messages of %s read: %w", conv.ID, err)
		}
	}

	// Newest page, returned in chronological order.
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).SetLimit(limit)
	cursor, err := coll.Find(ctx, bson.M{"conversation_id": conv.ID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", conv.ID, err)
	}
	messages := []models.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of %s: %w", conv.ID, err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Inbox summarises the caller's conversations with unread counts.
func (s *conversationService) Inbox(ctx context.Context, actor models.Actor) (*Inbox, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}}).SetLimit(100)
	cursor, err := s.db.Collection(models.ConversationsCollection).Find(ctx,
		bson.M{"$or": bson.A{bson.M{"student_id": actor.UserID}, bson.M{"teacher_id": actor.UserID}}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations of %s: %w", actor.UserID, err)
	}
	var convs []models.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations of %s: %w", actor.UserID, err)
	}

	titles, err := s.requestTitles(ctx, convs)
	if err != nil {
		return nil, err
	}

	inbox := &Inbox{Conversations: make([]ConversationSummary, 0, len(convs))}
	messages := s.db.Collection(models.MessagesCollection)
	for _, c := range convs {
		unread, err := messages.CountDocuments(ctx, bson.M{
			"conversation_id": c.ID,
			"sender_id":       bson.M{"$ne": actor.UserID},
			"is_read":         false,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages of %s: %w", c.ID, err)
		}
		summary := ConversationSummary{Conversation: c, RequestTitle: titles[c.RequestID], UnreadCount: unread}

		var last models.Message
		err = messages.FindOne(ctx, bson.M{"conversation_id": c.ID},
			options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})).Decode(&last)
		if err == nil {
			summary.LastMessage = &last
		} else if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to load last message of %s: %w", c.ID, err)
		}

		inbox.Conversations = append(inbox.Conversations, summary)
		inbox.TotalUnreadCount += unread
	}
	return inbox, nil
}

func (s *conversationService) requestTitles(ctx context.Context, convs []models.Conversation) (map[utils.SixID]string, error) {
	titles := make(map[utils.SixID]string, len(convs))
	if len(convs) == 0 {
		return titles, nil
	}
	ids := make([]utils.SixID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.RequestID)
	}
	cursor, err := s.db.Collection(models.RequestsCollection).Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(bson.M{"title": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to load request titles: %w", err)
	}
	var reqs []models.Request
	if err := cursor.All(ctx, &reqs); err != nil {
		return nil, fmt.Errorf("failed to decode request titles: %w", err)
	}
	for _, r := range reqs {
		titles[r.ID] = r.Title
	}
	return titles, nil
}

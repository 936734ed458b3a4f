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

// findByID decodes one document by _id, turning a miss into a NotFoundError.
func findByID[T any](ctx context.Context, database *mongo.Database, collection string, id utils.SixID, entity string) (*T, error) {
	var out T
	err := database.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(entity)
		}
		return nil, fmt.Errorf("error finding %s %s: %w", entity, id, err)
	}
	return &out, nil
}

func findRequest(ctx context.Context, database *mongo.Database, id utils.SixID) (*models.Request, error) {
	return findByID[models.Request](ctx, database, models.RequestsCollection, id, "request")
}

func findConversation(ctx context.Context, database *mongo.Database, id utils.SixID) (*models.Conversation, error) {
	return findByID[models.Conversation](ctx, database, models.ConversationsCollection, id, "conversation")
}

func findMessage(ctx context.Context, database *mongo.Database, id utils.SixID) (*models.Message, error) {
	return findByID[models.Message](ctx, database, models.MessagesCollection, id, "message")
}

func findProject(ctx context.Context, database *mongo.Database, id utils.SixID) (*models.Project, error) {
	return findByID[models.Project](ctx, database, models.ProjectsCollection, id, "project")
}

func findPledge(ctx context.Context, database *mongo.Database, id utils.SixID) (*models.Pledge, error) {
	return findByID[models.Pledge](ctx, database, models.PledgesCollection, id, "pledge")
}

func isBlacklisted(ctx context.Context, database *mongo.Database, requestID, teacherID utils.SixID) (bool, error) {
	n, err := database.Collection(models.RequestBlacklistCollection).CountDocuments(ctx,
		bson.M{"request_id": requestID, "teacher_id": teacherID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist of request %s: %w", requestID, err)
	}
	return n > 0, nil
}

// blacklistedRequestIDs returns every request the teacher is excluded from.
func blacklistedRequestIDs(ctx context.Context, database *mongo.Database, teacherID utils.SixID) ([]utils.SixID, error) {
	cursor, err := database.Collection(models.RequestBlacklistCollection).Find(ctx,
		bson.M{"teacher_id": teacherID},
		options.Find().SetProjection(bson.M{"request_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist of %s: %w", teacherID, err)
	}
	var entries []models.RequestBlacklist
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode blacklist of %s: %w", teacherID, err)
	}
	ids := make([]utils.SixID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.RequestID)
	}
	return ids, nil
}

// addToBlacklist records (request, teacher); the upsert copies both ids from the filter.
// An existing entry keeps its original reason.
func addToBlacklist(ctx context.Context, database *mongo.Database, requestID, teacherID utils.SixID, reason models.BlacklistReason) error {
	_, err := database.Collection(models.RequestBlacklistCollection).UpdateOne(ctx,
		bson.M{"request_id": requestID, "teacher_id": teacherID},
		bson.M{"$setOnInsert": bson.M{
			"_id":        utils.NewSixID(),
			"reason":     reason,
			"created_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to blacklist teacher %s on request %s: %w", teacherID, requestID, err)
	}
	return nil
}

// openConversations lists the OPEN conversations of a request.
func openConversations(ctx context.Context, database *mongo.Database, requestID utils.SixID) ([]models.Conversation, error) {
	cursor, err := database.Collection(models.ConversationsCollection).Find(ctx,
		bson.M{"request_id": requestID, "status": models.ConversationOpen})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations of request %s: %w", requestID, err)
	}
	var convs []models.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations of request %s: %w", requestID, err)
	}
	return convs, nil
}

// closeOpenConversations closes every OPEN conversation of a request and returns them.
func closeOpenConversations(sc mongo.SessionContext, database *mongo.Database, requestID utils.SixID) ([]models.Conversation, error) {
	convs, err := openConversations(sc, database, requestID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return convs, nil
	}
	_, err = database.Collection(models.ConversationsCollection).UpdateMany(sc,
		bson.M{"request_id": requestID, "status": models.ConversationOpen},
		bson.M{"$set": bson.M{"status": models.ConversationClosed}})
	if err != nil {
		return nil, fmt.Errorf("failed to close conversations of request %s: %w", requestID, err)
	}
	return convs, nil
}

// insertMessage appends a message to a conversation and bumps its last_message_at.
func insertMessage(ctx context.Context, database *mongo.Database, msg *models.Message) error {
	msg.CreatedAt = time.Now().UTC()
	if err := db.InsertOne(ctx, database.Collection(models.MessagesCollection), msg); err != nil {
		return fmt.Errorf("failed to insert message into conversation %s: %w", msg.ConversationID, err)
	}
	_, err := database.Collection(models.ConversationsCollection).UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{"$set": bson.M{"last_message_at": msg.CreatedAt}})
	if err != nil {
		return fmt.Errorf("failed to touch conversation %s: %w", msg.ConversationID, err)
	}
	return nil
}

func systemMessage(conversationID, senderID utils.SixID, content string) *models.Message {
	return &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           models.MessageText,
		Content:        content,
		IsSystem:       true,
	}
}

// userNames maps user ids to display names; unknown ids are left out.
func userNames(ctx context.Context, database *mongo.Database, ids []utils.SixID) (map[utils.SixID]string, error) {
	names := make(map[utils.SixID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	cursor, err := database.Collection(models.UsersCollection).Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"name": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to load user names: %w", err)
	}
	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode user names: %w", err)
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

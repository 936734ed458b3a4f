package db

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/models"
)

// Index names referenced by duplicate-key checks in services.
const (
	IndexUserEmail           = "email_unique"
	IndexConversationTeacher = "request_teacher_unique"
	IndexBlacklistTeacher    = "blacklist_request_teacher_unique"
	IndexPledgeCheckout      = "checkout_session_unique"
	IndexWebhookEventID      = "provider_event_unique"
	IndexSettingKey          = "key_unique"
	IndexRatingUser          = "rating_project_user_unique"
)

type collectionIndexes struct {
	collection string
	indexes    []mongo.IndexModel
}

func indexPlan() []collectionIndexes {
	return []collectionIndexes{
		{models.UsersCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName(IndexUserEmail).SetUnique(true)},
			{Keys: bson.D{{Key: "stripe_account_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		}},
		{models.RequestsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "is_private", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "target_teacher_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		}},
		{models.RequestBlacklistCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "teacher_id", Value: 1}}, Options: options.Index().SetName(IndexBlacklistTeacher).SetUnique(true)},
			{Keys: bson.D{{Key: "teacher_id", Value: 1}}},
		}},
		{models.ConversationsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "teacher_id", Value: 1}}, Options: options.Index().SetName(IndexConversationTeacher).SetUnique(true)},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "last_message_at", Value: -1}}},
			{Keys: bson.D{{Key: "teacher_id", Value: 1}, {Key: "last_message_at", Value: -1}}},
		}},
		{models.MessagesCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		}},
		{models.ProjectsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "teacher_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{models.PledgesCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "checkout_session_id", Value: 1}}, Options: options.Index().SetName(IndexPledgeCheckout).SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "payment_intent_id", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{models.NotificationsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{models.VideosCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "project_id", Value: 1}}},
		}},
		{models.VideoCommentsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "video_id", Value: 1}, {Key: "created_at", Value: 1}}},
		}},
		{models.RatingsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetName(IndexRatingUser).SetUnique(true)},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "created_at", Value: -1}}},
		}},
		{models.WebhookEventsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "provider_event_id", Value: 1}}, Options: options.Index().SetName(IndexWebhookEventID).SetUnique(true)},
		}},
		{models.SettingsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetName(IndexSettingKey).SetUnique(true)},
		}},
	}
}

// EnsureIndexes creates every index the services rely on. Existing indexes with the
// same definition are left alone, so it is safe to run on every start.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	for _, ci := range indexPlan() {
		names, err := database.Collection(ci.collection).Indexes().CreateMany(ctx, ci.indexes)
		if err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", ci.collection, err)
		}
		log.Printf("Ensured %d indexes on %s", len(names), ci.collection)
	}
	return nil
}

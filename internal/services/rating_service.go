package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lingocrowd/core/internal/db"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/utils"
)

const (
	minRating = 1
	maxRating = 5
)

// IRatingService handles backer ratings of completed projects.
type IRatingService interface {
	RateProject(ctx context.Context, actor models.Actor, projectID utils.SixID, rating int, comment string) (*models.ProjectRating, error)
	ListRatings(ctx context.Context, projectID utils.SixID) ([]models.ProjectRating, error)
}

type ratingService struct {
	db *mongo.Database
}

// NewRatingService creates a RatingService.
func NewRatingService(database *mongo.Database) IRatingService {
	return &ratingService{db: database}
}

// RateProject records the caller's rating. Only backers with a CAPTURED pledge may rate,
// only once the project is COMPLETED, and only once per project.
func (s *ratingService) RateProject(ctx context.Context, actor models.Actor, projectID utils.SixID, rating int, comment string) (*models.ProjectRating, error) {
	if rating < minRating || rating > maxRating {
		return nil, newValidationError("rating", fmt.Sprintf("must be between %d and %d", minRating, maxRating))
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxContentLength {
		return nil, newValidationError("comment", fmt.Sprintf("must be at most %d characters", maxContentLength))
	}
	project, err := findProject(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.ProjectCompleted {
		return nil, precondition("project", string(project.Status), string(models.ProjectCompleted))
	}
	backed, err := s.db.Collection(models.PledgesCollection).CountDocuments(ctx,
		bson.M{"project_id": project.ID, "student_id": actor.UserID, "status": models.PledgeCaptured},
		options.Count().SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to check backing of %s on %s: %w", actor.UserID, project.ID, err)
	}
	if backed == 0 {
		return nil, forbidden("rate a project you did not back")
	}

	r := &models.ProjectRating{
		ProjectID: project.ID,
		UserID:    actor.UserID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertOne(ctx, s.db.Collection(models.RatingsCollection), r); err != nil {
		if db.IsDuplicateOnIndex(err, db.IndexRatingUser) {
			return nil, newValidationError("project_id", "already rated")
		}
		return nil, fmt.Errorf("failed to insert rating of %s: %w", project.ID, err)
	}
	return r, nil
}

// ListRatings returns the ratings of a project, newest first.
func (s *ratingService) ListRatings(ctx context.Context, projectID utils.SixID) ([]models.ProjectRating, error) {
	cursor, err := s.db.Collection(models.RatingsCollection).Find(ctx, bson.M{"project_id": projectID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings of %s: %w", projectID, err)
	}
	ratings := []models.ProjectRating{}
	if err := cursor.All(ctx, &ratings); err != nil {
		return nil, fmt.Errorf("failed to decode ratings of %s: %w", projectID, err)
	}
	ids := make([]utils.SixID, 0, len(ratings))
	for _, r := range ratings {
		ids = append(ids, r.UserID)
	}
	names, err := userNames(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range ratings {
		ratings[i].UserName = names[ratings[i].UserID]
	}
	return ratings, nil
}

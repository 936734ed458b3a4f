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
	"lingocrowd/core/internal/storage"
	"lingocrowd/core/internal/utils"
)

// IVideoService handles deliverable uploads for projects.
type IVideoService interface {
	RequestUpload(ctx context.Context, actor models.Actor, projectID utils.SixID, filename, contentType string) (*storage.Upload, error)
	RequestDemoUpload(ctx context.Context, actor models.Actor, conversationID utils.SixID, filename, contentType string) (*storage.Upload, error)
	ConfirmUpload(ctx context.Context, actor models.Actor, projectID utils.SixID, objectKey, title string) (*models.Video, error)
	ListVideos(ctx context.Context, projectID utils.SixID) ([]models.Video, error)
	CountVideos(ctx context.Context, projectID utils.SixID) (int64, error)
	AddComment(ctx context.Context, actor models.Actor, videoID utils.SixID, content string) (*models.VideoComment, error)
	ListComments(ctx context.Context, videoID utils.SixID) ([]models.VideoComment, error)
}

type videoService struct {
	db      *mongo.Database
	d       *Dispatcher
	storage storage.IVideoStorage
}

// NewVideoService creates a VideoService.
func NewVideoService(database *mongo.Database, d *Dispatcher, store storage.IVideoStorage) IVideoService {
	return &videoService{db: database, d: d, storage: store}
}

func (s *videoService) ownedProject(ctx context.Context, actor models.Actor, projectID utils.SixID) (*models.Project, error) {
	project, err := findProject(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(project.TeacherID) {
		return nil, forbidden("upload videos to this project")
	}
	// Deliverables are produced once the project is funded.
	if project.Status != models.ProjectSuccessful {
		return nil, precondition("project", string(project.Status), string(models.ProjectSuccessful))
	}
	return project, nil
}

func (s *videoService) RequestUpload(ctx context.Context, actor models.Actor, projectID utils.SixID, filename, contentType string) (*storage.Upload, error) {
	project, err := s.ownedProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	upload, err := s.storage.PresignVideoUpload(ctx, storage.VideoDeliverable, project.ID.String(), filename, contentType)
	if err != nil {
		return nil, newValidationError("content_type", err.Error())
	}
	return upload, nil
}

// RequestDemoUpload presigns a demo video for the teacher of an open conversation. The
// resulting public URL is sent with a DEMO_VIDEO message.
func (s *videoService) RequestDemoUpload(ctx context.Context, actor models.Actor, conversationID utils.SixID, filename, contentType string) (*storage.Upload, error) {
	conv, err := findConversation(ctx, s.db, conversationID)
	if err != nil {
		return nil, err
	}
	if !actor.Is(conv.TeacherID) {
		return nil, forbidden("upload demo videos to this conversation")
	}
	if conv.Status != models.ConversationOpen {
		return nil, precondition("conversation", string(conv.Status), "OPEN")
	}
	upload, err := s.storage.PresignVideoUpload(ctx, storage.VideoDemo, conv.ID.String(), filename, contentType)
	if err != nil {
		return nil, newValidationError("content_type", err.Error())
	}
	return upload, nil
}

// ConfirmUpload records an uploaded deliverable and tells every backer.
func (s *videoService) ConfirmUpload(ctx context.Context, actor models.Actor, projectID utils.SixID, objectKey, title string) (*models.Video, error) {
	project, err := s.ownedProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if !s.storage.OwnsKey(storage.VideoDeliverable, project.ID.String(), objectKey) {
		return nil, newValidationError("object_key", "does not belong to this project")
	}
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLength {
		return nil, newValidationError("title", "must be 1-200 characters")
	}
	backers, err := capturedBackers(ctx, s.db, project.ID)
	if err != nil {
		return nil, err
	}

	video := &models.Video{
		ProjectID: project.ID,
		TeacherID: project.TeacherID,
		Title:     title,
		ObjectKey: objectKey,
		URL:       s.storage.PublicURL(objectKey),
		CreatedAt: time.Now().UTC(),
	}
	err = s.d.withTx(ctx, func(sc mongo.SessionContext, a *afterCommit) error {
		if err := db.InsertOne(sc, s.db.Collection(models.VideosCollection), video); err != nil {
			return fmt.Errorf("failed to insert video for project %s: %w", project.ID, err)
		}
		for _, backer := range backers {
			if err := a.notify(sc, s.db, backer, models.NotifyNewVideo,
				fmt.Sprintf("A new video '%s' is available in '%s'.", title, project.Title), projectLink(project.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (s *videoService) ListVideos(ctx context.Context, projectID utils.SixID) ([]models.Video, error) {
	cursor, err := s.db.Collection(models.VideosCollection).Find(ctx, bson.M{"project_id": projectID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list videos of %s: %w", projectID, err)
	}
	videos := []models.Video{}
	if err := cursor.All(ctx, &videos); err != nil {
		return nil, fmt.Errorf("failed to decode videos of %s: %w", projectID, err)
	}
	return videos, nil
}

// AddComment posts a comment under a delivered video. Any signed-in user may comment.
func (s *videoService) AddComment(ctx context.Context, actor models.Actor, videoID utils.SixID, content string) (*models.VideoComment, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxContentLength {
		return nil, newValidationError("content", fmt.Sprintf("must be 1-%d characters", maxContentLength))
	}
	video, err := findByID[models.Video](ctx, s.db, models.VideosCollection, videoID, "video")
	if err != nil {
		return nil, err
	}
	comment := &models.VideoComment{
		VideoID:   video.ID,
		UserID:    actor.UserID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertOne(ctx, s.db.Collection(models.VideoCommentsCollection), comment); err != nil {
		return nil, fmt.Errorf("failed to insert comment on video %s: %w", video.ID, err)
	}
	names, err := userNames(ctx, s.db, []utils.SixID{actor.UserID})
	if err != nil {
		return nil, err
	}
	comment.UserName = names[actor.UserID]
	return comment, nil
}

// ListComments returns the comments of a video, oldest first.
func (s *videoService) ListComments(ctx context.Context, videoID utils.SixID) ([]models.VideoComment, error) {
	cursor, err := s.db.Collection(models.VideoCommentsCollection).Find(ctx, bson.M{"video_id": videoID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list comments of video %s: %w", videoID, err)
	}
	comments := []models.VideoComment{}
	if err := cursor.All(ctx, &comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments of video %s: %w", videoID, err)
	}
	ids := make([]utils.SixID, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.UserID)
	}
	names, err := userNames(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range comments {
		comments[i].UserName = names[comments[i].UserID]
	}
	return comments, nil
}

func (s *videoService) CountVideos(ctx context.Context, projectID utils.SixID) (int64, error) {
	return countVideos(ctx, s.db, projectID)
}

func countVideos(ctx context.Context, database *mongo.Database, projectID utils.SixID) (int64, error) {
	n, err := database.Collection(models.VideosCollection).CountDocuments(ctx, bson.M{"project_id": projectID})
	if err != nil {
		return 0, fmt.Errorf("failed to count videos of %s: %w", projectID, err)
	}
	return n, nil
}

// capturedBackers returns the distinct students with a CAPTURED pledge on the project.
func capturedBackers(ctx context.Context, database *mongo.Database, projectID utils.SixID) ([]utils.SixID, error) {
	cursor, err := database.Collection(models.PledgesCollection).Find(ctx,
		bson.M{"project_id": projectID, "status": models.PledgeCaptured},
		options.Find().SetProjection(bson.M{"student_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list backers of %s: %w", projectID, err)
	}
	var pledges []models.Pledge
	if err := cursor.All(ctx, &pledges); err != nil {
		return nil, fmt.Errorf("failed to decode backers of %s: %w", projectID, err)
	}
	seen := make(map[utils.SixID]struct{}, len(pledges))
	backers := make([]utils.SixID, 0, len(pledges))
	for _, p := range pledges {
		if _, ok := seen[p.StudentID]; ok {
			continue
		}
		seen[p.StudentID] = struct{}{}
		backers = append(backers, p.StudentID)
	}
	return backers, nil
}

package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"lingocrowd/core/internal/models"
)

func TestVideoService_ConfirmUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	videos := NewVideoService(env.db, NewDispatcher(env.db, env.hub, env.tasks), new(mockVideoStorage))

	teacher := env.seedUser(t, models.RoleTeacher)
	other := env.seedUser(t, models.RoleTeacher)
	backer := env.seedUser(t, models.RoleStudent)
	refunded := env.seedUser(t, models.RoleStudent)

	funding := env.seedProject(t, teacher, 1000, models.ProjectFunding)
	key := fmt.Sprintf("videos/projects/%s/clip.mp4", funding.ID)
	_, err := videos.ConfirmUpload(ctx, teacher, funding.ID, key, "Lesson 1")
	var pre *PreconditionError
	assert.ErrorAs(t, err, &pre, "deliverables need a funded project")

	project := env.seedProject(t, teacher, 1000, models.ProjectSuccessful)
	env.seedPledge(t, project, backer, 1000, models.PledgeCaptured)
	env.seedPledge(t, project, refunded, 300, models.PledgeRefunded)
	key = fmt.Sprintf("videos/projects/%s/clip.mp4", project.ID)

	_, err = videos.ConfirmUpload(ctx, other, project.ID, key, "Lesson 1")
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)

	_, err = videos.ConfirmUpload(ctx, teacher, project.ID, "videos/projects/SOMEONEELS/clip.mp4", "Lesson 1")
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "object_key", valErr.Field)

	_, err = videos.ConfirmUpload(ctx, teacher, project.ID, key, "   ")
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "title", valErr.Field)

	video, err := videos.ConfirmUpload(ctx, teacher, project.ID, key, " Lesson 1 ")
	require.NoError(t, err)
	assert.Equal(t, "Lesson 1", video.Title)
	assert.Equal(t, "https://cdn.example.com/"+key, video.URL)

	n, err := videos.CountVideos(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	list, err := videos.ListVideos(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.Equal(t, int64(1), env.countNotifications(t, backer.UserID, models.NotifyNewVideo))
	assert.Equal(t, int64(0), env.countNotifications(t, refunded.UserID, models.NotifyNewVideo), "only CAPTURED backers hear about videos")
	assert.Equal(t, int64(1), env.count(t, models.VideosCollection, bson.M{"project_id": project.ID}))
}

func TestVideoService_Comments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	videos := NewVideoService(env.db, NewDispatcher(env.db, env.hub, env.tasks), new(mockVideoStorage))

	teacher := env.seedUser(t, models.RoleTeacher)
	viewer := env.seedUser(t, models.RoleStudent)
	project := env.seedProject(t, teacher, 1000, models.ProjectSuccessful)
	key := fmt.Sprintf("videos/projects/%s/clip.mp4", project.ID)
	video, err := videos.ConfirmUpload(ctx, teacher, project.ID, key, "Lesson 1")
	require.NoError(t, err)

	var valErr *ValidationError
	_, err = videos.AddComment(ctx, viewer, video.ID, "  ")
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "content", valErr.Field)

	var nf *NotFoundError
	_, err = videos.AddComment(ctx, viewer, models.NewBase().ID, "Hola")
	assert.ErrorAs(t, err, &nf)

	comment, err := videos.AddComment(ctx, viewer, video.ID, " Muy útil ")
	require.NoError(t, err)
	assert.Equal(t, "Muy útil", comment.Content)
	assert.Equal(t, string(models.RoleStudent), comment.UserName)
	time.Sleep(5 * time.Millisecond)
	_, err = videos.AddComment(ctx, teacher, video.ID, "Gracias")
	require.NoError(t, err)

	list, err := videos.ListComments(ctx, video.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, viewer.UserID, list[0].UserID, "oldest first")
	assert.Equal(t, "Gracias", list[1].Content)
	assert.Equal(t, string(models.RoleTeacher), list[1].UserName)
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

// RestProjectHandler serves project, video, comment and rating reads.
type RestProjectHandler struct {
	projectService services.IProjectService
	videoService   services.IVideoService
	ratingService  services.IRatingService
}

func NewRestProjectHandler(projectService services.IProjectService, videoService services.IVideoService, ratingService services.IRatingService) *RestProjectHandler {
	return &RestProjectHandler{projectService: projectService, videoService: videoService, ratingService: ratingService}
}

// GetProjectByID handles GET /v1/project/:id
func (h *RestProjectHandler) GetProjectByID(c *gin.Context) {
	projectID, ok := pathID(c, "project")
	if !ok {
		return
	}
	project, err := h.projectService.GetProject(c.Request.Context(), projectID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// ListProjectVideos handles GET /v1/project/:id/videos
func (h *RestProjectHandler) ListProjectVideos(c *gin.Context) {
	projectID, ok := pathID(c, "project")
	if !ok {
		return
	}
	videos, err := h.videoService.ListVideos(c.Request.Context(), projectID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": videos})
}

// ListProjectRatings handles GET /v1/project/:id/ratings
func (h *RestProjectHandler) ListProjectRatings(c *gin.Context) {
	projectID, ok := pathID(c, "project")
	if !ok {
		return
	}
	ratings, err := h.ratingService.ListRatings(c.Request.Context(), projectID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ratings})
}

// ListVideoComments handles GET /v1/video/:id/comments
func (h *RestProjectHandler) ListVideoComments(c *gin.Context) {
	videoID, ok := pathID(c, "video")
	if !ok {
		return
	}
	comments, err := h.videoService.ListComments(c.Request.Context(), videoID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": comments})
}

// ListProjects handles GET /v1/projects?teacher_id=&status=FUNDING,SUCCESSFUL&language=
func (h *RestProjectHandler) ListProjects(c *gin.Context) {
	limit, offset := pageParams(c)
	filter := services.ProjectFilter{
		Language: c.Query("language"),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := c.Query("teacher_id"); raw != "" {
		teacherID, err := utils.ParseSixID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid teacher ID format", "code": CodeValidation})
			return
		}
		filter.TeacherID = &teacherID
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, models.ProjectStatus(strings.ToUpper(s)))
			}
		}
	}
	projects, err := h.projectService.ListProjects(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": projects})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/services"
)

// RestUserHandler handles REST requests related to users.
type RestUserHandler struct {
	userService    services.IUserService
	projectService services.IProjectService
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(userService services.IUserService, projectService services.IProjectService) *RestUserHandler {
	return &RestUserHandler{userService: userService, projectService: projectService}
}

// PublicUser represents the data returned for a user profile.
type PublicUser struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Role           models.Role `json:"role"`
	DateJoined     string      `json:"date_joined"`
	AcceptsPledges bool        `json:"accepts_pledges"`
	ProjectCount   int         `json:"project_count"`
}

// GetUserByID handles GET /v1/user/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	userID, ok := pathID(c, "user")
	if !ok {
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if user.Deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found", "code": CodeNotFound})
		return
	}

	publicUser := PublicUser{
		ID:             user.ID.String(),
		Name:           user.Name,
		Role:           user.Role,
		DateJoined:     user.CreatedAt.Format("2006-01-02"),
		AcceptsPledges: user.HasPayoutDestination() && user.ChargesEnabled,
	}
	if user.Role.CanTeach() {
		projects, err := h.projectService.ListProjects(c.Request.Context(), services.ProjectFilter{TeacherID: &user.ID, Limit: maxPageSize})
		if err != nil {
			abortWithError(c, err)
			return
		}
		publicUser.ProjectCount = len(projects)
	}
	c.JSON(http.StatusOK, publicUser)
}

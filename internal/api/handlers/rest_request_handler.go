package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/api/middleware"
	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// pageParams reads limit and offset, falling back to defaults on bad input.
func pageParams(c *gin.Context) (limit, offset int64) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)), 10, 64)
	if err != nil || limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, err = strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// pathID parses the :id path parameter.
func pathID(c *gin.Context, entity string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + entity + " ID format", "code": CodeValidation})
		return utils.SixID{}, false
	}
	return id, true
}

// viewer is the optional caller of a public read.
func viewer(c *gin.Context) *models.Actor {
	if a, ok := middleware.ActorFromContext(c); ok {
		return &a
	}
	return nil
}

// RestRequestHandler serves request reads. Private requests are only visible to their
// owner, their target teacher and staff.
type RestRequestHandler struct {
	requestService services.IRequestService
}

func NewRestRequestHandler(requestService services.IRequestService) *RestRequestHandler {
	return &RestRequestHandler{requestService: requestService}
}

// GetRequestByID handles GET /v1/request/:id
func (h *RestRequestHandler) GetRequestByID(c *gin.Context) {
	requestID, ok := pathID(c, "request")
	if !ok {
		return
	}
	req, err := h.requestService.GetRequest(c.Request.Context(), viewer(c), requestID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ListRequests handles GET /v1/requests?language=&level=&status=&limit=&offset=
func (h *RestRequestHandler) ListRequests(c *gin.Context) {
	limit, offset := pageParams(c)
	filter := services.RequestFilter{
		Language: c.Query("language"),
		Level:    c.Query("level"),
		Status:   models.RequestStatus(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	}
	requests, err := h.requestService.ListRequests(c.Request.Context(), viewer(c), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": requests})
}

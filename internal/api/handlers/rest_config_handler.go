package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/services"
)

// RestConfigHandler handles requests for the /config REST endpoint.
type RestConfigHandler struct {
	settingsService services.ISettingsService
}

// NewRestConfigHandler creates a new RestConfigHandler.
func NewRestConfigHandler(settingsService services.ISettingsService) *RestConfigHandler {
	return &RestConfigHandler{settingsService: settingsService}
}

// GetPublicConfig returns the public platform settings, including the current fee.
// Handles GET /v1/config
func (h *RestConfigHandler) GetPublicConfig(c *gin.Context) {
	publicConfig, err := h.settingsService.GetAllPublic(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve configuration", "code": CodeInternal})
		return
	}
	c.JSON(http.StatusOK, publicConfig)
}

package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/services"
)

// maxWebhookBody matches the largest event payload Stripe sends.
const maxWebhookBody = 64 << 10

// WebhookHandler receives payment provider events. The body must reach the service
// byte for byte, since the signature covers the raw payload.
type WebhookHandler struct {
	webhookService services.IWebhookService
}

func NewWebhookHandler(webhookService services.IWebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// HandleStripe handles POST /v1/webhooks/stripe
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large", "code": CodeWebhookRejected})
		return
	}

	err = h.webhookService.HandleWebhook(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, services.ErrReplayNoop):
		c.JSON(http.StatusOK, gin.H{"received": true, "noop": true})
	default:
		apiErr := FromServiceError(err)
		if apiErr.Code == CodeInternal {
			// Anything but 2xx makes the provider redeliver.
			log.Printf("ERROR: webhook delivery not applied: %v", err)
		}
		c.JSON(apiErr.status(), gin.H{"error": apiErr.Message, "code": apiErr.Code})
	}
}

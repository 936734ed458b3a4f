package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/api/middleware"
	"lingocrowd/core/internal/services"
)

// RestInboxHandler serves the caller's own conversations, notifications and pledges.
// Every route sits behind AuthMiddleware.
type RestInboxHandler struct {
	conversationService services.IConversationService
	notificationService services.INotificationService
	pledgeService       services.IPledgeService
}

func NewRestInboxHandler(
	conversationService services.IConversationService,
	notificationService services.INotificationService,
	pledgeService services.IPledgeService,
) *RestInboxHandler {
	return &RestInboxHandler{
		conversationService: conversationService,
		notificationService: notificationService,
		pledgeService:       pledgeService,
	}
}

// ListConversations handles GET /v1/conversations
func (h *RestInboxHandler) ListConversations(c *gin.Context) {
	a, _ := middleware.ActorFromContext(c)
	inbox, err := h.conversationService.Inbox(c.Request.Context(), a)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

// ListMessages handles GET /v1/conversation/:id/messages. Reading marks the other side's
// messages as read.
func (h *RestInboxHandler) ListMessages(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	limit, _ := pageParams(c)
	a, _ := middleware.ActorFromContext(c)
	messages, err := h.conversationService.ListMessages(c.Request.Context(), a, conversationID, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": messages})
}

// ListNotifications handles GET /v1/notifications?unread=true
func (h *RestInboxHandler) ListNotifications(c *gin.Context) {
	a, _ := middleware.ActorFromContext(c)
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, _ := pageParams(c)
	ctx := c.Request.Context()

	notifications, err := h.notificationService.ListForUser(ctx, a.UserID, unreadOnly, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	unread, err := h.notificationService.UnreadCount(ctx, a.UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notifications, "unread_count": unread})
}

// ListMyPledges handles GET /v1/pledges/mine
func (h *RestInboxHandler) ListMyPledges(c *gin.Context) {
	a, _ := middleware.ActorFromContext(c)
	pledges, err := h.pledgeService.ListMyPledges(c.Request.Context(), a)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pledges})
}

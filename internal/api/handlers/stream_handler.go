package handlers

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/api/middleware"
	"lingocrowd/core/internal/realtime"
	"lingocrowd/core/internal/services"
	"lingocrowd/core/internal/utils"
)

const streamHeartbeat = 25 * time.Second

// StreamHandler serves Server-Sent Events. Each open stream is one presence entry on
// its channel, renewed by the heartbeat, which is what decides between live delivery
// and a stored notification.
type StreamHandler struct {
	fanout              realtime.Fanout
	conversationService services.IConversationService
	heartbeat           time.Duration
}

func NewStreamHandler(fanout realtime.Fanout, conversationService services.IConversationService) *StreamHandler {
	return &StreamHandler{fanout: fanout, conversationService: conversationService, heartbeat: streamHeartbeat}
}

// WithHeartbeat overrides the interval between pings and presence renewals.
func (h *StreamHandler) WithHeartbeat(d time.Duration) *StreamHandler {
	h.heartbeat = d
	return h
}

// UserStream handles GET /v1/stream
func (h *StreamHandler) UserStream(c *gin.Context) {
	a, _ := middleware.ActorFromContext(c)
	h.stream(c, a.UserID, realtime.UserChannel(a.UserID))
}

// ConversationStream handles GET /v1/conversation/:id/stream. Only the two participants
// may listen; staff read through the REST endpoints instead.
func (h *StreamHandler) ConversationStream(c *gin.Context) {
	conversationID, ok := pathID(c, "conversation")
	if !ok {
		return
	}
	a, _ := middleware.ActorFromContext(c)
	conv, err := h.conversationService.GetConversation(c.Request.Context(), a, conversationID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !conv.HasParticipant(a.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only participants may follow a conversation", "code": CodeForbidden})
		return
	}
	h.stream(c, a.UserID, realtime.ConversationChannel(conversationID))
}

func (h *StreamHandler) stream(c *gin.Context, userID utils.SixID, channel string) {
	ctx := c.Request.Context()
	sub := realtime.NewSubscriber(userID)
	if err := h.fanout.Subscribe(ctx, channel, sub); err != nil {
		log.Printf("Failed to open stream %s for %s: %v", channel, userID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live updates unavailable", "code": CodeInternal})
		return
	}
	defer func() {
		// The request context is already cancelled here.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.fanout.Unsubscribe(cleanupCtx, channel, sub)
		sub.Close()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"channel": channel})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev.Data)
			return true
		case <-ticker.C:
			if err := h.fanout.Touch(ctx, channel, sub); err != nil {
				log.Printf("Failed to renew presence on %s for %s: %v", channel, userID, err)
			}
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

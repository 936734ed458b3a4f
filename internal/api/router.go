package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/api/handlers"
	"lingocrowd/core/internal/api/middleware"
	"lingocrowd/core/internal/config"
	"lingocrowd/core/internal/email"
	"lingocrowd/core/internal/realtime"
)

// webhookPrefix is exempt from rate limiting: the provider retries on 429 anyway and
// all deliveries arrive from a handful of addresses.
const webhookPrefix = "/v1/webhooks/"

// SetupRouter configures and returns the main Gin engine.
// ctx bounds background work owned by the router, such as rate limiter cleanup.
func SetupRouter(ctx context.Context, cfg *config.Config, svc handlers.Services, fanout realtime.Fanout) *gin.Engine {
	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg, webhookPrefix)
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigin))
	r.Use(middleware.OptionalAuthMiddleware(cfg.JwtSecret))
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(cfg, svc)
	restConfigHandler := handlers.NewRestConfigHandler(svc.Settings)
	restUserHandler := handlers.NewRestUserHandler(svc.Users, svc.Projects)
	restRequestHandler := handlers.NewRestRequestHandler(svc.Requests)
	restProjectHandler := handlers.NewRestProjectHandler(svc.Projects, svc.Videos, svc.Ratings)
	restInboxHandler := handlers.NewRestInboxHandler(svc.Conversations, svc.Notifications, svc.Pledges)
	webhookHandler := handlers.NewWebhookHandler(svc.Webhooks)
	streamHandler := handlers.NewStreamHandler(fanout, svc.Conversations)

	v1 := r.Group("/v1")
	{
		// Mutations; per-method access is checked by the handler.
		v1.POST("/api", jsonApiHandler.HandleRequest)

		// Public reads. A token, when sent, widens what private requests are visible.
		v1.GET("/config", restConfigHandler.GetPublicConfig)
		v1.GET("/user/:id", restUserHandler.GetUserByID)
		v1.GET("/request/:id", restRequestHandler.GetRequestByID)
		v1.GET("/requests", restRequestHandler.ListRequests)
		v1.GET("/project/:id", restProjectHandler.GetProjectByID)
		v1.GET("/project/:id/videos", restProjectHandler.ListProjectVideos)
		v1.GET("/project/:id/ratings", restProjectHandler.ListProjectRatings)
		v1.GET("/video/:id/comments", restProjectHandler.ListVideoComments)
		v1.GET("/projects", restProjectHandler.ListProjects)

		v1.POST("/webhooks/stripe", webhookHandler.HandleStripe)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/conversations", restInboxHandler.ListConversations)
			authRequired.GET("/conversation/:id/messages", restInboxHandler.ListMessages)
			authRequired.GET("/notifications", restInboxHandler.ListNotifications)
			authRequired.GET("/pledges/mine", restInboxHandler.ListMyPledges)

			authRequired.GET("/stream", streamHandler.UserStream)
			authRequired.GET("/conversation/:id/stream", streamHandler.ConversationStream)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service API. It listens on a separate
// port that is never exposed publicly.
func SetupServiceRouter(cfg *config.Config, database *mongo.Database, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		status, body := health(c.Request.Context(), database, rdb)
		c.JSON(status, body)
	})

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "data": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				log.Println("Shutdown signal sent successfully.")
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}
		case "health":
			status, body := health(c.Request.Context(), database, rdb)
			c.JSON(status, gin.H{"success": status == http.StatusOK, "data": body})
		case "getTestEmail":
			getTestEmail(c, rdb, req.Arguments)
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

func health(ctx context.Context, database *mongo.Database, rdb *redis.Client) (int, gin.H) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	body := gin.H{"mongo": "ok", "redis": "ok"}
	status := http.StatusOK
	if database == nil {
		body["mongo"] = "not configured"
	} else if err := database.Client().Ping(ctx, nil); err != nil {
		body["mongo"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if rdb == nil {
		body["redis"] = "not configured"
	} else if err := rdb.Ping(ctx).Err(); err != nil {
		body["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	return status, body
}

// getTestEmail returns (and consumes) the last captured e-mail for [email, subject].
func getTestEmail(c *gin.Context, rdb *redis.Client, rawArgs json.RawMessage) {
	var args []string
	if err := json.Unmarshal(rawArgs, &args); err != nil || len(args) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [email, subject]"})
		return
	}
	if rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Redis not configured"})
		return
	}
	redisKey := email.MockEmailKey(args[0], args[1])

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	var stored string
	found := false
	for i := 0; i < 10; i++ {
		data, err := rdb.Get(ctx, redisKey).Result()
		if err == nil {
			stored = data
			found = true
			rdb.Del(ctx, redisKey)
			break
		}
		if err != redis.Nil {
			log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
		return
	}

	var emailData email.StoredEmail
	if err := json.Unmarshal([]byte(stored), &emailData); err != nil {
		log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})
}

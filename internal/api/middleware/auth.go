package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/auth"
	"lingocrowd/core/internal/models"
)

const (
	// ContextKeyClaims holds the validated *auth.Claims.
	ContextKeyClaims = "claims"
	// ContextKeyActor holds the models.Actor derived from the claims.
	ContextKeyActor = "actor"
)

// bearerToken reads the token from the Authorization header. EventSource clients cannot
// set headers, so the access_token query parameter is accepted as well.
func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func authenticate(c *gin.Context, jwtSecret string) (bool, string) {
	token, ok := bearerToken(c)
	if !ok {
		return false, "Authorization header format must be Bearer {token}"
	}
	claims, err := auth.ValidateJWT(token, jwtSecret)
	if err != nil {
		return false, "Invalid or expired token"
	}
	actor, err := claims.Actor()
	if err != nil {
		return false, "Invalid or expired token"
	}
	c.Set(ContextKeyClaims, claims)
	c.Set(ContextKeyActor, actor)
	return true, ""
}

// AuthMiddleware requires a valid JWT.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" && c.Query("access_token") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		if ok, msg := authenticate(c, jwtSecret); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Next()
	}
}

// OptionalAuthMiddleware identifies the caller when a token is present and lets anonymous
// requests through. A present but invalid token is still rejected.
func OptionalAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" && c.Query("access_token") == "" {
			c.Next()
			return
		}
		if ok, msg := authenticate(c, jwtSecret); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Next()
	}
}

// StaffMiddleware requires a moderator or admin. Assumes AuthMiddleware runs first.
func StaffMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok || !actor.Role.IsStaff() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Staff privileges required"})
			return
		}
		c.Next()
	}
}

// ActorFromContext returns the authenticated caller, if any.
func ActorFromContext(c *gin.Context) (models.Actor, bool) {
	v, exists := c.Get(ContextKeyActor)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/utils"
)

// Claims defines the structure of the JWT claims.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new JWT for a given user.
func GenerateJWT(userID utils.SixID, role models.Role, secretKey string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT verifies a JWT string and returns the claims if valid.
// Tokens carrying an unknown role are rejected.
func ValidateJWT(tokenString string, secretKey string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid JWT")
	}
	if _, err := models.ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("invalid JWT: %w", err)
	}

	return claims, nil
}

// Actor turns validated claims into the caller identity used by services.
func (c *Claims) Actor() (models.Actor, error) {
	userID, err := utils.ParseSixID(c.UserID)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid user id in token: %w", err)
	}
	return models.Actor{UserID: userID, Role: c.Role}, nil
}

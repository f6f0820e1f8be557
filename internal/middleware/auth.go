package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/damoang/refund-reconciler/internal/common"
	"github.com/damoang/refund-reconciler/pkg/jwt"
	"github.com/gin-gonic/gin"
)

// JWTAuth JWT authentication middleware
func JWTAuth(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Extract Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			common.ErrorResponse(c, http.StatusUnauthorized, "Missing authorization header", nil)
			c.Abort()
			return
		}

		// 2. Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			common.ErrorResponse(c, http.StatusUnauthorized, "Invalid authorization header format", nil)
			c.Abort()
			return
		}

		// 3. Verify token
		claims, err := jwtManager.VerifyToken(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				common.ErrorResponse(c, http.StatusUnauthorized, "Token expired", nil)
			} else {
				common.ErrorResponse(c, http.StatusUnauthorized, "Invalid token", nil)
			}
			c.Abort()
			return
		}

		// 4. Store user info in context
		c.Set("userID", claims.GetUserID())
		c.Set("nickname", claims.GetUserName())
		c.Set("level", claims.GetUserLevel())

		c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *gin.Context) string {
	userID, exists := c.Get("userID")
	if !exists {
		return ""
	}
	if str, ok := userID.(string); ok {
		return str
	}
	return ""
}

// GetUserLevel extracts user level from context
func GetUserLevel(c *gin.Context) int {
	level, exists := c.Get("level")
	if !exists {
		return 0
	}
	if lvl, ok := level.(int); ok {
		return lvl
	}
	return 0
}

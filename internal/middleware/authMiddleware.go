package middleware

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

// RequireAuth validates the admin bearer token and accepts any known role.
// Use RequireRole to narrow a group further.
func RequireAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Use: Bearer <token>",
			})
			return
		}

		claims, err := authService.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		role, _ := claims["role"].(string)
		if !models.Role(role).Valid() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Unknown role",
			})
			return
		}
		maxTier, _ := claims["max_tier"].(string)

		c.Set("user_id", claims["user_id"])
		c.Set("email", claims["email"])
		c.Set("role", role)
		c.Set("max_tier", maxTier)

		c.Next()
	}
}

// RequireRole runs after RequireAuth and rejects callers whose role is not
// listed.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := models.Role(c.GetString("role"))
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient role",
		})
	}
}

// Principal rebuilds the authenticated user from the values RequireAuth
// stored on the context.
func Principal(c *gin.Context) models.User {
	return models.User{
		Email:   c.GetString("email"),
		Role:    models.Role(c.GetString("role")),
		MaxTier: models.Tier(c.GetString("max_tier")),
	}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tomevault/tomevault/internal/config"
)

const (
	ContextUserID   = "user_id"
	ContextUserType = "user_type"
)

// Identify resolves the bearer token into an identity when one is
// presented. Requests without a valid token continue as anonymous;
// enforcement is RequireAuth's job.
func Identify(cfg config.AuthConfig) gin.HandlerFunc {
	byToken := make(map[string]config.TokenConfig, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		byToken[t.Token] = t
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			if ident, found := byToken[token]; found {
				c.Set(ContextUserID, ident.UserID)
				c.Set(ContextUserType, ident.UserType)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests that did not authenticate.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Unauthenticated.",
				"meta":    gin.H{"status": http.StatusUnauthorized},
			})
			return
		}
		c.Next()
	}
}

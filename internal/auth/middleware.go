package auth

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionUserIDKey = "user_id"
	contextUserIDKey = "user_id"
)

// RequireAuth rejects unauthenticated requests and puts the session's
// user id in the gin context for downstream handlers.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		raw := session.Get(sessionUserIDKey)

		userID, ok := raw.(uint)
		if !ok || userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user's id. Only valid behind
// RequireAuth.
func CurrentUserID(c *gin.Context) uint {
	return c.GetUint(contextUserIDKey)
}

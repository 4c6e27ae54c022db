package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/markbates/goth/gothic"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/models"
)

// HandleLogin starts the Google OAuth flow.
func HandleLogin(c *gin.Context) {
	// Gothic requires the "provider" query parameter.
	q := c.Request.URL.Query()
	q.Add("provider", "google")
	c.Request.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Writer, c.Request)
}

// HandleCallback completes the OAuth flow, upserts the user row and
// stores its id in the session.
func HandleCallback(db *gorm.DB, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()
		q.Add("provider", "google")
		c.Request.URL.RawQuery = q.Encode()

		gothUser, err := gothic.CompleteUserAuth(c.Writer, c.Request)
		if err != nil {
			logger.Error("oauth callback failed", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		now := time.Now().UTC()
		var user models.User
		err = db.Where("email = ?", gothUser.Email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{
				Email:       gothUser.Email,
				Name:        gothUser.Name,
				LastLoginAt: &now,
			}
			if err := db.Create(&user).Error; err != nil {
				logger.Error("failed to create user", "email", gothUser.Email, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
				return
			}
		case err == nil:
			if err := db.Model(&user).Updates(map[string]interface{}{
				"name":          gothUser.Name,
				"last_login_at": now,
			}).Error; err != nil {
				logger.Warn("failed to update user on login", "user_id", user.ID, "error", err)
			}
		default:
			logger.Error("failed to load user", "email", gothUser.Email, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}

		session := sessions.Default(c)
		session.Set(sessionUserIDKey, user.ID)
		if err := session.Save(); err != nil {
			logger.Error("failed to save session", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
			return
		}

		logger.Info("user authenticated", "user_id", user.ID, "email", user.Email)
		c.Redirect(http.StatusFound, "/")
	}
}

// HandleLogout clears the session.
func HandleLogout(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		session.Clear()
		if err := session.Save(); err != nil {
			logger.Warn("failed to clear session", "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
	}
}

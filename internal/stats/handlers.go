package stats

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/healthpilot/healthpilot/internal/auth"
)

// TodayHandler serves the caller's DailyStats for the current date in
// their timezone.
func TodayHandler(engine *Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		dailyStats, err := engine.Today(c.Request.Context(), userID)
		if err != nil {
			logger.Error("failed to compute daily stats", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute daily stats"})
			return
		}

		c.JSON(http.StatusOK, dailyStats)
	}
}

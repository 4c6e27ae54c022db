package exercise

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/agent"
	"github.com/healthpilot/healthpilot/internal/auth"
	"github.com/healthpilot/healthpilot/internal/models"
)

const maxDurationMin = 600

type recordRequest struct {
	ExerciseType   string  `json:"exercise_type"`
	CustomType     string  `json:"custom_type"`
	DurationMin    float64 `json:"duration_min"`
	Intensity      string  `json:"intensity"`
	ConversationID *uint   `json:"conversation_id"`
}

// RecordHandler logs an exercise: computes calories from the MET table
// and the user's weight, persists the entry, and appends a synthetic
// transcript pair when a conversation id is supplied.
func RecordHandler(db *gorm.DB, a *agent.Agent, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		var req recordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		exerciseType := req.ExerciseType
		if req.CustomType != "" {
			exerciseType = req.CustomType
		}
		if exerciseType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "exercise_type is required"})
			return
		}
		if req.DurationMin <= 0 || req.DurationMin > maxDurationMin {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("duration_min must be in (0, %d]", maxDurationMin)})
			return
		}
		intensity := req.Intensity
		if intensity == "" {
			intensity = models.IntensityModerate
		}
		if !models.ValidIntensity(intensity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "intensity must be low, moderate or high"})
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			logger.Error("failed to load user", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}
		if user.WeightKg == nil || *user.WeightKg <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body weight is required to compute calories, set it in settings"})
			return
		}

		caloriesBurned := CaloriesBurned(exerciseType, req.DurationMin, intensity, *user.WeightKg)

		local := time.Now().In(user.Location())
		entry := models.ExerciseEntry{
			UserID:         userID,
			Date:           time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			ExerciseType:   exerciseType,
			DurationMin:    req.DurationMin,
			Intensity:      intensity,
			CaloriesBurned: caloriesBurned,
			ConversationID: req.ConversationID,
		}
		if err := db.WithContext(c.Request.Context()).Create(&entry).Error; err != nil {
			logger.Error("failed to persist exercise entry", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record exercise"})
			return
		}

		// The transcript pair is secondary: a stale conversation id
		// keeps the entry and drops only the transcript echo.
		conversationID := req.ConversationID
		if conversationID != nil {
			userText := fmt.Sprintf("Recorded exercise: %s, %.0f min, %s intensity", exerciseType, req.DurationMin, intensity)
			assistantText := fmt.Sprintf("Logged %s for %.0f minutes at %s intensity, about %.0f kcal burned.", exerciseType, req.DurationMin, intensity, caloriesBurned)
			snapshot, _ := json.Marshal([]agent.EntryResult{{Kind: agent.KindExercise, ID: entry.ID, Label: exerciseType}})

			err := a.AppendExchange(c.Request.Context(), userID, *conversationID, userText, assistantText, snapshot, "")
			if err != nil {
				if errors.Is(err, agent.ErrConversationNotFound) {
					conversationID = nil
				} else {
					logger.Warn("failed to append exercise transcript pair", "user_id", userID, "error", err)
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"entry_id":        entry.ID,
			"exercise_type":   exerciseType,
			"duration_min":    req.DurationMin,
			"intensity":       intensity,
			"calories_burned": caloriesBurned,
			"conversation_id": conversationID,
		})
	}
}

// TypesHandler lists the exercise types with table-backed MET values.
func TypesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"types":       KnownTypes(),
			"intensities": []string{models.IntensityLow, models.IntensityModerate, models.IntensityHigh},
		})
	}
}

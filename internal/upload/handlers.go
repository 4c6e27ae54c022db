// Package upload handles the food-photo path: a photo goes through the
// vision model and comes back as a logged diet entry.
package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/agent"
	"github.com/healthpilot/healthpilot/internal/auth"
	"github.com/healthpilot/healthpilot/internal/llm"
	"github.com/healthpilot/healthpilot/internal/models"
)

const maxImageBytes = 10 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// analysis is the nutrition snapshot returned by the vision model.
type analysis struct {
	FoodName          string  `json:"food_name"`
	ServingSize       string  `json:"serving_size"`
	Calories          float64 `json:"calories"`
	ProteinG          float64 `json:"protein_g"`
	CarbsG            float64 `json:"carbs_g"`
	FatG              float64 `json:"fat_g"`
	VegetableG        float64 `json:"vegetable_g"`
	Estimated         bool    `json:"estimated"`
	HasNutritionLabel bool    `json:"has_nutrition_label"`
}

// ImageHandler accepts a multipart food photo, runs vision analysis,
// persists the resulting diet entry and, when a conversation id is
// supplied, echoes the result into the transcript.
func ImageHandler(db *gorm.DB, provider llm.Provider, a *agent.Agent, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		fileHeader, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if fileHeader.Size > maxImageBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image exceeds the 10MB limit"})
			return
		}
		mimeType := fileHeader.Header.Get("Content-Type")
		if !allowedImageTypes[mimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image must be jpeg, png or webp"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			logger.Error("failed to open upload", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
		if err != nil {
			logger.Error("failed to read upload", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			logger.Error("failed to load user", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}

		local := time.Now().In(user.Location())
		mealType := c.PostForm("meal_type")
		if !models.ValidMealType(mealType) {
			mealType = mealTypeForHour(local.Hour())
		}

		raw, err := provider.AnalyzeImage(c.Request.Context(), data, mimeType)
		if err != nil {
			logger.Warn("image analysis failed", "user_id", userID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image analysis failed, no entry was logged"})
			return
		}
		var result analysis
		if err := json.Unmarshal(raw, &result); err != nil || result.FoodName == "" {
			logger.Warn("image analysis returned an unusable payload", "user_id", userID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image analysis failed, no entry was logged"})
			return
		}

		var conversationID *uint
		if rawID := c.PostForm("conversation_id"); rawID != "" {
			var id uint
			if _, err := fmt.Sscanf(rawID, "%d", &id); err != nil || id == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id must be a positive integer"})
				return
			}
			conversationID = &id
		}

		entry := models.DietEntry{
			UserID:         userID,
			Date:           time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			MealType:       mealType,
			FoodName:       result.FoodName,
			Calories:       result.Calories,
			ProteinG:       result.ProteinG,
			CarbsG:         result.CarbsG,
			FatG:           result.FatG,
			VegetableG:     result.VegetableG,
			Estimated:      result.Estimated || !result.HasNutritionLabel,
			Source:         models.SourceImage,
			ConversationID: conversationID,
		}
		if err := db.WithContext(c.Request.Context()).Create(&entry).Error; err != nil {
			logger.Error("failed to persist diet entry", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log the analyzed meal"})
			return
		}

		if conversationID != nil {
			userText := fmt.Sprintf("Uploaded a food photo for %s", mealType)
			assistantText := fmt.Sprintf("Logged %s (%s) for %s, about %.0f kcal.", result.FoodName, result.ServingSize, mealType, result.Calories)
			snapshot, _ := json.Marshal(result)

			err := a.AppendExchange(c.Request.Context(), userID, *conversationID, userText, assistantText, snapshot, fileHeader.Filename)
			if err != nil {
				if errors.Is(err, agent.ErrConversationNotFound) {
					conversationID = nil
				} else {
					logger.Warn("failed to append upload transcript pair", "user_id", userID, "error", err)
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"entry_id":        entry.ID,
			"meal_type":       mealType,
			"analysis":        result,
			"conversation_id": conversationID,
		})
	}
}

// mealTypeForHour picks a meal type from the local hour when the
// uploader did not choose one.
func mealTypeForHour(hour int) string {
	switch {
	case hour >= 5 && hour < 11:
		return models.MealBreakfast
	case hour >= 11 && hour < 15:
		return models.MealLunch
	case hour >= 17 && hour < 22:
		return models.MealDinner
	default:
		return models.MealSnack
	}
}

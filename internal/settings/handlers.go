// Package settings serves the body-profile read/update endpoints. The
// profile is the only mutable user state and feeds the anthropometric
// computations.
package settings

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/anthro"
	"github.com/healthpilot/healthpilot/internal/auth"
	"github.com/healthpilot/healthpilot/internal/models"
)

type updateRequest struct {
	Name          *string  `json:"name"`
	Timezone      *string  `json:"timezone"`
	Gender        *string  `json:"gender"`
	HeightCm      *float64 `json:"height_cm"`
	WeightKg      *float64 `json:"weight_kg"`
	Age           *int     `json:"age"`
	ActivityLevel *string  `json:"activity_level"`
}

func (r *updateRequest) validate() error {
	if r.Gender != nil && !models.ValidGender(*r.Gender) {
		return errors.New("gender must be male or female")
	}
	if r.ActivityLevel != nil && !models.ValidActivityLevel(*r.ActivityLevel) {
		return errors.New("activity_level must be sedentary, light, moderate or very_active")
	}
	if r.HeightCm != nil && (*r.HeightCm <= 0 || *r.HeightCm > 300) {
		return errors.New("height_cm must be in (0, 300]")
	}
	if r.WeightKg != nil && (*r.WeightKg <= 0 || *r.WeightKg > 500) {
		return errors.New("weight_kg must be in (0, 500]")
	}
	if r.Age != nil && (*r.Age <= 0 || *r.Age > 150) {
		return errors.New("age must be in (0, 150]")
	}
	if r.Timezone != nil {
		if _, err := time.LoadLocation(*r.Timezone); err != nil {
			return errors.New("timezone must be a valid IANA name")
		}
	}
	return nil
}

// profileResponse renders a user's profile with freshly computed
// anthropometrics. BMR and TDEE are null when the profile is
// incomplete, never zero.
func profileResponse(user *models.User) gin.H {
	resp := gin.H{
		"email":          user.Email,
		"name":           user.Name,
		"timezone":       user.Timezone,
		"gender":         user.Gender,
		"height_cm":      user.HeightCm,
		"weight_kg":      user.WeightKg,
		"age":            user.Age,
		"activity_level": user.ActivityLevel,
		"bmr":            nil,
		"tdee":           nil,
	}
	if metrics, err := anthro.FromProfile(user); err == nil {
		resp["bmr"] = metrics.BMR
		resp["tdee"] = metrics.TDEE
	}
	return resp
}

// GetHandler returns the caller's profile and current anthropometrics.
func GetHandler(db *gorm.DB, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			logger.Error("failed to load user", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
			return
		}

		c.JSON(http.StatusOK, profileResponse(&user))
	}
}

// UpdateHandler applies a partial profile update and returns the
// recomputed anthropometrics.
func UpdateHandler(db *gorm.DB, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			logger.Error("failed to load user", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
			return
		}

		updates := map[string]interface{}{}
		if req.Name != nil {
			updates["name"] = *req.Name
		}
		if req.Timezone != nil {
			updates["timezone"] = *req.Timezone
		}
		if req.Gender != nil {
			updates["gender"] = *req.Gender
		}
		if req.HeightCm != nil {
			updates["height_cm"] = *req.HeightCm
		}
		if req.WeightKg != nil {
			updates["weight_kg"] = *req.WeightKg
		}
		if req.Age != nil {
			updates["age"] = *req.Age
		}
		if req.ActivityLevel != nil {
			updates["activity_level"] = *req.ActivityLevel
		}

		if len(updates) > 0 {
			if err := db.WithContext(c.Request.Context()).Model(&user).Updates(updates).Error; err != nil {
				logger.Error("failed to update settings", "user_id", userID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
				return
			}
			if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
				logger.Error("failed to reload user", "user_id", userID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
				return
			}
		}

		c.JSON(http.StatusOK, profileResponse(&user))
	}
}

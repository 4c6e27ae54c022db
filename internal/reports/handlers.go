package reports

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/auth"
	"github.com/healthpilot/healthpilot/internal/models"
	"github.com/healthpilot/healthpilot/internal/stats"
)

// resolveDate parses the optional ?date= query, defaulting to today in
// the user's timezone.
func resolveDate(c *gin.Context, db *gorm.DB, userID uint) (time.Time, error) {
	if raw := c.Query("date"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, errors.New("date must be YYYY-MM-DD")
		}
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	var user models.User
	if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		return time.Time{}, errors.New("failed to load user")
	}
	local := time.Now().In(user.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}

// GetHandler serves the report view for a date: live daily stats joined
// with the last persisted narrative. Numbers are always current even
// when the stored narrative is stale.
func GetHandler(db *gorm.DB, engine *stats.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		date, err := resolveDate(c, db, userID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		dailyStats, err := engine.DailyStats(c.Request.Context(), userID, date)
		if err != nil {
			logger.Error("failed to compute daily stats", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute daily stats"})
			return
		}

		var narrative *string
		var generatedAt *time.Time
		var report models.Report
		err = db.WithContext(c.Request.Context()).
			Where("user_id = ? AND date = ?", userID, date).
			First(&report).Error
		switch {
		case err == nil:
			if text := report.NarrativeText(); text != "" {
				narrative = &text
			}
			generatedAt = report.GeneratedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			// No report yet: stats alone are still a valid response.
		default:
			logger.Error("failed to load report", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"date":         dailyStats.Date,
			"stats":        dailyStats,
			"narrative":    narrative,
			"generated_at": generatedAt,
		})
	}
}

// EnqueueFunc queues background generation for one user and date
// (YYYY-MM-DD).
type EnqueueFunc func(userID uint, date string) error

// GenerateHandler regenerates the report for a date. By default it
// generates synchronously and returns the report; with ?async=true it
// queues a background task instead.
func GenerateHandler(db *gorm.DB, compiler *Compiler, enqueue EnqueueFunc, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		date, err := resolveDate(c, db, userID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if c.Query("async") == "true" && enqueue != nil {
			if err := enqueue(userID, date.Format("2006-01-02")); err != nil {
				logger.Error("failed to enqueue report generation", "user_id", userID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue report generation"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{
				"status": "queued",
				"date":   date.Format("2006-01-02"),
			})
			return
		}

		report, err := compiler.Generate(c.Request.Context(), userID, date)
		if err != nil && !errors.Is(err, ErrNarrativeUnavailable) {
			logger.Error("report generation failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
			return
		}

		var narrative *string
		if text := report.NarrativeText(); text != "" {
			narrative = &text
		}

		c.JSON(http.StatusOK, gin.H{
			"date":                report.Date.Format("2006-01-02"),
			"calories_in":         report.CaloriesIn,
			"calories_out":        report.CaloriesOut,
			"protein_g":           report.ProteinG,
			"carbs_g":             report.CarbsG,
			"fat_g":               report.FatG,
			"bmr":                 report.BMR,
			"tdee":                report.TDEE,
			"narrative":           narrative,
			"narrative_generated": err == nil,
			"generated_at":        report.GeneratedAt,
		})
	}
}

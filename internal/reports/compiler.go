// Package reports compiles daily stats and a generated narrative into
// persisted reports, one logical row per user and date.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/llm"
	"github.com/healthpilot/healthpilot/internal/models"
	"github.com/healthpilot/healthpilot/internal/stats"
)

// ErrNarrativeUnavailable marks a generation run whose numeric snapshot
// was persisted but whose narrative text could not be produced. The
// report stays servable; only the text is stale or absent.
var ErrNarrativeUnavailable = errors.New("narrative generation failed")

const narrativeTimeout = 60 * time.Second

// Compiler turns a day's entries into a persisted report.
type Compiler struct {
	db       *gorm.DB
	provider llm.Provider
	engine   *stats.Engine
	logger   *slog.Logger
}

func NewCompiler(db *gorm.DB, provider llm.Provider, logger *slog.Logger) *Compiler {
	return &Compiler{
		db:       db,
		provider: provider,
		engine:   stats.NewEngine(db),
		logger:   logger,
	}
}

// Generate computes the numeric snapshot for (userID, date), asks the
// model for a narrative, and upserts the report row. Regeneration
// overwrites the numeric snapshot and narrative and advances
// GeneratedAt; a narrative failure keeps the previous narrative (or
// none) and returns the persisted report together with
// ErrNarrativeUnavailable.
func (c *Compiler) Generate(ctx context.Context, userID uint, date time.Time) (*models.Report, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	dailyStats, err := c.engine.DailyStats(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily stats: %w", err)
	}

	narrative, narrativeErr := c.generateNarrative(ctx, dailyStats)
	if narrativeErr != nil {
		c.logger.Warn("narrative generation failed", "user_id", userID, "date", dailyStats.Date, "error", narrativeErr)
	}

	now := time.Now().UTC()
	report := models.Report{
		UserID:      userID,
		Date:        day,
		CaloriesIn:  dailyStats.CaloriesIn,
		CaloriesOut: dailyStats.CaloriesOut,
		ProteinG:    dailyStats.ProteinG,
		CarbsG:      dailyStats.CarbsG,
		FatG:        dailyStats.FatG,
		BMR:         dailyStats.BMR,
		TDEE:        dailyStats.TDEE,
		GeneratedAt: &now,
	}
	if narrativeErr == nil {
		content, err := json.Marshal(map[string]string{"text": narrative})
		if err != nil {
			return nil, fmt.Errorf("failed to encode report content: %w", err)
		}
		report.ReportContent = datatypes.JSON(content)
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Report
		err := tx.Where("user_id = ? AND date = ?", userID, day).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&report).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"calories_in":  report.CaloriesIn,
			"calories_out": report.CaloriesOut,
			"protein_g":    report.ProteinG,
			"carbs_g":      report.CarbsG,
			"fat_g":        report.FatG,
			"bmr":          report.BMR,
			"tdee":         report.TDEE,
			"generated_at": now,
		}
		if narrativeErr == nil {
			updates["report_content"] = report.ReportContent
		} else {
			report.ReportContent = existing.ReportContent
		}
		if err := tx.Model(&models.Report{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		report.ID = existing.ID
		report.CreatedAt = existing.CreatedAt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert report: %w", err)
	}

	if narrativeErr != nil {
		return &report, fmt.Errorf("%w: %v", ErrNarrativeUnavailable, narrativeErr)
	}
	return &report, nil
}

// generateNarrative builds the fixed numeric summary prompt and asks
// the model for the report text.
func (c *Compiler) generateNarrative(ctx context.Context, dailyStats *stats.DailyStats) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, narrativeTimeout)
	defer cancel()

	text, err := c.provider.GenerateText(ctx, narrativePrompt(dailyStats))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("model returned empty narrative")
	}
	return text, nil
}

func narrativePrompt(dailyStats *stats.DailyStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a short, encouraging daily health report for %s based on these numbers.\n\n", dailyStats.Date)
	fmt.Fprintf(&b, "Calories in: %.0f kcal\n", dailyStats.CaloriesIn)
	fmt.Fprintf(&b, "Calories burned (exercise): %.0f kcal\n", dailyStats.CaloriesOut)
	fmt.Fprintf(&b, "Protein: %.1f g, Carbs: %.1f g, Fat: %.1f g, Vegetables: %.0f g\n", dailyStats.ProteinG, dailyStats.CarbsG, dailyStats.FatG, dailyStats.VegetableG)
	if dailyStats.BMR != nil && dailyStats.TDEE != nil {
		fmt.Fprintf(&b, "BMR: %.1f kcal, TDEE: %.1f kcal\n", *dailyStats.BMR, *dailyStats.TDEE)
	}
	if dailyStats.Targets != nil {
		fmt.Fprintf(&b, "Targets: %.0f kcal, protein %.0f g, carbs %.0f g, fat %.0f g, vegetables %.0f g\n",
			dailyStats.Targets.CaloriesKcal, dailyStats.Targets.ProteinG, dailyStats.Targets.CarbsG, dailyStats.Targets.FatG, dailyStats.Targets.VegetableG)
	}
	if len(dailyStats.Exercises) > 0 {
		b.WriteString("Exercises:\n")
		for _, ex := range dailyStats.Exercises {
			fmt.Fprintf(&b, "- %s, %.0f min, %s intensity, %.0f kcal\n", ex.ExerciseType, ex.DurationMin, ex.Intensity, ex.CaloriesBurned)
		}
	}
	b.WriteString("\nRespond with 3-5 sentences of plain text. No markdown, no lists.")
	return b.String()
}

// Package stats derives per-day totals from logged entries. Stats are
// recomputed on every read and never persisted or cached, so a caller
// always sees every entry committed before the call.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/anthro"
	"github.com/healthpilot/healthpilot/internal/models"
)

// MealItem is one diet entry as exposed in a daily view.
type MealItem struct {
	ID         uint    `json:"id"`
	FoodName   string  `json:"food_name"`
	Calories   float64 `json:"calories"`
	ProteinG   float64 `json:"protein_g"`
	CarbsG     float64 `json:"carbs_g"`
	FatG       float64 `json:"fat_g"`
	VegetableG float64 `json:"vegetable_g"`
	Estimated  bool    `json:"estimated"`
	Source     string  `json:"source"`
}

// MealGroup collects a day's items for one meal type. Groups appear in
// first-seen order; items keep insertion order.
type MealGroup struct {
	MealType string     `json:"meal_type"`
	Calories float64    `json:"calories"`
	Items    []MealItem `json:"items"`
}

// ExerciseItem is one exercise entry as exposed in a daily view.
type ExerciseItem struct {
	ID             uint    `json:"id"`
	ExerciseType   string  `json:"exercise_type"`
	DurationMin    float64 `json:"duration_min"`
	Intensity      string  `json:"intensity"`
	CaloriesBurned float64 `json:"calories_burned"`
}

// DailyStats is the derived view for one (user, date). BMR, TDEE and
// Targets are nil when the body profile is incomplete, never zero.
type DailyStats struct {
	Date             string          `json:"date"`
	CaloriesIn       float64         `json:"calories_in"`
	CaloriesOut      float64         `json:"calories_out"`
	ProteinG         float64         `json:"protein_g"`
	CarbsG           float64         `json:"carbs_g"`
	FatG             float64         `json:"fat_g"`
	VegetableG       float64         `json:"vegetable_g"`
	Meals            []MealGroup     `json:"meals"`
	Exercises        []ExerciseItem  `json:"exercises"`
	TotalDurationMin float64         `json:"total_duration_min"`
	BMR              *float64        `json:"bmr"`
	TDEE             *float64        `json:"tdee"`
	Targets          *anthro.Targets `json:"targets"`
}

// Fold aggregates loaded entries into a DailyStats. Pure: it never
// touches the store, so the aggregation rules test without a database.
func Fold(date time.Time, diet []models.DietEntry, exercise []models.ExerciseEntry) DailyStats {
	stats := DailyStats{
		Date:      date.Format("2006-01-02"),
		Meals:     []MealGroup{},
		Exercises: []ExerciseItem{},
	}

	groupIndex := map[string]int{}
	for _, entry := range diet {
		stats.CaloriesIn += entry.Calories
		stats.ProteinG += entry.ProteinG
		stats.CarbsG += entry.CarbsG
		stats.FatG += entry.FatG
		stats.VegetableG += entry.VegetableG

		idx, ok := groupIndex[entry.MealType]
		if !ok {
			idx = len(stats.Meals)
			groupIndex[entry.MealType] = idx
			stats.Meals = append(stats.Meals, MealGroup{MealType: entry.MealType})
		}
		stats.Meals[idx].Calories += entry.Calories
		stats.Meals[idx].Items = append(stats.Meals[idx].Items, MealItem{
			ID:         entry.ID,
			FoodName:   entry.FoodName,
			Calories:   entry.Calories,
			ProteinG:   entry.ProteinG,
			CarbsG:     entry.CarbsG,
			FatG:       entry.FatG,
			VegetableG: entry.VegetableG,
			Estimated:  entry.Estimated,
			Source:     entry.Source,
		})
	}

	for _, entry := range exercise {
		stats.CaloriesOut += entry.CaloriesBurned
		stats.TotalDurationMin += entry.DurationMin
		stats.Exercises = append(stats.Exercises, ExerciseItem{
			ID:             entry.ID,
			ExerciseType:   entry.ExerciseType,
			DurationMin:    entry.DurationMin,
			Intensity:      entry.Intensity,
			CaloriesBurned: entry.CaloriesBurned,
		})
	}

	return stats
}

// Engine reads entries and folds them into daily views.
type Engine struct {
	db *gorm.DB
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// DailyStats computes the derived view for one user and date. date is
// normalized to a UTC midnight before querying.
func (e *Engine) DailyStats(ctx context.Context, userID uint, date time.Time) (*DailyStats, error) {
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var diet []models.DietEntry
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, day).
		Order("id").
		Find(&diet).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load diet entries: %w", err)
	}

	var exercise []models.ExerciseEntry
	err = e.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, day).
		Order("id").
		Find(&exercise).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load exercise entries: %w", err)
	}

	stats := Fold(day, diet, exercise)

	metrics, err := anthro.FromProfile(&user)
	switch {
	case err == nil:
		stats.BMR = &metrics.BMR
		stats.TDEE = &metrics.TDEE
		targets := anthro.TargetsFor(metrics.TDEE)
		stats.Targets = &targets
	case errors.Is(err, anthro.ErrIncompleteProfile):
		// Profile incomplete: derived fields stay absent.
	default:
		return nil, fmt.Errorf("failed to compute anthropometrics: %w", err)
	}

	return &stats, nil
}

// Today computes DailyStats for the current date in the user's
// timezone.
func (e *Engine) Today(ctx context.Context, userID uint) (*DailyStats, error) {
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return e.DailyStats(ctx, userID, time.Now().In(user.Location()))
}

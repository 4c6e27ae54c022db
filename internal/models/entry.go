package models

import (
	"time"

	"gorm.io/gorm"
)

// Meal type constants
const (
	MealBreakfast = "breakfast"
	MealLunch     = "lunch"
	MealDinner    = "dinner"
	MealSnack     = "snack"
)

// Entry source constants
const (
	SourceText  = "text"
	SourceImage = "image"
)

// Exercise intensity constants
const (
	IntensityLow      = "low"
	IntensityModerate = "moderate"
	IntensityHigh     = "high"
)

// DietEntry is one logged food item for a user on a date. Entries are
// immutable once created; daily stats are always recomputed from them.
type DietEntry struct {
	gorm.Model
	UserID     uint      `gorm:"not null;index:idx_diet_entries_user_date"`
	Date       time.Time `gorm:"type:date;not null;index:idx_diet_entries_user_date"`
	MealType   string    `gorm:"not null"`
	FoodName   string    `gorm:"not null"`
	Calories   float64   `gorm:"not null;default:0"`
	ProteinG   float64   `gorm:"not null;default:0"`
	CarbsG     float64   `gorm:"not null;default:0"`
	FatG       float64   `gorm:"not null;default:0"`
	VegetableG float64   `gorm:"not null;default:0"`
	Estimated  bool      `gorm:"not null;default:false"`
	Source     string    `gorm:"not null;default:'text'"`

	// ConversationID is a weak back-reference to the conversation the
	// entry was logged from, never ownership.
	ConversationID *uint
}

// ExerciseEntry is one logged exercise for a user on a date. Same
// lifecycle as DietEntry.
type ExerciseEntry struct {
	gorm.Model
	UserID         uint      `gorm:"not null;index:idx_exercise_entries_user_date"`
	Date           time.Time `gorm:"type:date;not null;index:idx_exercise_entries_user_date"`
	ExerciseType   string    `gorm:"not null"`
	DurationMin    float64   `gorm:"not null"`
	Intensity      string    `gorm:"not null;default:'moderate'"`
	CaloriesBurned float64   `gorm:"not null;default:0"`

	ConversationID *uint
}

// ValidMealType reports whether m is a known meal type.
func ValidMealType(m string) bool {
	switch m {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// ValidIntensity reports whether i is a known exercise intensity.
func ValidIntensity(i string) bool {
	switch i {
	case IntensityLow, IntensityModerate, IntensityHigh:
		return true
	}
	return false
}

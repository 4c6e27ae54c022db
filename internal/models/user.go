package models

import (
	"time"

	"gorm.io/gorm"
)

// Body profile enum values. The profile fields are pointers because a
// fresh account has none of them; BMR/TDEE must stay absent (never zero)
// until the profile is complete.
const (
	GenderMale   = "male"
	GenderFemale = "female"

	ActivitySedentary  = "sedentary"
	ActivityLight      = "light"
	ActivityModerate   = "moderate"
	ActivityVeryActive = "very_active"
)

// User represents an application user with an optional body profile
type User struct {
	gorm.Model
	Email    string `gorm:"uniqueIndex:idx_users_email_not_deleted,where:deleted_at IS NULL;not null"`
	Name     string `gorm:"not null;default:''"`
	Timezone string `gorm:"not null;default:'UTC'"`

	Gender        *string
	HeightCm      *float64
	WeightKg      *float64
	Age           *int
	ActivityLevel *string

	LastLoginAt *time.Time

	// Associations
	Conversations   []Conversation  `gorm:"constraint:OnDelete:CASCADE;"`
	DietEntries     []DietEntry     `gorm:"constraint:OnDelete:CASCADE;"`
	ExerciseEntries []ExerciseEntry `gorm:"constraint:OnDelete:CASCADE;"`
	Reports         []Report        `gorm:"constraint:OnDelete:CASCADE;"`
}

// Location resolves the user's timezone, falling back to UTC.
func (u *User) Location() *time.Location {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ValidGender reports whether g is a known gender value.
func ValidGender(g string) bool {
	return g == GenderMale || g == GenderFemale
}

// ValidActivityLevel reports whether a is a known activity level.
func ValidActivityLevel(a string) bool {
	switch a {
	case ActivitySedentary, ActivityLight, ActivityModerate, ActivityVeryActive:
		return true
	}
	return false
}

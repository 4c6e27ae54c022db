// Package anthro computes basal metabolic rate and total daily energy
// expenditure from a body profile, plus the derived daily intake targets.
package anthro

import (
	"errors"

	"github.com/healthpilot/healthpilot/internal/models"
)

// ErrIncompleteProfile is returned when the body profile is missing a
// field required for the computation. Callers must treat BMR/TDEE as
// absent in that case, never as zero.
var ErrIncompleteProfile = errors.New("body profile is incomplete")

// Activity multipliers applied to BMR.
var activityFactors = map[string]float64{
	models.ActivitySedentary:  1.2,
	models.ActivityLight:      1.375,
	models.ActivityModerate:   1.55,
	models.ActivityVeryActive: 1.725,
}

// Daily target policy. Macro targets split TDEE by fixed ratios at the
// standard 4/4/9 kcal per gram; the vegetable target is a flat daily
// amount independent of energy expenditure.
const (
	ProteinRatio = 0.30
	CarbRatio    = 0.45
	FatRatio     = 0.25

	KcalPerGramProtein = 4.0
	KcalPerGramCarb    = 4.0
	KcalPerGramFat     = 9.0

	VegetableTargetG = 300.0
)

// Anthropometrics is the derived energy profile for a user.
type Anthropometrics struct {
	BMR  float64
	TDEE float64
}

// Targets are the daily intake targets derived from TDEE.
type Targets struct {
	CaloriesKcal float64 `json:"calories_kcal"`
	ProteinG     float64 `json:"protein_g"`
	CarbsG       float64 `json:"carbs_g"`
	FatG         float64 `json:"fat_g"`
	VegetableG   float64 `json:"vegetable_g"`
}

// ComputeBMR applies the Mifflin-St Jeor equation:
// male:   10*weight + 6.25*height - 5*age + 5
// female: 10*weight + 6.25*height - 5*age - 161
func ComputeBMR(gender string, weightKg, heightCm float64, age int) (float64, error) {
	if !models.ValidGender(gender) || weightKg <= 0 || heightCm <= 0 || age <= 0 {
		return 0, ErrIncompleteProfile
	}

	bmr := 10*weightKg + 6.25*heightCm - 5*float64(age)
	if gender == models.GenderMale {
		return bmr + 5, nil
	}
	return bmr - 161, nil
}

// ComputeTDEE multiplies BMR by the activity factor.
func ComputeTDEE(bmr float64, activityLevel string) (float64, error) {
	factor, ok := activityFactors[activityLevel]
	if !ok {
		return 0, ErrIncompleteProfile
	}
	return bmr * factor, nil
}

// FromProfile derives BMR and TDEE from a user's body profile. It
// returns ErrIncompleteProfile when gender, height, weight, age or
// activity level is missing.
func FromProfile(user *models.User) (Anthropometrics, error) {
	if user == nil || user.Gender == nil || user.WeightKg == nil || user.HeightCm == nil || user.Age == nil {
		return Anthropometrics{}, ErrIncompleteProfile
	}

	bmr, err := ComputeBMR(*user.Gender, *user.WeightKg, *user.HeightCm, *user.Age)
	if err != nil {
		return Anthropometrics{}, err
	}

	if user.ActivityLevel == nil {
		return Anthropometrics{}, ErrIncompleteProfile
	}
	tdee, err := ComputeTDEE(bmr, *user.ActivityLevel)
	if err != nil {
		return Anthropometrics{}, err
	}

	return Anthropometrics{BMR: bmr, TDEE: tdee}, nil
}

// TargetsFor derives the daily intake targets from TDEE.
func TargetsFor(tdee float64) Targets {
	return Targets{
		CaloriesKcal: tdee,
		ProteinG:     tdee * ProteinRatio / KcalPerGramProtein,
		CarbsG:       tdee * CarbRatio / KcalPerGramCarb,
		FatG:         tdee * FatRatio / KcalPerGramFat,
		VegetableG:   VegetableTargetG,
	}
}

package agent

import (
	"strings"
	"time"

	"github.com/healthpilot/healthpilot/internal/models"
)

// Keyword vocabularies for meal-type correction. The extraction model
// tends to default uncertain meals to "snack"; an explicit mention in
// the utterance always wins.
var (
	breakfastKeywords = []string{"breakfast", "this morning", "morning meal", "brunch"}
	lunchKeywords     = []string{"lunch", "midday", "noon"}
	dinnerKeywords    = []string{"dinner", "supper", "tonight", "this evening"}
	snackKeywords     = []string{"snack", "nibble", "between meals"}

	// Foods that read like a full meal rather than a snack.
	fullMealIndicators = []string{"bento", "combo", "set meal", "burger and fries", "main course", "lunch box"}
)

// correctMealType fixes the extracted meal type using the utterance
// text and, when the text is silent, the local hour of day.
func correctMealType(foodName, mealType, utterance string, now time.Time) string {
	text := strings.ToLower(foodName + " " + utterance)

	switch {
	case containsAny(text, breakfastKeywords):
		return models.MealBreakfast
	case containsAny(text, lunchKeywords):
		return models.MealLunch
	case containsAny(text, dinnerKeywords):
		return models.MealDinner
	case containsAny(text, snackKeywords):
		return models.MealSnack
	}

	// A "snack" that looks like a full meal is reclassified by the hour.
	if mealType == models.MealSnack && containsAny(text, fullMealIndicators) {
		hour := now.Hour()
		switch {
		case hour >= 11 && hour < 15:
			return models.MealLunch
		case hour >= 17 && hour < 22:
			return models.MealDinner
		default:
			return models.MealLunch
		}
	}

	if models.ValidMealType(mealType) {
		return mealType
	}
	return models.MealSnack
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

package database

import (
	"log"
	"time"

	"github.com/healthpilot/healthpilot/internal/models"
	"gorm.io/gorm"
)

// SeedDevData populates the database with development test data.
// Idempotent: skips if data already exists.
func SeedDevData(db *gorm.DB) error {
	var existingUser models.User
	result := db.Where("email = ?", "dev@healthpilot.local").First(&existingUser)
	if result.Error == nil {
		log.Println("Seed data already exists, skipping")
		return nil
	}

	gender := models.GenderMale
	height := 180.0
	weight := 80.0
	age := 30
	activity := models.ActivityModerate

	user := models.User{
		Email:         "dev@healthpilot.local",
		Name:          "Dev User",
		Timezone:      "UTC",
		Gender:        &gender,
		HeightCm:      &height,
		WeightKg:      &weight,
		Age:           &age,
		ActivityLevel: &activity,
	}

	if err := db.Create(&user).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	conversation := models.Conversation{
		UserID:       user.ID,
		LastActiveAt: now,
	}
	if err := db.Create(&conversation).Error; err != nil {
		return err
	}

	messages := []models.Message{
		{ConversationID: conversation.ID, Role: models.RoleUser, Content: "breakfast: two scrambled eggs and a slice of toast"},
		{ConversationID: conversation.ID, Role: models.RoleAssistant, Content: "Logged! Two scrambled eggs and toast for breakfast, roughly 260 kcal."},
	}
	for i := range messages {
		messages[i].CreatedAt = now.Add(time.Duration(i) * time.Second)
		if err := db.Create(&messages[i]).Error; err != nil {
			return err
		}
	}

	today := now.Truncate(24 * time.Hour)
	convID := conversation.ID
	dietEntry := models.DietEntry{
		UserID:         user.ID,
		Date:           today,
		MealType:       models.MealBreakfast,
		FoodName:       "scrambled eggs with toast",
		Calories:       260,
		ProteinG:       16,
		CarbsG:         18,
		FatG:           13,
		Estimated:      true,
		Source:         models.SourceText,
		ConversationID: &convID,
	}
	if err := db.Create(&dietEntry).Error; err != nil {
		return err
	}

	exerciseEntry := models.ExerciseEntry{
		UserID:         user.ID,
		Date:           today,
		ExerciseType:   "running",
		DurationMin:    30,
		Intensity:      models.IntensityModerate,
		CaloriesBurned: 360,
	}
	if err := db.Create(&exerciseEntry).Error; err != nil {
		return err
	}

	log.Println("Seeded dev data: 1 user, 1 conversation, 2 messages, 1 diet entry, 1 exercise entry")
	return nil
}

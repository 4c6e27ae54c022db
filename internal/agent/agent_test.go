package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/healthpilot/healthpilot/internal/llm"
	"github.com/healthpilot/healthpilot/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
		&models.DietEntry{},
		&models.ExerciseEntry{},
	))
	return db
}

func newTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()

	gender := models.GenderMale
	height := 180.0
	weight := 80.0
	age := 30
	activity := models.ActivityModerate
	user := models.User{
		Email:         "test@example.com",
		Name:          "Test User",
		Gender:        &gender,
		HeightCm:      &height,
		WeightKg:      &weight,
		Age:           &age,
		ActivityLevel: &activity,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	replyFragments []string
	replyErr       error
	extractPayload json.RawMessage
	extractErr     error
}

func (f *fakeProvider) StreamReply(ctx context.Context, req llm.ReplyRequest) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(fragments)
		for _, fragment := range f.replyFragments {
			select {
			case fragments <- fragment:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if f.replyErr != nil {
			errs <- f.replyErr
		}
	}()
	return fragments, errs
}

func (f *fakeProvider) Extract(ctx context.Context, req llm.ExtractRequest) (json.RawMessage, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.extractPayload, nil
}

func (f *fakeProvider) AnalyzeImage(ctx context.Context, data []byte, mimeType string) (json.RawMessage, error) {
	return json.RawMessage(`{"entities": []}`), nil
}

func (f *fakeProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	return "generated", nil
}

// collectTurn drains a turn's output channel and splits it into the
// concatenated reply and the terminal fragment.
func collectTurn(t *testing.T, out <-chan Fragment) (string, Fragment) {
	t.Helper()

	var reply string
	var terminal Fragment
	sawTerminal := false
	for fragment := range out {
		require.NoError(t, fragment.Err)
		if fragment.Done {
			require.False(t, sawTerminal, "terminal fragment must arrive exactly once")
			sawTerminal = true
			terminal = fragment
			continue
		}
		reply += fragment.Content
	}
	require.True(t, sawTerminal, "stream must end with a terminal fragment")
	return reply, terminal
}

func TestHandleTurnPersistsExtractedEntries(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	provider := &fakeProvider{
		replyFragments: []string{"Logged! ", "Chicken breast and a banana, ", "about 240 kcal together."},
		extractPayload: json.RawMessage(`{"entities": [
			{"kind": "diet", "diet": {"meal_type": "lunch", "food_name": "chicken breast", "calories": 150, "protein_g": 31, "carbs_g": 0, "fat_g": 3.5, "estimated": true}},
			{"kind": "diet", "diet": {"meal_type": "lunch", "food_name": "banana", "calories": 90, "protein_g": 1.1, "carbs_g": 23, "fat_g": 0.3, "estimated": true}}
		]}`),
	}
	a, err := New(db, provider, discardLogger(), 20)
	require.NoError(t, err)

	out, err := a.HandleTurn(context.Background(), user.ID, TurnInput{
		Text: "I had a chicken breast and a banana for lunch",
	})
	require.NoError(t, err)

	reply, terminal := collectTurn(t, out)
	assert.Equal(t, "Logged! Chicken breast and a banana, about 240 kcal together.", reply)
	assert.NotZero(t, terminal.ConversationID)
	require.Len(t, terminal.Entries, 2)
	assert.Equal(t, "chicken breast", terminal.Entries[0].Label)
	assert.Equal(t, "banana", terminal.Entries[1].Label)
	assert.Empty(t, terminal.Entries[0].Error)
	assert.Empty(t, terminal.Entries[1].Error)

	var entries []models.DietEntry
	require.NoError(t, db.Where("user_id = ?", user.ID).Order("id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "chicken breast", entries[0].FoodName)
	assert.Equal(t, models.MealLunch, entries[0].MealType)
	assert.Equal(t, models.SourceText, entries[0].Source)
	assert.True(t, entries[0].Estimated)
	require.NotNil(t, entries[0].ConversationID)
	assert.Equal(t, terminal.ConversationID, *entries[0].ConversationID)
	assert.Equal(t, 90.0, entries[1].Calories)
}

func TestHandleTurnDegradesWhenExtractionFails(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	provider := &fakeProvider{
		replyFragments: []string{"Hi there! ", "How can I help?"},
		extractErr:     errors.New("model unavailable"),
	}
	a, err := New(db, provider, discardLogger(), 20)
	require.NoError(t, err)

	out, err := a.HandleTurn(context.Background(), user.ID, TurnInput{Text: "hello"})
	require.NoError(t, err)

	reply, terminal := collectTurn(t, out)
	assert.Equal(t, "Hi there! How can I help?", reply)
	assert.Empty(t, terminal.Entries)

	var dietCount, exerciseCount int64
	require.NoError(t, db.Model(&models.DietEntry{}).Count(&dietCount).Error)
	require.NoError(t, db.Model(&models.ExerciseEntry{}).Count(&exerciseCount).Error)
	assert.Zero(t, dietCount)
	assert.Zero(t, exerciseCount)

	var messages []models.Message
	require.NoError(t, db.Where("conversation_id = ?", terminal.ConversationID).Order("created_at").Find(&messages).Error)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.NotEmpty(t, messages[1].Content)
}

func TestHandleTurnRejectsInvalidEntityKeepsValid(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	// Second entity is missing food_name and must be rejected without
	// affecting the first.
	provider := &fakeProvider{
		replyFragments: []string{"Noted."},
		extractPayload: json.RawMessage(`{"entities": [
			{"kind": "diet", "diet": {"meal_type": "dinner", "food_name": "grilled salmon", "calories": 367, "protein_g": 39, "carbs_g": 0, "fat_g": 22, "estimated": true}},
			{"kind": "diet", "diet": {"meal_type": "dinner", "calories": 100}}
		]}`),
	}
	a, err := New(db, provider, discardLogger(), 20)
	require.NoError(t, err)

	out, err := a.HandleTurn(context.Background(), user.ID, TurnInput{
		Text: "grilled salmon and something else for dinner",
	})
	require.NoError(t, err)

	_, terminal := collectTurn(t, out)
	require.Len(t, terminal.Entries, 2)

	var rejected, accepted int
	for _, entry := range terminal.Entries {
		if entry.Error != "" {
			rejected++
		} else {
			accepted++
			assert.Equal(t, "grilled salmon", entry.Label)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)

	var entries []models.DietEntry
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "grilled salmon", entries[0].FoodName)
}

func TestHandleTurnPersistsExerciseEntity(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	provider := &fakeProvider{
		replyFragments: []string{"Nice run!"},
		extractPayload: json.RawMessage(`{"entities": [
			{"kind": "exercise", "exercise": {"exercise_type": "running", "duration_min": 30, "intensity": "high", "calories_burned": 320, "estimated": true}}
		]}`),
	}
	a, err := New(db, provider, discardLogger(), 20)
	require.NoError(t, err)

	out, err := a.HandleTurn(context.Background(), user.ID, TurnInput{Text: "just ran 30 minutes, pretty hard"})
	require.NoError(t, err)

	_, terminal := collectTurn(t, out)
	require.Len(t, terminal.Entries, 1)
	assert.Equal(t, KindExercise, terminal.Entries[0].Kind)
	assert.Equal(t, "running", terminal.Entries[0].Label)

	var entry models.ExerciseEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, user.ID, entry.UserID)
	assert.Equal(t, 30.0, entry.DurationMin)
	assert.Equal(t, models.IntensityHigh, entry.Intensity)
	assert.Equal(t, 320.0, entry.CaloriesBurned)
}

func TestHandleTurnStaleConversationID(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	a, err := New(db, &fakeProvider{replyFragments: []string{"hi"}, extractPayload: json.RawMessage(`{"entities": []}`)}, discardLogger(), 20)
	require.NoError(t, err)

	stale := uint(9999)
	_, err = a.HandleTurn(context.Background(), user.ID, TurnInput{Text: "hello", ConversationID: &stale})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestHandleTurnTranscriptOrdering(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	provider := &fakeProvider{
		replyFragments: []string{"ok"},
		extractPayload: json.RawMessage(`{"entities": []}`),
	}
	a, err := New(db, provider, discardLogger(), 20)
	require.NoError(t, err)

	var conversationID uint
	for i, text := range []string{"first", "second", "third"} {
		input := TurnInput{Text: text}
		if i > 0 {
			id := conversationID
			input.ConversationID = &id
		}
		out, err := a.HandleTurn(context.Background(), user.ID, input)
		require.NoError(t, err)
		_, terminal := collectTurn(t, out)
		conversationID = terminal.ConversationID
	}

	var messages []models.Message
	require.NoError(t, db.Where("conversation_id = ?", conversationID).
		Order("created_at, id").Find(&messages).Error)
	require.Len(t, messages, 6)

	var prev time.Time
	for i, msg := range messages {
		if i%2 == 0 {
			assert.Equal(t, models.RoleUser, msg.Role)
		} else {
			assert.Equal(t, models.RoleAssistant, msg.Role)
		}
		assert.True(t, msg.CreatedAt.After(prev), "message %d must be strictly later than its predecessor", i)
		prev = msg.CreatedAt
	}

	var conversation models.Conversation
	require.NoError(t, db.First(&conversation, conversationID).Error)
	assert.False(t, conversation.LastActiveAt.IsZero())
}

func TestHandleTurnHistoryWindow(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	conversation := models.Conversation{UserID: user.ID, LastActiveAt: time.Now().UTC()}
	require.NoError(t, db.Create(&conversation).Error)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := models.Message{ConversationID: conversation.ID, Role: role, Content: "old"}
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, db.Create(&msg).Error)
	}

	a, err := New(db, &fakeProvider{replyFragments: []string{"ok"}, extractPayload: json.RawMessage(`{"entities": []}`)}, discardLogger(), 4)
	require.NoError(t, err)

	history, err := a.loadHistory(context.Background(), conversation.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.RoleAssistant, history[len(history)-1].Role)
}

func TestHandleTurnFallbackReplyOnStreamFailure(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	provider := &fakeProvider{
		replyErr:       errors.New("stream broke"),
		extractPayload: json.RawMessage(`{"entities": []}`),
	}
	a, err := New(db, provider, discardLogger(), 20)
	require.NoError(t, err)

	out, err := a.HandleTurn(context.Background(), user.ID, TurnInput{Text: "hello"})
	require.NoError(t, err)

	reply, terminal := collectTurn(t, out)
	assert.Equal(t, fallbackReply, reply)

	var messages []models.Message
	require.NoError(t, db.Where("conversation_id = ? AND role = ?", terminal.ConversationID, models.RoleAssistant).Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, fallbackReply, messages[0].Content)
}

func TestAppendExchange(t *testing.T) {
	db := newTestDB(t)
	user := newTestUser(t, db)

	conversation := models.Conversation{UserID: user.ID, LastActiveAt: time.Now().UTC()}
	require.NoError(t, db.Create(&conversation).Error)

	a, err := New(db, &fakeProvider{}, discardLogger(), 20)
	require.NoError(t, err)

	snapshot := []byte(`[{"kind":"exercise","id":1,"label":"running"}]`)
	err = a.AppendExchange(context.Background(), user.ID, conversation.ID,
		"Recorded exercise: running, 30 min", "Logged your 30 minute run.", snapshot, "")
	require.NoError(t, err)

	var messages []models.Message
	require.NoError(t, db.Where("conversation_id = ?", conversation.ID).Order("created_at, id").Find(&messages).Error)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.True(t, messages[1].CreatedAt.After(messages[0].CreatedAt))
	assert.JSONEq(t, string(snapshot), string(messages[1].Snapshot))

	err = a.AppendExchange(context.Background(), user.ID, 424242, "u", "a", nil, "")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

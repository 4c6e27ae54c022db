package exercise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/healthpilot/healthpilot/internal/agent"
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
		&models.ExerciseEntry{},
	))
	return db
}

func newTestRouter(t *testing.T, db *gorm.DB, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := agent.New(db, &llm.Stub{}, log, 20)
	require.NoError(t, err)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
	})
	r.POST("/api/exercise/record", RecordHandler(db, a, log))
	r.GET("/api/exercise/types", TypesHandler())
	return r
}

func createUser(t *testing.T, db *gorm.DB, weight *float64) *models.User {
	t.Helper()
	user := models.User{Email: fmt.Sprintf("user%d@example.com", time.Now().UnixNano()), WeightKg: weight}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRecordExercise(t *testing.T) {
	db := newTestDB(t)
	weight := 80.0
	user := createUser(t, db, &weight)
	r := newTestRouter(t, db, user.ID)

	w := postJSON(t, r, "/api/exercise/record", gin.H{
		"exercise_type": "squash",
		"duration_min":  30,
		"intensity":     "moderate",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		EntryID        uint    `json:"entry_id"`
		CaloriesBurned float64 `json:"calories_burned"`
		ConversationID *uint   `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 392.0, resp.CaloriesBurned, 1e-9)
	assert.Nil(t, resp.ConversationID)

	var entry models.ExerciseEntry
	require.NoError(t, db.First(&entry, resp.EntryID).Error)
	assert.Equal(t, user.ID, entry.UserID)
	assert.Equal(t, "squash", entry.ExerciseType)
	assert.InDelta(t, 392.0, entry.CaloriesBurned, 1e-9)

	// No conversation id supplied means no conversation gets created.
	var convCount int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&convCount).Error)
	assert.Zero(t, convCount)
}

func TestRecordExerciseAppendsTranscriptPair(t *testing.T) {
	db := newTestDB(t)
	weight := 70.0
	user := createUser(t, db, &weight)

	conversation := models.Conversation{UserID: user.ID, LastActiveAt: time.Now().UTC()}
	require.NoError(t, db.Create(&conversation).Error)

	r := newTestRouter(t, db, user.ID)
	w := postJSON(t, r, "/api/exercise/record", gin.H{
		"exercise_type":   "running",
		"duration_min":    20,
		"intensity":       "high",
		"conversation_id": conversation.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var messages []models.Message
	require.NoError(t, db.Where("conversation_id = ?", conversation.ID).Order("created_at, id").Find(&messages).Error)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Contains(t, messages[0].Content, "running")
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.NotEmpty(t, messages[1].Snapshot)
}

func TestRecordExerciseStaleConversationKeepsEntry(t *testing.T) {
	db := newTestDB(t)
	weight := 70.0
	user := createUser(t, db, &weight)
	r := newTestRouter(t, db, user.ID)

	w := postJSON(t, r, "/api/exercise/record", gin.H{
		"exercise_type":   "cycling",
		"duration_min":    45,
		"conversation_id": 9999,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ConversationID *uint `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.ConversationID)

	var count int64
	require.NoError(t, db.Model(&models.ExerciseEntry{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordExerciseValidation(t *testing.T) {
	db := newTestDB(t)
	weight := 70.0
	user := createUser(t, db, &weight)
	r := newTestRouter(t, db, user.ID)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing type", gin.H{"duration_min": 30}},
		{"zero duration", gin.H{"exercise_type": "running", "duration_min": 0}},
		{"negative duration", gin.H{"exercise_type": "running", "duration_min": -5}},
		{"excessive duration", gin.H{"exercise_type": "running", "duration_min": 601}},
		{"bad intensity", gin.H{"exercise_type": "running", "duration_min": 30, "intensity": "extreme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, r, "/api/exercise/record", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.ExerciseEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordExerciseRequiresWeight(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, nil)
	r := newTestRouter(t, db, user.ID)

	w := postJSON(t, r, "/api/exercise/record", gin.H{
		"exercise_type": "running",
		"duration_min":  30,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "weight")
}

func TestRecordExerciseCustomType(t *testing.T) {
	db := newTestDB(t)
	weight := 80.0
	user := createUser(t, db, &weight)
	r := newTestRouter(t, db, user.ID)

	w := postJSON(t, r, "/api/exercise/record", gin.H{
		"exercise_type": "squash",
		"custom_type":   "bouldering",
		"duration_min":  60,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var entry models.ExerciseEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "bouldering", entry.ExerciseType)
	// Unknown type uses the moderate default MET of 6: 6 x 80 x 1h.
	assert.InDelta(t, 480.0, entry.CaloriesBurned, 1e-9)
}

func TestTypesEndpoint(t *testing.T) {
	db := newTestDB(t)
	r := newTestRouter(t, db, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/exercise/types", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Types       []string `json:"types"`
		Intensities []string `json:"intensities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Types, "badminton")
	assert.Equal(t, []string{"low", "moderate", "high"}, resp.Intensities)
}

package settings

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/healthpilot/healthpilot/internal/models"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *models.User) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	user := models.User{Email: "settings@example.com", Name: "Sam", Timezone: "UTC"}
	require.NoError(t, db.Create(&user).Error)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", user.ID)
	})
	r.GET("/api/settings", GetHandler(db, log))
	r.PUT("/api/settings", UpdateHandler(db, log))
	return r, db, &user
}

func putJSON(t *testing.T, r *gin.Engine, body gin.H) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetSettingsIncompleteProfile(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "settings@example.com", resp["email"])

	// Incomplete profile: absent, never zero.
	assert.Nil(t, resp["bmr"])
	assert.Nil(t, resp["tdee"])
}

func TestUpdateSettingsRecomputesAnthropometrics(t *testing.T) {
	r, db, user := newTestRouter(t)

	w := putJSON(t, r, gin.H{
		"gender":         "male",
		"height_cm":      180,
		"weight_kg":      80,
		"age":            30,
		"activity_level": "moderate",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 1742.5, resp["bmr"].(float64), 1e-9)
	assert.InDelta(t, 2700.875, resp["tdee"].(float64), 1e-9)

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	require.NotNil(t, stored.WeightKg)
	assert.InDelta(t, 80, *stored.WeightKg, 1e-9)
}

func TestUpdateSettingsPartial(t *testing.T) {
	r, db, user := newTestRouter(t)

	w := putJSON(t, r, gin.H{"weight_kg": 75, "timezone": "Asia/Tokyo"})
	require.Equal(t, http.StatusOK, w.Code)

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	require.NotNil(t, stored.WeightKg)
	assert.InDelta(t, 75, *stored.WeightKg, 1e-9)
	assert.Equal(t, "Asia/Tokyo", stored.Timezone)
	assert.Nil(t, stored.Gender)
}

func TestUpdateSettingsValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"bad gender", gin.H{"gender": "other"}},
		{"bad activity", gin.H{"activity_level": "extreme"}},
		{"negative height", gin.H{"height_cm": -1}},
		{"zero weight", gin.H{"weight_kg": 0}},
		{"absurd age", gin.H{"age": 200}},
		{"bad timezone", gin.H{"timezone": "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := putJSON(t, r, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

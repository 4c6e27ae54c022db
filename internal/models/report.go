package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Report is the persisted daily report row. One logical row per
// (user, date), enforced by the unique composite index; regeneration
// overwrites the narrative and numeric snapshot in place and bumps
// GeneratedAt. The numeric snapshot is what the narrative was written
// from; read paths always serve live aggregation instead.
type Report struct {
	gorm.Model
	UserID uint      `gorm:"not null;uniqueIndex:idx_reports_user_date"`
	Date   time.Time `gorm:"type:date;not null;uniqueIndex:idx_reports_user_date"`

	CaloriesIn  float64 `gorm:"not null;default:0"`
	CaloriesOut float64 `gorm:"not null;default:0"`
	ProteinG    float64 `gorm:"not null;default:0"`
	CarbsG      float64 `gorm:"not null;default:0"`
	FatG        float64 `gorm:"not null;default:0"`
	BMR         *float64
	TDEE        *float64

	// ReportContent is {"text": "..."} or null when narrative
	// generation has not succeeded yet.
	ReportContent datatypes.JSON `gorm:"type:jsonb"`
	GeneratedAt   *time.Time
}

// NarrativeText extracts the narrative string from ReportContent,
// returning "" when none has been stored.
func (r *Report) NarrativeText() string {
	if len(r.ReportContent) == 0 {
		return ""
	}
	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(r.ReportContent, &content); err != nil {
		return ""
	}
	return content.Text
}

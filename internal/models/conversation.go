package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation groups an ordered transcript of messages for one user.
// Created lazily on the first utterance that arrives without an id.
type Conversation struct {
	gorm.Model
	UserID       uint `gorm:"not null;index"`
	User         User `gorm:"constraint:OnDelete:CASCADE;"`
	LastActiveAt time.Time

	Messages []Message `gorm:"constraint:OnDelete:CASCADE;"`
}

// Message is one transcript entry. Append-only: messages are never
// updated or deleted, and CreatedAt is set explicitly by the writer so
// ordering within a conversation does not depend on database timestamp
// granularity.
type Message struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;index"`
	Role           string `gorm:"not null"`
	Content        string `gorm:"type:text;not null"`

	// ImageRef points at an uploaded food photo, when the message came
	// from the image path.
	ImageRef string

	// Snapshot holds the structured extraction result attached to an
	// assistant message, when one exists.
	Snapshot datatypes.JSON `gorm:"type:jsonb"`
}

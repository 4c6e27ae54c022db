// Package chat exposes the conversational surface: the SSE streaming
// endpoint and conversation listing/fetching.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/agent"
	"github.com/healthpilot/healthpilot/internal/auth"
	"github.com/healthpilot/healthpilot/internal/models"
)

const (
	conversationListLimit = 50
	previewMaxRunes       = 50
)

type streamRequest struct {
	Message        string `json:"message"`
	ConversationID *uint  `json:"conversation_id"`
}

// StreamHandler runs one conversation turn and streams the reply as
// server-sent events: content fragments, one terminal fragment with the
// resolved conversation id and entry results, then a [DONE] sentinel.
func StreamHandler(a *agent.Agent, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		var req streamRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}

		out, err := a.HandleTurn(c.Request.Context(), userID, agent.TurnInput{
			Text:           req.Message,
			ConversationID: req.ConversationID,
		})
		if err != nil {
			if errors.Is(err, agent.ErrConversationNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
				return
			}
			logger.Error("turn failed before streaming", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start the turn"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		// Disconnects cancel the request context, which the agent uses
		// to finalize or discard the in-flight turn.
		for fragment := range out {
			switch {
			case fragment.Err != nil:
				logger.Error("turn failed mid-stream", "user_id", userID, "error", fragment.Err)
				writeEvent(c.Writer, gin.H{"error": "failed to complete the turn"})
			case fragment.Done:
				entries := fragment.Entries
				if entries == nil {
					entries = []agent.EntryResult{}
				}
				writeEvent(c.Writer, gin.H{"conversation_id": fragment.ConversationID, "entries": entries})
			default:
				writeEvent(c.Writer, gin.H{"content": fragment.Content})
			}
			c.Writer.Flush()
		}
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		c.Writer.Flush()
	}
}

func writeEvent(w io.Writer, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// ListConversationsHandler returns the caller's conversations newest
// first, each with a preview derived from its first message.
func ListConversationsHandler(db *gorm.DB, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		var conversations []models.Conversation
		err := db.WithContext(c.Request.Context()).
			Where("user_id = ?", userID).
			Order("last_active_at DESC").
			Limit(conversationListLimit).
			Find(&conversations).Error
		if err != nil {
			logger.Error("failed to list conversations", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}

		type item struct {
			ID           uint   `json:"id"`
			CreatedAt    string `json:"created_at"`
			LastActiveAt string `json:"last_active_at"`
			Preview      string `json:"preview"`
		}
		items := make([]item, 0, len(conversations))
		for _, conversation := range conversations {
			var first models.Message
			preview := ""
			err := db.WithContext(c.Request.Context()).
				Where("conversation_id = ?", conversation.ID).
				Order("created_at, id").
				First(&first).Error
			if err == nil {
				preview = truncatePreview(first.Content)
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Warn("failed to load conversation preview", "conversation_id", conversation.ID, "error", err)
			}
			items = append(items, item{
				ID:           conversation.ID,
				CreatedAt:    conversation.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
				LastActiveAt: conversation.LastActiveAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
				Preview:      preview,
			})
		}

		c.JSON(http.StatusOK, gin.H{"conversations": items})
	}
}

// GetConversationHandler returns one conversation's ordered transcript.
func GetConversationHandler(db *gorm.DB, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.CurrentUserID(c)

		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id must be a positive integer"})
			return
		}

		var conversation models.Conversation
		err = db.WithContext(c.Request.Context()).
			Where("id = ? AND user_id = ?", id, userID).
			First(&conversation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if err != nil {
			logger.Error("failed to load conversation", "conversation_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
			return
		}

		var messages []models.Message
		err = db.WithContext(c.Request.Context()).
			Where("conversation_id = ?", conversation.ID).
			Order("created_at, id").
			Find(&messages).Error
		if err != nil {
			logger.Error("failed to load messages", "conversation_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}

		type message struct {
			ID        uint            `json:"id"`
			Role      string          `json:"role"`
			Content   string          `json:"content"`
			ImageRef  string          `json:"image_ref,omitempty"`
			Snapshot  json.RawMessage `json:"snapshot,omitempty"`
			CreatedAt string          `json:"created_at"`
		}
		out := make([]message, 0, len(messages))
		for _, m := range messages {
			out = append(out, message{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				ImageRef:  m.ImageRef,
				Snapshot:  json.RawMessage(m.Snapshot),
				CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"id":       conversation.ID,
			"messages": out,
		})
	}
}

// truncatePreview shortens a message to the preview length, counting
// runes so multibyte text is never split.
func truncatePreview(content string) string {
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewMaxRunes]) + "..."
}

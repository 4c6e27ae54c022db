// Package agent orchestrates a conversation turn: it resolves the
// transcript, extracts loggable entities from the utterance, persists
// them, streams the assistant reply, and finalizes the transcript.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonschema"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/llm"
	"github.com/healthpilot/healthpilot/internal/models"
)

// ErrConversationNotFound signals a stale conversation id. Clients
// clear their cached pointer and fall back to latest-or-new.
var ErrConversationNotFound = errors.New("conversation not found")

const (
	extractionTimeout = 20 * time.Second

	// interruptedMarker closes out a partial assistant message when the
	// caller disconnects mid-stream.
	interruptedMarker = "\n\n[interrupted]"

	// fallbackReply keeps a turn valid when the model produces nothing.
	fallbackReply = "Sorry, I ran into a problem generating a reply. Please try again."
)

// Turn pipeline states, logged per transition.
type turnState string

const (
	stateReceived         turnState = "RECEIVED"
	stateTranscriptLoaded turnState = "TRANSCRIPT_LOADED"
	stateExtracting       turnState = "EXTRACTING"
	stateEntriesPersisted turnState = "ENTRIES_PERSISTED"
	stateNoEntries        turnState = "NO_ENTRIES"
	stateStreamingReply   turnState = "STREAMING_REPLY"
	stateReplyPersisted   turnState = "REPLY_PERSISTED"
)

// TurnInput is one user utterance addressed to a conversation.
type TurnInput struct {
	Text string
	// ConversationID is nil for the first utterance; the conversation
	// is then created lazily and its id delivered on the terminal
	// fragment.
	ConversationID *uint
}

// EntryResult reports the outcome of persisting one extracted entity.
// Persistence is atomic per entity: a failed sibling never rolls back
// the others.
type EntryResult struct {
	Kind  string `json:"kind"`
	ID    uint   `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	Error string `json:"error,omitempty"`
}

// Fragment is one element of the turn's output stream. Content
// fragments arrive as the reply is produced; the terminal fragment has
// Done set and carries the resolved conversation id and entry results.
type Fragment struct {
	Content        string
	Done           bool
	ConversationID uint
	Entries        []EntryResult
	Err            error
}

// Agent turns utterances into persisted entries, streamed replies and
// transcript updates.
type Agent struct {
	db            *gorm.DB
	provider      llm.Provider
	logger        *slog.Logger
	historyWindow int
	locks         *conversationLocks
	schema        *jsonschema.Schema
}

// New creates an Agent. historyWindow bounds the number of prior
// messages loaded as model context.
func New(db *gorm.DB, provider llm.Provider, logger *slog.Logger, historyWindow int) (*Agent, error) {
	schema, err := compileExtractionSchema()
	if err != nil {
		return nil, err
	}
	if historyWindow <= 0 {
		historyWindow = 20
	}
	return &Agent{
		db:            db,
		provider:      provider,
		logger:        logger,
		historyWindow: historyWindow,
		locks:         newConversationLocks(),
		schema:        schema,
	}, nil
}

// HandleTurn runs one conversation turn. It returns after the user
// message is durably appended; the reply then arrives on the returned
// channel, closed after the terminal fragment. Pre-stream failures
// (unknown conversation, user-message persistence) are returned as an
// error instead of a channel.
func (a *Agent) HandleTurn(ctx context.Context, userID uint, input TurnInput) (<-chan Fragment, error) {
	turnID := uuid.New().String()
	log := a.logger.With("turn_id", turnID, "user_id", userID)
	log.Info("turn state", "state", stateReceived)

	var user models.User
	if err := a.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	conversation, err := a.resolveConversation(ctx, userID, input.ConversationID)
	if err != nil {
		return nil, err
	}

	release := a.locks.acquire(conversation.ID)

	userMsg := models.Message{
		ConversationID: conversation.ID,
		Role:           models.RoleUser,
		Content:        input.Text,
	}
	userMsg.CreatedAt = nextMessageTime(conversation)
	if err := a.db.WithContext(ctx).Create(&userMsg).Error; err != nil {
		release()
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	history, err := a.loadHistory(ctx, conversation.ID, userMsg.ID)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to load transcript window: %w", err)
	}
	log.Info("turn state", "state", stateTranscriptLoaded, "conversation_id", conversation.ID, "window", len(history))

	out := make(chan Fragment)
	go a.runTurn(ctx, log, release, &user, conversation, userMsg, history, input.Text, out)
	return out, nil
}

func (a *Agent) runTurn(
	ctx context.Context,
	log *slog.Logger,
	release func(),
	user *models.User,
	conversation *models.Conversation,
	userMsg models.Message,
	history []llm.HistoryMessage,
	utterance string,
	out chan<- Fragment,
) {
	defer release()
	defer close(out)

	log.Info("turn state", "state", stateExtracting)
	entities, results := a.extractEntities(ctx, log, history, utterance)

	now := time.Now()
	loc := user.Location()
	for _, entity := range entities {
		results = append(results, a.persistEntity(ctx, log, user.ID, conversation.ID, entity, utterance, loc, now))
	}
	if len(results) > 0 {
		log.Info("turn state", "state", stateEntriesPersisted, "entries", len(results))
	} else {
		log.Info("turn state", "state", stateNoEntries)
	}

	log.Info("turn state", "state", stateStreamingReply)
	fragments, errs := a.provider.StreamReply(ctx, llm.ReplyRequest{History: history, Utterance: utterance})

	var reply strings.Builder
	interrupted := false
	for fragment := range fragments {
		reply.WriteString(fragment)
		select {
		case out <- Fragment{Content: fragment}:
		case <-ctx.Done():
			interrupted = true
		}
		if interrupted {
			break
		}
	}
	for range fragments {
		// Drain so the producer can finish after an early break.
	}
	streamErr := <-errs

	if interrupted || errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded) {
		a.finalizeInterrupted(log, conversation, userMsg, reply.String())
		return
	}

	content := reply.String()
	if streamErr != nil {
		log.Warn("reply stream failed", "error", streamErr)
		if content == "" {
			// Degrade rather than fail the turn: the caller still gets
			// a reply and the transcript stays complete.
			content = fallbackReply
			select {
			case out <- Fragment{Content: content}:
			case <-ctx.Done():
				a.finalizeInterrupted(log, conversation, userMsg, "")
				return
			}
		}
	}

	if err := a.persistAssistantMessage(conversation, userMsg, content, snapshotFor(results), ""); err != nil {
		log.Error("failed to persist assistant message", "error", err)
		out <- Fragment{Err: fmt.Errorf("failed to persist assistant message: %w", err)}
		return
	}
	log.Info("turn state", "state", stateReplyPersisted)

	out <- Fragment{
		Done:           true,
		ConversationID: conversation.ID,
		Entries:        results,
	}
}

// extractEntities calls the extraction capability and validates its
// output. Failure or timeout degrades the turn to plain conversation.
func (a *Agent) extractEntities(ctx context.Context, log *slog.Logger, history []llm.HistoryMessage, utterance string) ([]ExtractedEntity, []EntryResult) {
	extractCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	payload, err := a.provider.Extract(extractCtx, llm.ExtractRequest{History: history, Utterance: utterance})
	if err != nil {
		log.Warn("extraction failed, degrading to plain chat", "error", err)
		return nil, nil
	}

	entities, rejected := decodeEntities(a.schema, payload)
	var results []EntryResult
	for _, rej := range rejected {
		log.Warn("extracted entity rejected", "error", rej)
		results = append(results, EntryResult{Error: rej.Error()})
	}
	return entities, results
}

func (a *Agent) persistEntity(
	ctx context.Context,
	log *slog.Logger,
	userID, conversationID uint,
	entity ExtractedEntity,
	utterance string,
	loc *time.Location,
	now time.Time,
) EntryResult {
	convID := conversationID

	switch entity.Kind {
	case KindDiet:
		facts := entity.Diet
		if facts == nil {
			return EntryResult{Kind: KindDiet, Error: "missing diet payload"}
		}
		entry := models.DietEntry{
			UserID:         userID,
			Date:           resolveDate(facts.Date, loc, now),
			MealType:       correctMealType(facts.FoodName, facts.MealType, utterance, now.In(loc)),
			FoodName:       facts.FoodName,
			Calories:       facts.Calories,
			ProteinG:       facts.ProteinG,
			CarbsG:         facts.CarbsG,
			FatG:           facts.FatG,
			VegetableG:     facts.VegetableG,
			Estimated:      facts.Estimated,
			Source:         models.SourceText,
			ConversationID: &convID,
		}
		if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
			log.Error("failed to persist diet entry", "food", facts.FoodName, "error", err)
			return EntryResult{Kind: KindDiet, Label: facts.FoodName, Error: err.Error()}
		}
		return EntryResult{Kind: KindDiet, ID: entry.ID, Label: facts.FoodName}

	case KindExercise:
		facts := entity.Exercise
		if facts == nil {
			return EntryResult{Kind: KindExercise, Error: "missing exercise payload"}
		}
		intensity := facts.Intensity
		if !models.ValidIntensity(intensity) {
			intensity = models.IntensityModerate
		}
		entry := models.ExerciseEntry{
			UserID:         userID,
			Date:           resolveDate(facts.Date, loc, now),
			ExerciseType:   facts.ExerciseType,
			DurationMin:    facts.DurationMin,
			Intensity:      intensity,
			CaloriesBurned: facts.CaloriesBurned,
			ConversationID: &convID,
		}
		if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
			log.Error("failed to persist exercise entry", "exercise", facts.ExerciseType, "error", err)
			return EntryResult{Kind: KindExercise, Label: facts.ExerciseType, Error: err.Error()}
		}
		return EntryResult{Kind: KindExercise, ID: entry.ID, Label: facts.ExerciseType}
	}

	return EntryResult{Kind: entity.Kind, Error: "unknown entity kind"}
}

// finalizeInterrupted handles stream cancellation: a partial reply is
// persisted with an explicit truncation marker, an empty one persists
// nothing. Either way the transcript never holds a garbled message.
func (a *Agent) finalizeInterrupted(log *slog.Logger, conversation *models.Conversation, userMsg models.Message, partial string) {
	if partial == "" {
		log.Info("turn interrupted before first fragment, no assistant message persisted")
		return
	}
	if err := a.persistAssistantMessage(conversation, userMsg, partial+interruptedMarker, nil, ""); err != nil {
		log.Error("failed to persist interrupted assistant message", "error", err)
		return
	}
	log.Info("turn interrupted, truncated assistant message persisted")
}

// persistAssistantMessage appends the assistant message and touches the
// conversation. Runs detached from the request context so a client
// disconnect cannot abort transcript finalization.
func (a *Agent) persistAssistantMessage(conversation *models.Conversation, userMsg models.Message, content string, snapshot []byte, imageRef string) error {
	assistantAt := time.Now().UTC()
	if !assistantAt.After(userMsg.CreatedAt) {
		assistantAt = userMsg.CreatedAt.Add(time.Millisecond)
	}

	msg := models.Message{
		ConversationID: conversation.ID,
		Role:           models.RoleAssistant,
		Content:        content,
		ImageRef:       imageRef,
		Snapshot:       datatypes.JSON(snapshot),
	}
	msg.CreatedAt = assistantAt

	if err := a.db.Create(&msg).Error; err != nil {
		return err
	}
	return a.db.Model(conversation).Update("last_active_at", assistantAt).Error
}

// AppendExchange appends a synthetic user+assistant message pair to a
// conversation so non-chat entry points (exercise record, image upload)
// keep the transcript a complete activity log. A stale conversation id
// returns ErrConversationNotFound; the caller keeps its primary write
// and skips the transcript.
func (a *Agent) AppendExchange(ctx context.Context, userID, conversationID uint, userText, assistantText string, snapshot []byte, imageRef string) error {
	var conversation models.Conversation
	err := a.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", conversationID, userID).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	release := a.locks.acquire(conversationID)
	defer release()

	userMsg := models.Message{
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        userText,
		ImageRef:       imageRef,
	}
	userMsg.CreatedAt = nextMessageTime(&conversation)
	if err := a.db.WithContext(ctx).Create(&userMsg).Error; err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}

	return a.persistAssistantMessage(&conversation, userMsg, assistantText, snapshot, "")
}

func (a *Agent) resolveConversation(ctx context.Context, userID uint, conversationID *uint) (*models.Conversation, error) {
	if conversationID == nil {
		conversation := models.Conversation{
			UserID:       userID,
			LastActiveAt: time.Now().UTC(),
		}
		if err := a.db.WithContext(ctx).Create(&conversation).Error; err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		return &conversation, nil
	}

	var conversation models.Conversation
	err := a.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", *conversationID, userID).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conversation, nil
}

// loadHistory returns the most recent messages before the current one,
// oldest first, bounded by the history window.
func (a *Agent) loadHistory(ctx context.Context, conversationID, currentMsgID uint) ([]llm.HistoryMessage, error) {
	var messages []models.Message
	err := a.db.WithContext(ctx).
		Where("conversation_id = ? AND id <> ?", conversationID, currentMsgID).
		Order("created_at DESC, id DESC").
		Limit(a.historyWindow).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	history := make([]llm.HistoryMessage, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		history = append(history, llm.HistoryMessage{
			Role:    messages[i].Role,
			Content: messages[i].Content,
		})
	}
	return history, nil
}

// nextMessageTime picks a CreatedAt strictly after everything already
// in the transcript. LastActiveAt tracks the previous assistant
// message, which may sit slightly ahead of the wall clock after its
// own ordering bump.
func nextMessageTime(conversation *models.Conversation) time.Time {
	at := time.Now().UTC()
	if !at.After(conversation.LastActiveAt) {
		at = conversation.LastActiveAt.Add(time.Millisecond)
	}
	return at
}

func snapshotFor(results []EntryResult) []byte {
	if len(results) == 0 {
		return nil
	}
	snapshot, err := json.Marshal(results)
	if err != nil {
		return nil
	}
	return snapshot
}

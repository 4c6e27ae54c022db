// Package llm abstracts the language-model capabilities the rest of the
// app depends on: streamed replies, structured extraction, food-image
// analysis, and narrative generation.
package llm

import (
	"context"
	"encoding/json"
)

// HistoryMessage is one prior transcript entry passed as context.
type HistoryMessage struct {
	Role    string
	Content string
}

// ReplyRequest carries the context for a streamed conversational reply.
type ReplyRequest struct {
	History   []HistoryMessage
	Utterance string
}

// ExtractRequest carries the context for structured entity extraction.
type ExtractRequest struct {
	History   []HistoryMessage
	Utterance string
}

// Provider is the model capability boundary. Implementations must treat
// the passed context as the cancellation signal for streaming.
type Provider interface {
	// StreamReply produces reply fragments on the returned channel and
	// closes it at end of stream. A mid-stream failure is delivered on
	// the error channel after the fragment channel closes; a nil error
	// means the stream completed.
	StreamReply(ctx context.Context, req ReplyRequest) (<-chan string, <-chan error)

	// Extract returns the raw JSON entity list for an utterance. The
	// caller validates the payload before trusting its shape.
	Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error)

	// AnalyzeImage returns the raw JSON nutrition analysis for a food
	// photo.
	AnalyzeImage(ctx context.Context, data []byte, mimeType string) (json.RawMessage, error)

	// GenerateText produces a single completion for a prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

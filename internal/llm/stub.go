package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Stub is a keyless Provider for development and tests: it streams a
// canned reply, extracts nothing, and produces a fixed narrative. The
// degraded-chat paths behave exactly as they do against the real model.
type Stub struct {
	// Reply overrides the canned reply when non-empty.
	Reply string
}

const stubReply = "I'm running without a model connection right now, so I can chat but not analyse your message in detail."

func (s *Stub) StreamReply(ctx context.Context, req ReplyRequest) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errs := make(chan error, 1)

	reply := s.Reply
	if reply == "" {
		reply = stubReply
	}

	go func() {
		defer close(errs)
		defer close(fragments)
		for _, word := range strings.SplitAfter(reply, " ") {
			select {
			case fragments <- word:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return fragments, errs
}

func (s *Stub) Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error) {
	return json.RawMessage(`{"entities": []}`), nil
}

func (s *Stub) AnalyzeImage(ctx context.Context, data []byte, mimeType string) (json.RawMessage, error) {
	return json.RawMessage(`{"food_name": "unidentified meal", "serving_size": "1 serving", "calories": 0, "protein_g": 0, "carbs_g": 0, "fat_g": 0, "has_nutrition_label": false, "estimated": true}`), nil
}

func (s *Stub) GenerateText(ctx context.Context, prompt string) (string, error) {
	return "Narrative generation is unavailable without a model connection.", nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/healthpilot/healthpilot/internal/models"
)

const replySystemPrompt = `You are a professional health-management assistant. You help the user log
meals and exercise, answer nutrition and fitness questions, and give
practical, personalised advice. Keep replies friendly and concise.`

const extractPromptTemplate = `Analyse the user message below and extract any food or exercise it
describes. Respond with JSON only, in this shape:

{"entities": [
  {"kind": "diet", "diet": {"meal_type": "breakfast|lunch|dinner|snack",
   "food_name": "...", "calories": 0, "protein_g": 0, "carbs_g": 0,
   "fat_g": 0, "vegetable_g": 0, "date": "YYYY-MM-DD or empty",
   "estimated": true}},
  {"kind": "exercise", "exercise": {"exercise_type": "...",
   "duration_min": 0, "intensity": "low|moderate|high",
   "calories_burned": 0, "date": "YYYY-MM-DD or empty"}}
]}

Return {"entities": []} when the message logs nothing. Only set "date"
when the message unambiguously names a day. Set "estimated" when any
nutrition number is your estimate rather than stated by the user.

User message: %s`

const analyzeImagePrompt = `Analyse this food photo. If it shows a nutrition facts label, read the
values from the label; otherwise estimate them from the visible food.
Respond with JSON only:

{"food_name": "...", "serving_size": "...", "calories": 0,
 "protein_g": 0, "carbs_g": 0, "fat_g": 0,
 "has_nutrition_label": false, "estimated": true}

Set "estimated" to false only when the values come from a label.`

// Gemini implements Provider on top of the Google GenAI API.
type Gemini struct {
	client      *genai.Client
	model       string
	visionModel string
}

// NewGemini creates a Gemini-backed provider.
func NewGemini(ctx context.Context, apiKey, model, visionModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{client: client, model: model, visionModel: visionModel}, nil
}

// StreamReply streams a conversational reply for the utterance.
func (g *Gemini) StreamReply(ctx context.Context, req ReplyRequest) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errs := make(chan error, 1)

	contents := historyContents(req.History)
	contents = append(contents, genai.NewContentFromText(req.Utterance, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(replySystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.7),
	}

	go func() {
		defer close(errs)

		var streamErr error
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				streamErr = err
				break
			}
			text := chunk.Text()
			if text == "" {
				continue
			}
			select {
			case fragments <- text:
			case <-ctx.Done():
				streamErr = ctx.Err()
			}
			if streamErr != nil {
				break
			}
		}

		close(fragments)
		if streamErr != nil {
			errs <- fmt.Errorf("gemini stream failed: %w", streamErr)
		}
	}()

	return fragments, errs
}

// Extract asks the model for the structured entity list.
func (g *Gemini) Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error) {
	contents := historyContents(req.History)
	contents = append(contents, genai.NewContentFromText(fmt.Sprintf(extractPromptTemplate, req.Utterance), genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini extraction failed: %w", err)
	}

	payload := extractJSONObject(resp.Text())
	if payload == nil {
		return nil, fmt.Errorf("gemini extraction returned no JSON object")
	}
	return payload, nil
}

// AnalyzeImage sends a food photo to the vision model.
func (g *Gemini) AnalyzeImage(ctx context.Context, data []byte, mimeType string) (json.RawMessage, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(analyzeImagePrompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.visionModel, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini image analysis failed: %w", err)
	}

	payload := extractJSONObject(resp.Text())
	if payload == nil {
		return nil, fmt.Errorf("gemini image analysis returned no JSON object")
	}
	return payload, nil
}

// GenerateText produces a single completion, used for report narratives.
func (g *Gemini) GenerateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini generation returned empty response")
	}
	return text, nil
}

func historyContents(history []HistoryMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		var role genai.Role = genai.RoleUser
		if msg.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSONObject pulls the outermost JSON object out of a model
// response, tolerating markdown fences and surrounding prose.
func extractJSONObject(text string) json.RawMessage {
	match := jsonObjectRe.FindString(text)
	if match == "" {
		return nil
	}
	if !json.Valid([]byte(match)) {
		return nil
	}
	return json.RawMessage(match)
}

package agent

import (
	"encoding/json"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
)

// Entity kinds produced by extraction.
const (
	KindDiet     = "diet"
	KindExercise = "exercise"
)

//go:embed extraction_schema.json
var extractionSchemaJSON []byte

// DietFacts is the extracted nutrition payload for one food item.
type DietFacts struct {
	MealType   string  `json:"meal_type"`
	FoodName   string  `json:"food_name"`
	Calories   float64 `json:"calories"`
	ProteinG   float64 `json:"protein_g"`
	CarbsG     float64 `json:"carbs_g"`
	FatG       float64 `json:"fat_g"`
	VegetableG float64 `json:"vegetable_g"`
	Date       string  `json:"date"`
	Estimated  bool    `json:"estimated"`
}

// ExerciseFacts is the extracted payload for one exercise.
type ExerciseFacts struct {
	ExerciseType   string  `json:"exercise_type"`
	DurationMin    float64 `json:"duration_min"`
	Intensity      string  `json:"intensity"`
	CaloriesBurned float64 `json:"calories_burned"`
	Date           string  `json:"date"`
	Estimated      bool    `json:"estimated"`
}

// ExtractedEntity is the tagged variant for one loggable item: exactly
// one of Diet or Exercise is set, matching Kind.
type ExtractedEntity struct {
	Kind     string         `json:"kind"`
	Diet     *DietFacts     `json:"diet,omitempty"`
	Exercise *ExerciseFacts `json:"exercise,omitempty"`
}

type extractionEnvelope struct {
	Entities []json.RawMessage `json:"entities"`
}

func compileExtractionSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(extractionSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction schema: %w", err)
	}
	return schema, nil
}

// decodeEntities validates each extracted entity against the schema and
// decodes the valid ones. Validation is per entity: a malformed entity
// yields an error in the second return value without affecting its
// siblings.
func decodeEntities(schema *jsonschema.Schema, payload json.RawMessage) ([]ExtractedEntity, []error) {
	var envelope extractionEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, []error{fmt.Errorf("extraction payload is not an entity list: %w", err)}
	}

	var entities []ExtractedEntity
	var rejected []error
	for i, raw := range envelope.Entities {
		var value map[string]interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			rejected = append(rejected, fmt.Errorf("entity %d: %w", i, err))
			continue
		}

		result := schema.Validate(value)
		if !result.IsValid() {
			var messages []string
			for field, evalErr := range result.Errors {
				messages = append(messages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
			}
			rejected = append(rejected, fmt.Errorf("entity %d rejected: %s", i, strings.Join(messages, "; ")))
			continue
		}

		var entity ExtractedEntity
		if err := json.Unmarshal(raw, &entity); err != nil {
			rejected = append(rejected, fmt.Errorf("entity %d: %w", i, err))
			continue
		}
		entities = append(entities, entity)
	}

	return entities, rejected
}

// resolveDate picks the entry date: the extraction's explicit date when
// it parses, otherwise today in the user's timezone. Dates are stored
// as UTC midnights.
func resolveDate(explicit string, loc *time.Location, now time.Time) time.Time {
	if explicit != "" {
		if d, err := time.Parse("2006-01-02", explicit); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

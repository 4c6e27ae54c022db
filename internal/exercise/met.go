// Package exercise computes exercise calorie burn from a fixed MET
// table and serves the exercise-recording endpoints.
package exercise

import (
	"bytes"
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/healthpilot/healthpilot/internal/models"
)

//go:embed met_values.yaml
var metValuesYAML []byte

type metLevels struct {
	Low      float64 `yaml:"low"`
	Moderate float64 `yaml:"moderate"`
	High     float64 `yaml:"high"`
}

type metTable struct {
	Defaults  metLevels            `yaml:"defaults"`
	Exercises map[string]metLevels `yaml:"exercises"`
}

var table = mustLoadMETTable()

func mustLoadMETTable() metTable {
	dec := yaml.NewDecoder(bytes.NewReader(metValuesYAML))
	dec.KnownFields(true)

	var t metTable
	if err := dec.Decode(&t); err != nil {
		panic(fmt.Sprintf("invalid embedded MET table: %v", err))
	}
	return t
}

func (l metLevels) forIntensity(intensity string) float64 {
	switch intensity {
	case models.IntensityLow:
		return l.Low
	case models.IntensityHigh:
		return l.High
	default:
		return l.Moderate
	}
}

// MET returns the MET value for an exercise type and intensity, falling
// back to the intensity defaults for unknown types.
func MET(exerciseType, intensity string) float64 {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(exerciseType)), " ", "_")
	if levels, ok := table.Exercises[key]; ok {
		return levels.forIntensity(intensity)
	}
	return table.Defaults.forIntensity(intensity)
}

// CaloriesBurned computes kcal as MET x body weight x hours, rounded to
// two decimals.
func CaloriesBurned(exerciseType string, durationMin float64, intensity string, weightKg float64) float64 {
	kcal := MET(exerciseType, intensity) * weightKg * (durationMin / 60)
	return math.Round(kcal*100) / 100
}

// KnownTypes lists the exercise types in the MET table, sorted.
func KnownTypes() []string {
	types := make([]string, 0, len(table.Exercises))
	for name := range table.Exercises {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

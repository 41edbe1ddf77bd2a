package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPlan is returned when a plan name is not recognised.
var ErrUnknownPlan = errors.New("unknown plan")

// Difficulty is one of the three labels the model is allowed to emit.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Легко"
	DifficultyMedium Difficulty = "Средне"
	DifficultyHard   Difficulty = "Сложно"
)

// Difficulties lists the allowed labels in ascending order.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Valid reports whether d is one of the allowed labels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ParseDifficulty maps a label, or its English alias, to a Difficulty.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "легко", "easy":
		return DifficultyEasy, true
	case "средне", "medium":
		return DifficultyMedium, true
	case "сложно", "hard":
		return DifficultyHard, true
	}
	return Difficulty(s), false
}

// UserPlan is the subscription tier. It governs how many recipes a
// generation asks for.
type UserPlan string

const (
	PlanBasic   UserPlan = "Basic"
	PlanPremium UserPlan = "Premium"
)

// RecipeCount is the exact number of recipes a generation returns.
func (p UserPlan) RecipeCount() int {
	if p == PlanPremium {
		return 10
	}
	return 5
}

// ParsePlan parses a plan name case-insensitively.
func ParsePlan(s string) (UserPlan, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return PlanBasic, nil
	case "premium":
		return PlanPremium, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
}

// Recipe represents a generated dish.
type Recipe struct {
	ID          string     `json:"id"`
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description" validate:"required"`
	Ingredients []string   `json:"ingredients" validate:"required,min=1,dive,required"`
	Steps       []string   `json:"steps" validate:"required,min=1,dive,required"`
	Time        string     `json:"time" validate:"required"`
	Difficulty  Difficulty `json:"difficulty" validate:"difficulty"`
	// ImageURL is filled in once the dish photo has been generated.
	ImageURL string `json:"imageUrl,omitempty"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for Recipe.
func (r *Recipe) UnmarshalJSON(data []byte) error {
	type Alias Recipe // Create an alias to avoid infinite recursion
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Name = strings.TrimSpace(r.Name)
	if d, ok := ParseDifficulty(string(r.Difficulty)); ok {
		r.Difficulty = d
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	c := *r
	c.Ingredients = append([]string(nil), r.Ingredients...)
	c.Steps = append([]string(nil), r.Steps...)
	return &c
}

// GenerationState is the result region of a kitchen session. Loading and a
// non-empty Error are never set together.
type GenerationState struct {
	Loading bool      `json:"loading"`
	Error   *string   `json:"error"`
	Recipes []*Recipe `json:"recipes"`
}

// Clone returns a deep copy of s.
func (s GenerationState) Clone() GenerationState {
	c := GenerationState{Loading: s.Loading}
	if s.Error != nil {
		msg := *s.Error
		c.Error = &msg
	}
	c.Recipes = make([]*Recipe, len(s.Recipes))
	for i, r := range s.Recipes {
		c.Recipes[i] = r.Clone()
	}
	return c
}

package recipe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"chefai/internal/apperr"
)

// RequiredFields are the properties every generated recipe must carry.
var RequiredFields = []string{"name", "description", "ingredients", "steps", "time", "difficulty"}

// Batch is the top-level object the model must return.
type Batch struct {
	Recipes []*Recipe `json:"recipes" validate:"required,dive,required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("difficulty", func(fl validator.FieldLevel) bool {
		return Difficulty(fl.Field().String()).Valid()
	})
	if err != nil {
		panic(fmt.Sprintf("recipe: register difficulty validation: %v", err))
	}
	return v
}

// JSONSchema is the structured-output contract as a plain JSON Schema
// document, for providers that take one verbatim.
func JSONSchema() map[string]any {
	str := map[string]any{"type": "string"}
	strArray := map[string]any{"type": "array", "items": str}
	difficulty := make([]string, len(Difficulties))
	for i, d := range Difficulties {
		difficulty[i] = string(d)
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        str,
						"description": str,
						"ingredients": strArray,
						"steps":       strArray,
						"time":        str,
						"difficulty":  map[string]any{"type": "string", "enum": difficulty},
					},
					"required":             RequiredFields,
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"recipes"},
		"additionalProperties": false,
	}
}

// DecodeBatch parses a model answer, validates it against the recipe
// contract and checks that exactly want recipes came back. Each recipe gets a
// fresh ID. Any failure is a KindMalformedResponse error.
func DecodeBatch(raw string, want int) ([]*Recipe, error) {
	const op = "recipe.DecodeBatch"

	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, apperr.E(apperr.KindMalformedResponse, op, apperr.ErrEmptyResponse)
	}

	// Some models wrap the object in markdown fences.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start > end {
		return nil, apperr.E(apperr.KindMalformedResponse, op, fmt.Errorf("no JSON object in response"))
	}

	var b Batch
	if err := json.Unmarshal([]byte(text[start:end+1]), &b); err != nil {
		return nil, apperr.E(apperr.KindMalformedResponse, op, fmt.Errorf("failed to unmarshal recipes: %w", err))
	}
	if err := validate.Struct(&b); err != nil {
		return nil, apperr.E(apperr.KindMalformedResponse, op, fmt.Errorf("schema violation: %w", err))
	}
	if len(b.Recipes) != want {
		return nil, apperr.E(apperr.KindMalformedResponse, op,
			fmt.Errorf("expected %d recipes, got %d", want, len(b.Recipes)))
	}

	for _, r := range b.Recipes {
		r.ID = uuid.NewString()
		r.ImageURL = ""
	}
	return b.Recipes, nil
}

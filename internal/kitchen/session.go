// Package kitchen holds the application state of a recipe session: the
// ingredient list, the plan, the generation state machine and the per-card
// image tasks.
package kitchen

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"time"

	"chefai/internal/recipe"
)

// Sentinel errors used across layers.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrRecipeNotFound     = errors.New("recipe not found")
	ErrGenerationInFlight = errors.New("generation already in progress")
	ErrUpsellRequired     = errors.New("premium plan requires an upgrade")
	// ErrRecipeSuperseded is returned for an image whose batch was replaced
	// while the image was being generated.
	ErrRecipeSuperseded = errors.New("recipe batch was superseded")
)

// ScrollDelay is how long the view waits after a successful generation
// before scrolling to the results, letting the layout settle.
const ScrollDelay = 100 * time.Millisecond

// Phase is the position of a session in the generation state machine.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseFailed  Phase = "failed"
)

// Session is one user's kitchen.
type Session struct {
	ID              string                 `json:"id"`
	Ingredients     recipe.IngredientSet   `json:"ingredients"`
	Plan            recipe.UserPlan        `json:"plan"`
	PremiumEntitled bool                   `json:"premium_entitled"`
	State           recipe.GenerationState `json:"state"`
	// Token identifies the current batch. It changes on every generation
	// so late results for an older batch can be recognised and dropped.
	Token            int64           `json:"token"`
	UpsellOpen       bool            `json:"upsell_open"`
	SelectedRecipeID string          `json:"selected_recipe_id,omitempty"`
	FailedImages     map[string]bool `json:"failed_images"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Phase derives the state machine position from the generation state.
func (s *Session) Phase() Phase {
	switch {
	case s.State.Loading:
		return PhaseLoading
	case s.State.Error != nil:
		return PhaseFailed
	case len(s.State.Recipes) > 0:
		return PhaseSuccess
	default:
		return PhaseIdle
	}
}

// Recipe finds a recipe of the current batch by ID.
func (s *Session) Recipe(id string) *recipe.Recipe {
	for _, r := range s.State.Recipes {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.Ingredients = recipe.NewIngredientSet(s.Ingredients.Items()...)
	c.State = s.State.Clone()
	c.FailedImages = maps.Clone(s.FailedImages)
	return &c
}

// PlaceholderURL is the deterministic fallback photo for a dish.
func PlaceholderURL(name string) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s/400/300", url.PathEscape(name))
}

// ImageStatus is the display state of a recipe card's photo.
type ImageStatus string

const (
	ImageLoading     ImageStatus = "loading"
	ImageReady       ImageStatus = "ready"
	ImagePlaceholder ImageStatus = "placeholder"
)

// Card is a recipe as shown in the results grid.
type Card struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Time        string            `json:"time"`
	Difficulty  recipe.Difficulty `json:"difficulty"`
	ImageStatus ImageStatus       `json:"image_status"`
	ImageURL    string            `json:"image_url,omitempty"`
}

// View is the render model of a session.
type View struct {
	ID          string          `json:"id"`
	Phase       Phase           `json:"phase"`
	Ingredients []string        `json:"ingredients"`
	Plan        recipe.UserPlan `json:"plan"`
	RecipeCount int             `json:"recipe_count"`
	Loading     bool            `json:"loading"`
	Error       *string         `json:"error"`
	CanGenerate bool            `json:"can_generate"`
	Cards       []Card          `json:"cards"`
	// Selected is the recipe open in the detail overlay.
	Selected      *recipe.Recipe `json:"selected,omitempty"`
	UpsellOpen    bool           `json:"upsell_open"`
	ScrollDelayMS int64          `json:"scroll_delay_ms,omitempty"`
}

func (s *Session) view() *View {
	v := &View{
		ID:          s.ID,
		Phase:       s.Phase(),
		Ingredients: s.Ingredients.Items(),
		Plan:        s.Plan,
		RecipeCount: s.Plan.RecipeCount(),
		Loading:     s.State.Loading,
		Error:       s.State.Error,
		CanGenerate: s.Ingredients.Len() > 0 && !s.State.Loading,
		Cards:       make([]Card, 0, len(s.State.Recipes)),
		UpsellOpen:  s.UpsellOpen,
	}
	if v.Ingredients == nil {
		v.Ingredients = []string{}
	}
	if v.Phase == PhaseSuccess {
		v.ScrollDelayMS = ScrollDelay.Milliseconds()
	}

	for _, r := range s.State.Recipes {
		card := Card{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Time:        r.Time,
			Difficulty:  r.Difficulty,
			ImageStatus: ImageLoading,
		}
		switch {
		case r.ImageURL != "":
			card.ImageStatus = ImageReady
			card.ImageURL = r.ImageURL
		case s.FailedImages[r.ID]:
			card.ImageStatus = ImagePlaceholder
			card.ImageURL = PlaceholderURL(r.Name)
		}
		v.Cards = append(v.Cards, card)
	}

	if s.SelectedRecipeID != "" {
		v.Selected = s.Recipe(s.SelectedRecipeID).Clone()
	}
	return v
}

package kitchen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chefai/internal/apperr"
	"chefai/internal/logger"
	"chefai/internal/metrics"
	"chefai/internal/recipe"
)

// User-facing messages for a failed generation.
const (
	MsgGenerationFailed = "Произошла ошибка. Пожалуйста, попробуйте позже."
	MsgConfigError      = "Сервис не настроен: отсутствует или недействителен ключ API."
)

// RecipeGenerator produces a batch of recipes.
type RecipeGenerator interface {
	GenerateRecipes(ctx context.Context, ingredients []string, plan recipe.UserPlan) ([]*recipe.Recipe, error)
}

// ImageGenerator renders a dish photo and returns an image reference.
type ImageGenerator interface {
	GenerateDishImage(ctx context.Context, name, description string) (string, error)
}

// sessionLock serialises mutations of one session and carries the
// in-process flight guard. refs is guarded by Service.mu; the entry is
// dropped from the map once no caller holds it.
type sessionLock struct {
	mu       sync.Mutex
	inFlight bool
	refs     int
}

// Service is the kitchen state container.
type Service struct {
	store   Store
	recipes RecipeGenerator
	images  ImageGenerator
	log     *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
	group singleflight.Group
}

// NewService creates a Service. images may be nil, in which case every card
// gets a placeholder photo.
func NewService(store Store, recipes RecipeGenerator, images ImageGenerator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		recipes: recipes,
		images:  images,
		log:     log.Named("kitchen"),
		now:     time.Now,
		locks:   make(map[string]*sessionLock),
	}
}

// lock returns the session's lock with a reference taken. Every call must be
// paired with release.
func (s *Service) lock(id string) *sessionLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	return l
}

func (s *Service) release(id string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

// Create starts an idle session on the Basic plan.
func (s *Service) Create(ctx context.Context) (*View, error) {
	now := s.now()
	sess := &Session{
		ID:           uuid.NewString(),
		Plan:         recipe.PlanBasic,
		State:        recipe.GenerationState{Recipes: []*recipe.Recipe{}},
		FailedImages: map[string]bool{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.log.Debug("session created", zap.String("session", sess.ID))
	return sess.view(), nil
}

// View returns the current render model of a session.
func (s *Service) View(ctx context.Context, id string) (*View, error) {
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.view(), nil
}

// update runs fn on the stored session under the session lock and saves the
// result. fn reports whether anything changed.
func (s *Service) update(ctx context.Context, id string, fn func(*Session) (bool, error)) (*View, error) {
	l := s.lock(id)
	defer s.release(id, l)
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, fnErr := fn(sess)
	if changed {
		sess.UpdatedAt = s.now()
		if err := s.store.Save(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess.view(), fnErr
}

// AddIngredient adds a trimmed, lowercased ingredient. Blank entries and
// duplicates leave the session untouched.
func (s *Service) AddIngredient(ctx context.Context, id, name string) (*View, error) {
	return s.update(ctx, id, func(sess *Session) (bool, error) {
		return sess.Ingredients.Add(name), nil
	})
}

// RemoveIngredient removes an ingredient by exact match.
func (s *Service) RemoveIngredient(ctx context.Context, id, name string) (*View, error) {
	return s.update(ctx, id, func(sess *Session) (bool, error) {
		return sess.Ingredients.Remove(name), nil
	})
}

// SelectPlan switches the plan. Premium needs an entitlement; without one
// the upsell overlay opens and ErrUpsellRequired is returned.
func (s *Service) SelectPlan(ctx context.Context, id string, plan recipe.UserPlan) (*View, error) {
	return s.update(ctx, id, func(sess *Session) (bool, error) {
		if plan == recipe.PlanPremium && !sess.PremiumEntitled {
			sess.UpsellOpen = true
			return true, ErrUpsellRequired
		}
		if sess.Plan == plan {
			return false, nil
		}
		sess.Plan = plan
		return true, nil
	})
}

// Upgrade grants the Premium entitlement, selects Premium and closes the
// upsell overlay.
func (s *Service) Upgrade(ctx context.Context, id string) (*View, error) {
	return s.update(ctx, id, func(sess *Session) (bool, error) {
		sess.PremiumEntitled = true
		sess.Plan = recipe.PlanPremium
		sess.UpsellOpen = false
		return true, nil
	})
}

// CloseUpsell dismisses the upsell overlay.
func (s *Service) CloseUpsell(ctx context.Context, id string) (*View, error) {
	return s.update(ctx, id, func(sess *Session) (bool, error) {
		if !sess.UpsellOpen {
			return false, nil
		}
		sess.UpsellOpen = false
		return true, nil
	})
}

// SelectRecipe opens the detail overlay for a recipe of the current batch.
func (s *Service) SelectRecipe(ctx context.Context, id, recipeID string) (*View, error) {
	return s.update(ctx, id, func(sess *Session) (bool, error) {
		if sess.Recipe(recipeID) == nil {
			return false, ErrRecipeNotFound
		}
		sess.SelectedRecipeID = recipeID
		return true, nil
	})
}

// CloseRecipe closes the detail overlay.
func (s *Service) CloseRecipe(ctx context.Context, id string) (*View, error) {
	return s.update(ctx, id, func(sess *Session) (bool, error) {
		if sess.SelectedRecipeID == "" {
			return false, nil
		}
		sess.SelectedRecipeID = ""
		return true, nil
	})
}

// Generate runs one generation. It is a no-op returning
// apperr.ErrNoIngredients when the ingredient list is empty, and
// ErrGenerationInFlight while another generation for the session runs.
// Otherwise prior results and error are cleared, the session enters
// loading, and ends in success or failure. On failure the upstream error is
// returned together with the failed view.
func (s *Service) Generate(ctx context.Context, id string) (*View, error) {
	l := s.lock(id)
	defer s.release(id, l)
	l.mu.Lock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if sess.Ingredients.Len() == 0 {
		l.mu.Unlock()
		return sess.view(), apperr.ErrNoIngredients
	}
	if l.inFlight {
		l.mu.Unlock()
		return sess.view(), ErrGenerationInFlight
	}

	sess.Token++
	token := sess.Token
	sess.State = recipe.GenerationState{Loading: true, Recipes: []*recipe.Recipe{}}
	sess.SelectedRecipeID = ""
	sess.FailedImages = map[string]bool{}
	sess.UpdatedAt = s.now()
	if err := s.store.Save(ctx, sess); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.inFlight = true
	ingredients, plan := sess.Ingredients.Items(), sess.Plan
	l.mu.Unlock()

	log := logger.FromContext(ctx, s.log).With(zap.String("session", id), zap.String("plan", string(plan)), zap.Int64("token", token))
	log.Info("generation started", zap.Strings("ingredients", ingredients))

	start := s.now()
	recipes, genErr := s.recipes.GenerateRecipes(ctx, ingredients, plan)
	metrics.GenerationDuration.WithLabelValues(string(plan)).Observe(s.now().Sub(start).Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false

	// The outcome is recorded even if the caller has gone away.
	saveCtx := context.WithoutCancel(ctx)
	sess, err = s.store.Load(saveCtx, id)
	if err != nil {
		return nil, err
	}
	if sess.Token != token {
		log.Warn("discarding superseded generation result")
		return sess.view(), nil
	}

	if genErr != nil {
		msg := MsgGenerationFailed
		outcome := "failed"
		if apperr.Is(genErr, apperr.KindConfig) {
			msg = MsgConfigError
			outcome = "config_error"
		}
		metrics.GenerationsTotal.WithLabelValues(string(plan), outcome).Inc()
		log.Error("generation failed", zap.Error(genErr), zap.Stringer("kind", apperr.KindOf(genErr)))

		sess.State = recipe.GenerationState{Error: &msg, Recipes: []*recipe.Recipe{}}
		sess.UpdatedAt = s.now()
		if err := s.store.Save(saveCtx, sess); err != nil {
			return nil, errors.Join(genErr, err)
		}
		return sess.view(), genErr
	}

	metrics.GenerationsTotal.WithLabelValues(string(plan), "success").Inc()
	log.Info("generation finished", zap.Int("recipes", len(recipes)))

	sess.State = recipe.GenerationState{Recipes: recipes}
	sess.UpdatedAt = s.now()
	if err := s.store.Save(saveCtx, sess); err != nil {
		return nil, err
	}
	return sess.view(), nil
}

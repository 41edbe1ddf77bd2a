package kitchen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chefai/internal/apperr"
	"chefai/internal/recipe"
)

// fakeRecipes returns plan.RecipeCount() recipes, or err. When gate is set
// each call signals started and waits for gate to close.
type fakeRecipes struct {
	mu      sync.Mutex
	err     error
	calls   int
	got     [][]string
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeRecipes) GenerateRecipes(ctx context.Context, ingredients []string, plan recipe.UserPlan) ([]*recipe.Recipe, error) {
	f.mu.Lock()
	f.calls++
	f.got = append(f.got, ingredients)
	err, started, gate := f.err, f.started, f.gate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	out := make([]*recipe.Recipe, plan.RecipeCount())
	for i := range out {
		out[i] = &recipe.Recipe{
			ID:          uuid.NewString(),
			Name:        fmt.Sprintf("Блюдо %d", i),
			Description: "Просто и вкусно",
			Ingredients: ingredients,
			Steps:       []string{"Приготовить"},
			Time:        "20 минут",
			Difficulty:  recipe.DifficultyEasy,
		}
	}
	return out, nil
}

func (f *fakeRecipes) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeImages struct {
	err     error
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeImages) GenerateDishImage(ctx context.Context, name, description string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", f.err
	}
	return "data:image/png;base64,aW1n", nil
}

func newTestService(r *fakeRecipes, img *fakeImages) *Service {
	var images ImageGenerator
	if img != nil {
		images = img
	}
	return NewService(NewMemoryStore(), r, images, nil)
}

func newSessionWith(t *testing.T, svc *Service, ingredients ...string) string {
	t.Helper()
	v, err := svc.Create(context.Background())
	require.NoError(t, err)
	for _, ing := range ingredients {
		_, err := svc.AddIngredient(context.Background(), v.ID, ing)
		require.NoError(t, err)
	}
	return v.ID
}

func TestCreate(t *testing.T) {
	svc := newTestService(&fakeRecipes{}, nil)
	v, err := svc.Create(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, PhaseIdle, v.Phase)
	assert.Equal(t, recipe.PlanBasic, v.Plan)
	assert.Equal(t, 5, v.RecipeCount)
	assert.Empty(t, v.Ingredients)
	assert.False(t, v.CanGenerate)

	_, err = svc.View(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIngredients(t *testing.T) {
	svc := newTestService(&fakeRecipes{}, nil)
	id := newSessionWith(t, svc, " Картофель ", "курица")
	ctx := context.Background()

	v, err := svc.AddIngredient(ctx, id, "КАРТОФЕЛЬ")
	require.NoError(t, err)
	assert.Equal(t, []string{"картофель", "курица"}, v.Ingredients, "duplicate is a no-op")

	v, err = svc.RemoveIngredient(ctx, id, "лук")
	require.NoError(t, err)
	assert.Len(t, v.Ingredients, 2, "absent entry is a no-op")

	v, err = svc.RemoveIngredient(ctx, id, "курица")
	require.NoError(t, err)
	assert.Equal(t, []string{"картофель"}, v.Ingredients)
	assert.True(t, v.CanGenerate)
}

func TestGenerate_EmptyIngredientsStaysIdle(t *testing.T) {
	gen := &fakeRecipes{}
	svc := newTestService(gen, nil)
	id := newSessionWith(t, svc)

	v, err := svc.Generate(context.Background(), id)
	assert.ErrorIs(t, err, apperr.ErrNoIngredients)
	assert.Equal(t, PhaseIdle, v.Phase)
	assert.Zero(t, gen.calls)

	v, err = svc.View(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, v.Phase)
}

func TestGenerate_Basic(t *testing.T) {
	gen := &fakeRecipes{}
	svc := newTestService(gen, nil)
	id := newSessionWith(t, svc, "картофель", "курица")

	v, err := svc.Generate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PhaseSuccess, v.Phase)
	assert.Nil(t, v.Error)
	assert.False(t, v.Loading)
	require.Len(t, v.Cards, 5)
	for _, c := range v.Cards {
		assert.Equal(t, ImageLoading, c.ImageStatus)
		assert.True(t, c.Difficulty.Valid())
	}
	assert.Equal(t, int64(100), v.ScrollDelayMS)
	assert.Equal(t, [][]string{{"картофель", "курица"}}, gen.got)
}

func TestGenerate_FailureThenSuccess(t *testing.T) {
	gen := &fakeRecipes{}
	svc := newTestService(gen, nil)
	id := newSessionWith(t, svc, "рис")
	ctx := context.Background()

	_, err := svc.Generate(ctx, id)
	require.NoError(t, err)

	upstream := apperr.E(apperr.KindGeneration, "test", errors.New("quota exceeded"))
	gen.setErr(upstream)
	v, err := svc.Generate(ctx, id)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, PhaseFailed, v.Phase)
	require.NotNil(t, v.Error)
	assert.Equal(t, MsgGenerationFailed, *v.Error)
	assert.Empty(t, v.Cards, "no stale results after a failure")
	assert.False(t, v.Loading)

	gen.setErr(nil)
	v, err = svc.Generate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseSuccess, v.Phase)
	assert.Nil(t, v.Error)
	assert.Len(t, v.Cards, 5)
}

func TestGenerate_ConfigErrorMessage(t *testing.T) {
	gen := &fakeRecipes{err: apperr.E(apperr.KindConfig, "test", apperr.ErrMissingAPIKey)}
	svc := newTestService(gen, nil)
	id := newSessionWith(t, svc, "рис")

	v, err := svc.Generate(context.Background(), id)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
	require.NotNil(t, v.Error)
	assert.Equal(t, MsgConfigError, *v.Error)
}

func TestGenerate_InFlightGuard(t *testing.T) {
	gen := &fakeRecipes{started: make(chan struct{}, 1), gate: make(chan struct{})}
	svc := newTestService(gen, nil)
	id := newSessionWith(t, svc, "гречка")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, id)
		done <- err
	}()
	<-gen.started

	v, err := svc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseLoading, v.Phase)
	assert.Nil(t, v.Error, "loading and error are never both set")
	assert.False(t, v.CanGenerate)

	v, err = svc.Generate(ctx, id)
	assert.ErrorIs(t, err, ErrGenerationInFlight)
	assert.Equal(t, PhaseLoading, v.Phase)
	assert.Equal(t, 1, lockCount(svc), "the running generation keeps its lock")

	close(gen.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, gen.calls)
	assert.Zero(t, lockCount(svc))

	v, err = svc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseSuccess, v.Phase)
}

func lockCount(svc *Service) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.locks)
}

func TestSessionLocksAreReleased(t *testing.T) {
	svc := newTestService(&fakeRecipes{}, &fakeImages{})
	ctx := context.Background()

	for range 3 {
		id := newSessionWith(t, svc, "рис", "курица")
		v, err := svc.Generate(ctx, id)
		require.NoError(t, err)
		_, err = svc.LoadImage(ctx, id, v.Cards[0].ID)
		require.NoError(t, err)
		_, err = svc.SelectRecipe(ctx, id, v.Cards[1].ID)
		require.NoError(t, err)
	}
	_, err := svc.AddIngredient(ctx, "missing", "соль")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Zero(t, lockCount(svc))
}

func TestPlanAndUpsell(t *testing.T) {
	svc := newTestService(&fakeRecipes{}, nil)
	id := newSessionWith(t, svc, "сыр")
	ctx := context.Background()

	v, err := svc.SelectPlan(ctx, id, recipe.PlanPremium)
	assert.ErrorIs(t, err, ErrUpsellRequired)
	assert.True(t, v.UpsellOpen)
	assert.Equal(t, recipe.PlanBasic, v.Plan)

	v, err = svc.CloseUpsell(ctx, id)
	require.NoError(t, err)
	assert.False(t, v.UpsellOpen)

	v, err = svc.Upgrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, recipe.PlanPremium, v.Plan)
	assert.False(t, v.UpsellOpen)

	v, err = svc.Generate(ctx, id)
	require.NoError(t, err)
	assert.Len(t, v.Cards, 10)

	v, err = svc.SelectPlan(ctx, id, recipe.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, recipe.PlanBasic, v.Plan)

	v, err = svc.SelectPlan(ctx, id, recipe.PlanPremium)
	require.NoError(t, err, "entitlement is kept")
	assert.Equal(t, recipe.PlanPremium, v.Plan)
}

func TestSelectRecipe(t *testing.T) {
	svc := newTestService(&fakeRecipes{}, nil)
	id := newSessionWith(t, svc, "сыр")
	ctx := context.Background()

	v, err := svc.Generate(ctx, id)
	require.NoError(t, err)
	target := v.Cards[2].ID

	_, err = svc.SelectRecipe(ctx, id, "nope")
	assert.ErrorIs(t, err, ErrRecipeNotFound)

	v, err = svc.SelectRecipe(ctx, id, target)
	require.NoError(t, err)
	require.NotNil(t, v.Selected)
	assert.Equal(t, target, v.Selected.ID)
	assert.NotEmpty(t, v.Selected.Steps)

	v, err = svc.CloseRecipe(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, v.Selected)

	_, err = svc.SelectRecipe(ctx, id, target)
	require.NoError(t, err)
	v, err = svc.Generate(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, v.Selected, "a new batch closes the detail overlay")
}

func TestLoadImage_ReadyIsCached(t *testing.T) {
	img := &fakeImages{}
	svc := newTestService(&fakeRecipes{}, img)
	id := newSessionWith(t, svc, "томаты")
	ctx := context.Background()

	v, err := svc.Generate(ctx, id)
	require.NoError(t, err)
	rid := v.Cards[0].ID

	res, err := svc.LoadImage(ctx, id, rid)
	require.NoError(t, err)
	assert.Equal(t, ImageReady, res.Status)
	assert.Equal(t, "data:image/png;base64,aW1n", res.URL)

	res, err = svc.LoadImage(ctx, id, rid)
	require.NoError(t, err)
	assert.Equal(t, ImageReady, res.Status)
	assert.EqualValues(t, 1, img.calls.Load())

	v, err = svc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ImageReady, v.Cards[0].ImageStatus)
	assert.Equal(t, ImageLoading, v.Cards[1].ImageStatus)

	_, err = svc.LoadImage(ctx, id, "unknown")
	assert.ErrorIs(t, err, ErrRecipeNotFound)
}

func TestLoadImage_FailureDegradesToPlaceholder(t *testing.T) {
	img := &fakeImages{err: apperr.E(apperr.KindImage, "test", apperr.ErrNoImageData)}
	svc := newTestService(&fakeRecipes{}, img)
	id := newSessionWith(t, svc, "томаты")
	ctx := context.Background()

	v, err := svc.Generate(ctx, id)
	require.NoError(t, err)
	card := v.Cards[0]

	res, err := svc.LoadImage(ctx, id, card.ID)
	require.NoError(t, err, "image failures are not errors")
	assert.Equal(t, ImagePlaceholder, res.Status)
	assert.Equal(t, PlaceholderURL(card.Name), res.URL)

	_, err = svc.LoadImage(ctx, id, card.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, img.calls.Load(), "one attempt per recipe")

	v, err = svc.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PhaseSuccess, v.Phase)
	assert.Nil(t, v.Error)
	assert.Equal(t, ImagePlaceholder, v.Cards[0].ImageStatus)
	assert.Equal(t, "https://picsum.photos/seed/%D0%91%D0%BB%D1%8E%D0%B4%D0%BE%200/400/300", v.Cards[0].ImageURL)
}

func TestLoadImage_NoImageGenerator(t *testing.T) {
	svc := newTestService(&fakeRecipes{}, nil)
	id := newSessionWith(t, svc, "томаты")
	v, err := svc.Generate(context.Background(), id)
	require.NoError(t, err)

	res, err := svc.LoadImage(context.Background(), id, v.Cards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ImagePlaceholder, res.Status)
}

func TestLoadImage_ConcurrentCallersShareOneAttempt(t *testing.T) {
	img := &fakeImages{started: make(chan struct{}, 8), gate: make(chan struct{})}
	svc := newTestService(&fakeRecipes{}, img)
	id := newSessionWith(t, svc, "томаты")
	ctx := context.Background()
	v, err := svc.Generate(ctx, id)
	require.NoError(t, err)
	rid := v.Cards[0].ID

	var wg sync.WaitGroup
	results := make([]*ImageResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.LoadImage(ctx, id, rid)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	<-img.started
	// Give the other callers time to join the in-flight attempt.
	time.Sleep(50 * time.Millisecond)
	close(img.gate)
	wg.Wait()

	assert.EqualValues(t, 1, img.calls.Load())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, ImageReady, res.Status)
	}
}

func TestLoadImage_SupersededBatchIsDiscarded(t *testing.T) {
	img := &fakeImages{started: make(chan struct{}, 1), gate: make(chan struct{})}
	svc := newTestService(&fakeRecipes{}, img)
	id := newSessionWith(t, svc, "томаты")
	ctx := context.Background()
	v, err := svc.Generate(ctx, id)
	require.NoError(t, err)
	old := v.Cards[0].ID

	done := make(chan error, 1)
	go func() {
		_, err := svc.LoadImage(ctx, id, old)
		done <- err
	}()
	<-img.started

	v, err = svc.Generate(ctx, id)
	require.NoError(t, err)
	close(img.gate)
	assert.ErrorIs(t, <-done, ErrRecipeSuperseded)

	v, err = svc.View(ctx, id)
	require.NoError(t, err)
	for _, c := range v.Cards {
		assert.Equal(t, ImageLoading, c.ImageStatus, "late result is not written into the new batch")
	}
}

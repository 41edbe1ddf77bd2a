package kitchen

import (
	"context"

	"go.uber.org/zap"

	"chefai/internal/metrics"
)

// ImageResult is the photo to show on a recipe card.
type ImageResult struct {
	RecipeID string      `json:"recipe_id"`
	Status   ImageStatus `json:"status"`
	URL      string      `json:"url"`
}

// LoadImage returns the photo for a recipe card, generating it on first
// request. Each recipe gets at most one upstream attempt: concurrent callers
// share it, and a failure is remembered and answered with the placeholder
// from then on. Image failures never surface as errors. A result that
// arrives after its batch has been replaced is dropped and
// ErrRecipeSuperseded is returned.
func (s *Service) LoadImage(ctx context.Context, id, recipeID string) (*ImageResult, error) {
	if res, _, err := s.cachedImage(ctx, id, recipeID); res != nil || err != nil {
		return res, err
	}

	v, err, _ := s.group.Do(id+"/"+recipeID, func() (any, error) {
		// Another caller may have finished between the check and the call.
		res, job, err := s.cachedImage(ctx, id, recipeID)
		if res != nil || err != nil {
			return res, err
		}
		return s.fetchImage(context.WithoutCancel(ctx), id, job)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ImageResult), nil
}

// imageJob is a snapshot of what an image fetch needs.
type imageJob struct {
	recipeID    string
	name        string
	description string
	token       int64
}

// cachedImage answers from stored state. When the image still has to be
// generated it returns a nil result and the job to run.
func (s *Service) cachedImage(ctx context.Context, id, recipeID string) (*ImageResult, imageJob, error) {
	l := s.lock(id)
	defer s.release(id, l)
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, imageJob{}, err
	}
	r := sess.Recipe(recipeID)
	if r == nil {
		return nil, imageJob{}, ErrRecipeNotFound
	}
	if r.ImageURL != "" {
		return &ImageResult{RecipeID: recipeID, Status: ImageReady, URL: r.ImageURL}, imageJob{}, nil
	}
	if sess.FailedImages[recipeID] {
		return &ImageResult{RecipeID: recipeID, Status: ImagePlaceholder, URL: PlaceholderURL(r.Name)}, imageJob{}, nil
	}
	return nil, imageJob{recipeID: recipeID, name: r.Name, description: r.Description, token: sess.Token}, nil
}

func (s *Service) fetchImage(ctx context.Context, id string, job imageJob) (*ImageResult, error) {
	log := s.log.With(zap.String("session", id), zap.String("recipe", job.recipeID))

	res := &ImageResult{RecipeID: job.recipeID, Status: ImageReady}
	var err error
	if s.images != nil {
		res.URL, err = s.images.GenerateDishImage(ctx, job.name, job.description)
	}
	if s.images == nil || err != nil {
		log.Warn("dish image unavailable, using placeholder", zap.Error(err))
		res.Status = ImagePlaceholder
		res.URL = PlaceholderURL(job.name)
	}

	l := s.lock(id)
	defer s.release(id, l)
	l.mu.Lock()
	defer l.mu.Unlock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	r := sess.Recipe(job.recipeID)
	if sess.Token != job.token || r == nil {
		metrics.ImagesTotal.WithLabelValues("discarded").Inc()
		log.Debug("discarding image for superseded batch")
		return nil, ErrRecipeSuperseded
	}

	if res.Status == ImageReady {
		r.ImageURL = res.URL
	} else {
		if sess.FailedImages == nil {
			sess.FailedImages = map[string]bool{}
		}
		sess.FailedImages[job.recipeID] = true
	}
	sess.UpdatedAt = s.now()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	metrics.ImagesTotal.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}

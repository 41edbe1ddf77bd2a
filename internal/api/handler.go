package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chefai/internal/kitchen"
	"chefai/internal/recipe"
)

// Kitchen defines the session operations the HTTP layer drives.
type Kitchen interface {
	Create(ctx context.Context) (*kitchen.View, error)
	View(ctx context.Context, id string) (*kitchen.View, error)
	AddIngredient(ctx context.Context, id, name string) (*kitchen.View, error)
	RemoveIngredient(ctx context.Context, id, name string) (*kitchen.View, error)
	SelectPlan(ctx context.Context, id string, plan recipe.UserPlan) (*kitchen.View, error)
	Upgrade(ctx context.Context, id string) (*kitchen.View, error)
	CloseUpsell(ctx context.Context, id string) (*kitchen.View, error)
	Generate(ctx context.Context, id string) (*kitchen.View, error)
	LoadImage(ctx context.Context, id, recipeID string) (*kitchen.ImageResult, error)
	SelectRecipe(ctx context.Context, id, recipeID string) (*kitchen.View, error)
	CloseRecipe(ctx context.Context, id string) (*kitchen.View, error)
}

// Handler handles HTTP requests.
type Handler struct {
	Kitchen Kitchen
	Log     *zap.Logger
	// RequestTimeout bounds generation and image requests. Zero means the
	// request context alone decides.
	RequestTimeout time.Duration
}

// NewHandler creates a new Handler.
func NewHandler(k Kitchen, log *zap.Logger, requestTimeout time.Duration) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Kitchen: k, Log: log.Named("api"), RequestTimeout: requestTimeout}
}

type ingredientRequest struct {
	Name string `json:"name" binding:"required"`
}

type planRequest struct {
	Plan string `json:"plan" binding:"required"`
}

type selectRequest struct {
	RecipeID string `json:"recipe_id" binding:"required"`
}

// CreateSession starts a new kitchen session.
func (h *Handler) CreateSession(c *gin.Context) {
	view, err := h.Kitchen.Create(c.Request.Context())
	h.respond(c, http.StatusCreated, view, err)
}

// GetSession returns the current view of a session.
func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Kitchen.View(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, view, err)
}

// AddIngredient adds one ingredient to the list.
func (h *Handler) AddIngredient(c *gin.Context) {
	var req ingredientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	view, err := h.Kitchen.AddIngredient(c.Request.Context(), c.Param("id"), req.Name)
	h.respond(c, http.StatusOK, view, err)
}

// RemoveIngredient removes one ingredient by exact name.
func (h *Handler) RemoveIngredient(c *gin.Context) {
	view, err := h.Kitchen.RemoveIngredient(c.Request.Context(), c.Param("id"), c.Param("name"))
	h.respond(c, http.StatusOK, view, err)
}

// SelectPlan switches between Basic and Premium.
func (h *Handler) SelectPlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	plan, err := recipe.ParsePlan(req.Plan)
	if err != nil {
		h.respond(c, http.StatusOK, nil, err)
		return
	}
	view, err := h.Kitchen.SelectPlan(c.Request.Context(), c.Param("id"), plan)
	h.respond(c, http.StatusOK, view, err)
}

// Upgrade completes the upsell and switches to Premium.
func (h *Handler) Upgrade(c *gin.Context) {
	view, err := h.Kitchen.Upgrade(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, view, err)
}

// CloseUpsell dismisses the upsell overlay.
func (h *Handler) CloseUpsell(c *gin.Context) {
	view, err := h.Kitchen.CloseUpsell(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, view, err)
}

// Generate asks the model for a new batch of recipes.
func (h *Handler) Generate(c *gin.Context) {
	ctx, cancel := h.upstreamContext(c)
	defer cancel()

	view, err := h.Kitchen.Generate(ctx, c.Param("id"))
	h.respond(c, http.StatusOK, view, err)
}

// RecipeImage returns the photo of a recipe card, generating it on first use.
func (h *Handler) RecipeImage(c *gin.Context) {
	ctx, cancel := h.upstreamContext(c)
	defer cancel()

	res, err := h.Kitchen.LoadImage(ctx, c.Param("id"), c.Param("recipe_id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SelectRecipe opens the detail overlay.
func (h *Handler) SelectRecipe(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	view, err := h.Kitchen.SelectRecipe(c.Request.Context(), c.Param("id"), req.RecipeID)
	h.respond(c, http.StatusOK, view, err)
}

// CloseRecipe closes the detail overlay.
func (h *Handler) CloseRecipe(c *gin.Context) {
	view, err := h.Kitchen.CloseRecipe(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, view, err)
}

func (h *Handler) upstreamContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.RequestTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.RequestTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (h *Handler) respond(c *gin.Context, status int, view *kitchen.View, err error) {
	if err != nil {
		h.fail(c, err, view)
		return
	}
	c.JSON(status, view)
}

func (h *Handler) fail(c *gin.Context, err error, view *kitchen.View) {
	status, body := errorResponse(err, view)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: CodeBadRequest, Message: err.Error()})
}

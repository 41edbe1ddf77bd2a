package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"chefai/internal/apperr"
	"chefai/internal/recipe"
)

var tracer = otel.Tracer("gemini")

// Config configures the Gemini client.
type Config struct {
	APIKey     string
	TextModel  string
	ImageModel string
	// ImageMaxWidth caps the width of returned dish photos. Zero keeps the
	// original size.
	ImageMaxWidth uint
	// Timeout bounds each call. Zero leaves it to the upstream.
	Timeout time.Duration
}

// generator is the slice of *genai.GenerativeModel the client uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client is a client for the Gemini API.
type Client struct {
	genai         *genai.Client
	text          map[recipe.UserPlan]generator
	image         generator
	imageMaxWidth uint
	timeout       time.Duration
	log           *zap.Logger
}

// NewClient creates a new Gemini client. A missing API key fails before any
// connection is attempted.
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.E(apperr.KindConfig, "gemini.NewClient", apperr.ErrMissingAPIKey)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, apperr.E(apperr.KindConfig, "gemini.NewClient", err)
	}

	// One model per plan: the system instruction carries the recipe count
	// and a GenerativeModel must not be mutated while in use.
	text := make(map[recipe.UserPlan]generator, 2)
	for _, plan := range []recipe.UserPlan{recipe.PlanBasic, recipe.PlanPremium} {
		m := client.GenerativeModel(cfg.TextModel)
		m.SystemInstruction = genai.NewUserContent(genai.Text(recipe.SystemInstruction(plan.RecipeCount())))
		m.ResponseMIMEType = "application/json"
		m.ResponseSchema = recipeSchema()
		text[plan] = m
	}

	c := newClient(text, client.GenerativeModel(cfg.ImageModel), cfg, log)
	c.genai = client
	return c, nil
}

func newClient(text map[recipe.UserPlan]generator, image generator, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		text:          text,
		image:         image,
		imageMaxWidth: cfg.ImageMaxWidth,
		timeout:       cfg.Timeout,
		log:           log.Named("gemini"),
	}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.genai == nil {
		return nil
	}
	return c.genai.Close()
}

// recipeSchema mirrors recipe.JSONSchema in the SDK's schema type.
func recipeSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	strArray := &genai.Schema{Type: genai.TypeArray, Items: str}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"recipes": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":        str,
						"description": str,
						"ingredients": strArray,
						"steps":       strArray,
						"time":        str,
						"difficulty":  str,
					},
					Required: recipe.RequiredFields,
				},
			},
		},
		Required: []string{"recipes"},
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// GenerateRecipes asks the model for exactly plan.RecipeCount() recipes that
// use only the given ingredients plus pantry staples. The whole batch fails
// on any error; there is no retry.
func (c *Client) GenerateRecipes(ctx context.Context, ingredients []string, plan recipe.UserPlan) ([]*recipe.Recipe, error) {
	const op = "gemini.GenerateRecipes"

	if len(ingredients) == 0 {
		return nil, apperr.ErrNoIngredients
	}
	model, ok := c.text[plan]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, recipe.ErrUnknownPlan, plan)
	}

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("plan", string(plan)),
		attribute.Int("ingredients", len(ingredients)),
	))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := model.GenerateContent(ctx, genai.Text(recipe.UserMessage(ingredients)))
	if err != nil {
		err = apperr.Upstream(op, apperr.KindGeneration, err)
		c.fail(span, "recipe generation failed", err)
		return nil, err
	}

	recipes, err := recipe.DecodeBatch(responseText(resp), plan.RecipeCount())
	if err != nil {
		c.fail(span, "recipe response rejected", err)
		return nil, err
	}

	c.log.Debug("recipes generated", zap.String("plan", string(plan)), zap.Int("count", len(recipes)))
	return recipes, nil
}

// GenerateDishImage renders a food photo for a recipe and returns it as a
// data URL.
func (c *Client) GenerateDishImage(ctx context.Context, name, description string) (string, error) {
	const op = "gemini.GenerateDishImage"

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("dish", name)))
	defer span.End()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.image.GenerateContent(ctx, genai.Text(recipe.DishImagePrompt(name, description)))
	if err != nil {
		err = apperr.Upstream(op, apperr.KindImage, err)
		c.fail(span, "image generation failed", err)
		return "", err
	}

	blob, ok := firstImage(resp)
	if !ok {
		err := apperr.E(apperr.KindImage, op, apperr.ErrNoImageData)
		c.fail(span, "image generation failed", err)
		return "", err
	}

	data, mimeType := shrinkImage(blob.Data, blob.MIMEType, c.imageMaxWidth, c.log)
	return dataURL(mimeType, data), nil
}

func (c *Client) fail(span trace.Span, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.log.Error(msg, zap.Error(err), zap.Stringer("kind", apperr.KindOf(err)))
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

// firstImage returns the first part carrying inline image bytes.
func firstImage(resp *genai.GenerateContentResponse) (genai.Blob, bool) {
	if resp == nil {
		return genai.Blob{}, false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				return blob, true
			}
		}
	}
	return genai.Blob{}, false
}

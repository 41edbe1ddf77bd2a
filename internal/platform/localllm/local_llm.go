package localllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chefai/internal/apperr"
	"chefai/internal/recipe"
)

// Client represents a client for an OpenAI-compatible local LLM.
type Client struct {
	httpClient *http.Client
	apiURL     string
	model      string
	log        *zap.Logger
}

// NewClient creates a new client for the local LLM.
func NewClient(apiURL, model string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		model:      model,
		log:        log.Named("localllm"),
	}
}

// Request represents the request body for the local LLM.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message represents a message in the request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the server for schema-constrained output.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// Response represents the response from the local LLM.
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice represents a choice in the response.
type Choice struct {
	Message Message `json:"message"`
}

// GenerateContent sends a chat completion and returns the first choice.
func (c *Client) GenerateContent(ctx context.Context, req Request) (string, error) {
	req.Model = c.model

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("received non-OK status code %d: %s", resp.StatusCode, body)
	}

	var llmResp Response
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}
	if len(llmResp.Choices) == 0 {
		return "", apperr.ErrEmptyResponse
	}
	return llmResp.Choices[0].Message.Content, nil
}

// GenerateRecipes asks the local model for plan.RecipeCount() recipes under
// the same rules and schema as the hosted provider.
func (c *Client) GenerateRecipes(ctx context.Context, ingredients []string, plan recipe.UserPlan) ([]*recipe.Recipe, error) {
	const op = "localllm.GenerateRecipes"

	if len(ingredients) == 0 {
		return nil, apperr.ErrNoIngredients
	}

	text, err := c.GenerateContent(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: recipe.SystemInstruction(plan.RecipeCount())},
			{Role: "user", Content: recipe.UserMessage(ingredients)},
		},
		Temperature: 1,
		MaxTokens:   8192,
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchema{Name: "recipes", Strict: true, Schema: recipe.JSONSchema()},
		},
	})
	if err != nil {
		kind := apperr.KindGeneration
		if errors.Is(err, apperr.ErrEmptyResponse) {
			kind = apperr.KindMalformedResponse
		}
		err = apperr.E(kind, op, err)
		c.log.Error("recipe generation failed", zap.Error(err))
		return nil, err
	}

	recipes, err := recipe.DecodeBatch(text, plan.RecipeCount())
	if err != nil {
		c.log.Error("recipe response rejected", zap.Error(err))
		return nil, err
	}
	return recipes, nil
}

// GenerateDishImage is not available on text-only local models; cards fall
// back to placeholders.
func (c *Client) GenerateDishImage(ctx context.Context, name, description string) (string, error) {
	return "", apperr.E(apperr.KindImage, "localllm.GenerateDishImage", apperr.ErrImageUnsupported)
}

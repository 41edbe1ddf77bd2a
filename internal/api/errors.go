package api

import (
	"errors"
	"net/http"

	"chefai/internal/apperr"
	"chefai/internal/kitchen"
	"chefai/internal/recipe"
)

// Error codes returned in the "error" field of a failed response.
const (
	CodeBadRequest         = "bad_request"
	CodeSessionNotFound    = "session_not_found"
	CodeRecipeNotFound     = "recipe_not_found"
	CodeRecipeSuperseded   = "recipe_superseded"
	CodeNoIngredients      = "no_ingredients"
	CodeGenerationInFlight = "generation_in_flight"
	CodeUpsellRequired     = "upsell_required"
	CodeUnknownPlan        = "unknown_plan"
	CodeConfigError        = "config_error"
	CodeGenerationFailed   = "generation_failed"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

// ErrorResponse is the body of every non-2xx API answer. View carries the
// session state when the failure left one behind, e.g. a failed generation.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	View    *kitchen.View `json:"view,omitempty"`
}

// statusFor maps an error to its HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, kitchen.ErrSessionNotFound):
		return http.StatusNotFound, CodeSessionNotFound
	case errors.Is(err, kitchen.ErrRecipeNotFound):
		return http.StatusNotFound, CodeRecipeNotFound
	case errors.Is(err, kitchen.ErrRecipeSuperseded):
		return http.StatusGone, CodeRecipeSuperseded
	case errors.Is(err, apperr.ErrNoIngredients):
		return http.StatusUnprocessableEntity, CodeNoIngredients
	case errors.Is(err, kitchen.ErrGenerationInFlight):
		return http.StatusConflict, CodeGenerationInFlight
	case errors.Is(err, kitchen.ErrUpsellRequired):
		return http.StatusPaymentRequired, CodeUpsellRequired
	case errors.Is(err, recipe.ErrUnknownPlan):
		return http.StatusBadRequest, CodeUnknownPlan
	}

	switch apperr.KindOf(err) {
	case apperr.KindConfig:
		return http.StatusServiceUnavailable, CodeConfigError
	case apperr.KindGeneration, apperr.KindMalformedResponse:
		return http.StatusBadGateway, CodeGenerationFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

// errorResponse builds the body for err. Upstream and internal details stay
// in the logs; the client sees the user-facing message.
func errorResponse(err error, view *kitchen.View) (int, ErrorResponse) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: code, Message: err.Error(), View: view}

	switch code {
	case CodeConfigError:
		resp.Message = kitchen.MsgConfigError
	case CodeGenerationFailed:
		resp.Message = kitchen.MsgGenerationFailed
	case CodeInternal:
		resp.Message = "internal server error"
	}
	// The view's error belongs to the generation that failed, not to
	// whatever else the session is asked to do while it is shown.
	if view != nil && view.Error != nil && (code == CodeConfigError || code == CodeGenerationFailed) {
		resp.Message = *view.Error
	}
	return status, resp
}

// Package apperr defines the error taxonomy shared by the generation clients,
// the kitchen service and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

// Kind classifies a failure for reporting purposes.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig is a missing or rejected credential. Fatal at startup.
	KindConfig
	// KindGeneration is a failed text-generation call (network, auth, quota).
	KindGeneration
	// KindMalformedResponse is an upstream answer that failed decoding or validation.
	KindMalformedResponse
	// KindImage is a failed image call. Callers degrade to a placeholder.
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindGeneration:
		return "generation failed"
	case KindMalformedResponse:
		return "malformed upstream response"
	case KindImage:
		return "image generation failed"
	default:
		return "unknown error"
	}
}

// Sentinel errors used across layers.
var (
	ErrMissingAPIKey    = errors.New("api key is not configured")
	ErrNoIngredients    = errors.New("ingredient list is empty")
	ErrEmptyResponse    = errors.New("model returned an empty response")
	ErrNoImageData      = errors.New("no image data found in response")
	ErrImageUnsupported = errors.New("provider does not support image generation")
)

// Error is a classified failure raised by operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost classified error in err's chain.
// A bare ErrMissingAPIKey is always a configuration problem.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return KindConfig
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Upstream classifies an error returned by a Google API call. Credential
// problems are recognised from the structured status the API reports, not
// from the message text. Everything else becomes fallback.
func Upstream(op string, fallback Kind, err error) error {
	if isCredentialFailure(err) {
		return E(KindConfig, op, err)
	}
	return E(fallback, op, err)
}

func isCredentialFailure(err error) bool {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Reason() == "API_KEY_INVALID" {
			return true
		}
		switch apiErr.HTTPCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
		if st := apiErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Unauthenticated, codes.PermissionDenied:
				return true
			}
		}
		return false
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusUnauthorized || gErr.Code == http.StatusForbidden
	}
	return false
}

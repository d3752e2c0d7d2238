package httpapi

import (
	"errors"
	"net/http"

	"github.com/book-expert/speech-server/internal/asset"
	"github.com/book-expert/speech-server/internal/audio"
	"github.com/book-expert/speech-server/internal/synthesis"
)

// Error codes carried in error bodies.
const (
	codeBadRequest        = "bad_request"
	codeUnsupportedFormat = "unsupported_format"
	codeNotFound          = "not_found"
	codeModelNotReady     = "model_not_ready"
	codeUnavailable       = "unavailable"
	codeRateLimited       = "rate_limited"
	codeInferenceFailed   = "inference_failed"
	codeInternal          = "internal_error"
)

var (
	errRateLimited = errors.New("too many synthesis requests, retry later")
	errNotFound    = errors.New("file does not exist")
)

// APIError is the JSON error body.
type APIError struct {
	Status             int      `json:"-"`
	Detail             string   `json:"detail"`
	ErrorCode          string   `json:"error_code"`
	SupportedLanguages []string `json:"supported_languages,omitempty"`
}

func (e *APIError) Error() string {
	return e.Detail
}

func badRequest(detail string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Detail: detail, ErrorCode: codeBadRequest}
}

func toAPIError(err error) *APIError {
	var (
		apiErr        *APIError
		validationErr *synthesis.ValidationError
		inferenceErr  *synthesis.InferenceError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &validationErr):
		return &APIError{
			Status:             http.StatusBadRequest,
			Detail:             validationErr.Message,
			ErrorCode:          string(validationErr.Kind),
			SupportedLanguages: validationErr.Supported,
		}
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return &APIError{Status: http.StatusBadRequest, Detail: err.Error(), ErrorCode: codeUnsupportedFormat}
	case errors.Is(err, synthesis.ErrModelNotReady):
		return &APIError{Status: http.StatusServiceUnavailable, Detail: err.Error(), ErrorCode: codeModelNotReady}
	case errors.Is(err, synthesis.ErrDispatcherClosed):
		return &APIError{Status: http.StatusServiceUnavailable, Detail: err.Error(), ErrorCode: codeUnavailable}
	case errors.Is(err, errRateLimited):
		return &APIError{Status: http.StatusTooManyRequests, Detail: err.Error(), ErrorCode: codeRateLimited}
	case errors.Is(err, asset.ErrNotFound), errors.Is(err, errNotFound):
		return &APIError{Status: http.StatusNotFound, Detail: errNotFound.Error(), ErrorCode: codeNotFound}
	case errors.As(err, &inferenceErr):
		return &APIError{Status: http.StatusInternalServerError, Detail: inferenceErr.Error(), ErrorCode: codeInferenceFailed}
	default:
		return &APIError{Status: http.StatusInternalServerError, Detail: err.Error(), ErrorCode: codeInternal}
	}
}

// internal/handler/errors.go
package handler

import (
	"errors"
	"net/http"

	"github.com/SyedDaiam9101/firewatch/internal/imageproc"
	"github.com/SyedDaiam9101/firewatch/internal/inference"
)

var (
	// ErrMissingInput is returned when the request has no image field.
	ErrMissingInput = errors.New("no image provided")
	// ErrInvalidJSON is returned when the body is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON body")
)

// httpError maps known errors to a status code and a client-facing message.
// Decode failures are client errors in both API variants.
func httpError(err error) (int, string) {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "Request body too large"

	case errors.Is(err, ErrMissingInput):
		return http.StatusBadRequest, "No image provided"

	case errors.Is(err, ErrInvalidJSON):
		return http.StatusBadRequest, "Invalid JSON body"

	case errors.Is(err, imageproc.ErrDecode):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, inference.ErrInference):
		return http.StatusInternalServerError, "Prediction failed"

	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

package httpx

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNotFound marks a missing resource; wrap it to get a 404.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation marks a malformed request; DecodeJSON wraps it.
	ErrValidation = errors.New("validation failed")
)

// RespondError writes the problem document for errors no domain handler
// claimed. Unknown errors become a bare 500 so driver messages never leak.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		ProblemKind(w, http.StatusNotFound, "Not Found", "not_found", err.Error())
	case errors.Is(err, ErrValidation):
		ProblemKind(w, http.StatusBadRequest, "Validation Failed", "validation", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		Problem(w, http.StatusServiceUnavailable, "Request Cancelled", "request timed out")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Server Error", "unexpected error")
	}
}

package workflows

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/compass/internal/hitl"
)

// Domain errors for workflow operations.
var (
	ErrNotFound     = errors.New("workflow not found")
	ErrDuplicate    = errors.New("workflow already exists")
	ErrUnknownType  = errors.New("unknown workflow type")
	ErrInvalidInput = errors.New("invalid workflow input")
	ErrTerminal     = errors.New("workflow is already terminal")
	ErrCancelled    = errors.New("workflow cancelled")
)

// MapHTTPStatus maps workflow and HITL errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnknownType) || errors.Is(err, ErrInvalidInput) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrTerminal) || errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	return hitl.MapHTTPStatus(err)
}

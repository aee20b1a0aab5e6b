package hitl

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnknownPrompt        = errors.New("unknown prompt")
	ErrPromptClosed         = fmt.Errorf("%w: prompt is no longer pending", ErrUnknownPrompt)
	ErrPromptAlreadyPending = errors.New("workflow already has a pending prompt")
	ErrInvalidOption        = errors.New("response is not one of the prompt options")
	ErrHITLMismatch         = errors.New("response does not match the workflow's pending prompt")
	ErrHITLTimeout          = errors.New("prompt expired before a response arrived")
	ErrNotBound             = errors.New("gate has no continuation bound")
)

// MapHTTPStatus maps gate errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrPromptClosed),
		errors.Is(err, ErrHITLMismatch),
		errors.Is(err, ErrPromptAlreadyPending):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownPrompt):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidOption):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

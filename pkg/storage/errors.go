package storage

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound = errors.New("blob not found")
	ErrEmptyKey = errors.New("storage key must not be empty")
	// ErrInvalidKey covers absolute paths, dot segments, backslashes and
	// over-long keys.
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrContainerMissing means the container was deleted after startup.
	ErrContainerMissing = errors.New("storage container missing")
	ErrUnauthorized     = errors.New("storage access denied")
)

// MapHTTPStatus maps storage errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyKey), errors.Is(err, ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, ErrContainerMissing), errors.Is(err, ErrUnauthorized):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

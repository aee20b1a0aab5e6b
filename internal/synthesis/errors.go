package synthesis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransient marks model failures worth retrying: throttling, server
	// errors and timeouts.
	ErrTransient       = errors.New("transient model failure")
	ErrInvalidOutput   = errors.New("model output did not match the expected format")
	ErrUnknownProvider = errors.New("unknown synthesis provider")
	ErrEmptyCompletion = errors.New("model returned no content")
)

// classify wraps err with ErrTransient when status or the error itself
// indicates a retryable condition.
func classify(backend string, status int, err error) error {
	if status == http.StatusTooManyRequests || status >= 500 ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTransient, backend, err)
	}
	return fmt.Errorf("%s: %w", backend, err)
}

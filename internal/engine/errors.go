package engine

import (
	"errors"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/workflows"
)

// Step handlers wrap these to steer the engine's failure handling.
var (
	// ErrValidation fails the workflow immediately with ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks a failure worth retrying at the step level.
	ErrTransient = errors.New("transient failure")
)

// Retryable reports whether a step error may be retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, dispatch.ErrProviderTimeout) ||
		errors.Is(err, dispatch.ErrInsufficientResults)
}

// Classify maps a step error onto the workflow error taxonomy.
func Classify(err error) workflows.ErrorKind {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, workflows.ErrInvalidInput):
		return workflows.KindValidation
	case errors.Is(err, workflows.ErrCancelled):
		return workflows.KindCancelled
	case errors.Is(err, hitl.ErrHITLTimeout):
		return workflows.KindHITLTimeout
	case errors.Is(err, dispatch.ErrInsufficientResults):
		return workflows.KindInsufficientResults
	case errors.Is(err, dispatch.ErrProviderTimeout), errors.Is(err, dispatch.ErrProviderError):
		return workflows.KindProviderError
	default:
		return workflows.KindFatal
	}
}

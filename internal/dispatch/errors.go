package dispatch

import "errors"

var (
	// ErrProviderTimeout marks a call that exceeded its per-task or round deadline.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProviderError marks a call that failed for a reason other than timing out.
	ErrProviderError = errors.New("provider error")
	// ErrInsufficientResults is returned when a quorum policy is not met.
	ErrInsufficientResults = errors.New("insufficient results")
	// ErrInvalidPolicy is returned by ParsePolicy for unrecognized policy strings.
	ErrInvalidPolicy = errors.New("invalid aggregation policy")
)

package providers

import "errors"

var (
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrProviderUnavailable covers 429 and 5xx answers and transport failures.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderRejected covers other non-2xx answers.
	ErrProviderRejected = errors.New("provider rejected request")
	ErrInvalidResponse  = errors.New("invalid provider response")
)

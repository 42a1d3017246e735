package domain

import "errors"

// Sentinel errors shared across packages. Wrap them with fmt.Errorf and
// match with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidPrompt       = errors.New("invalid prompt")
	ErrInvalidImage        = errors.New("invalid image")
	ErrDimensionMismatch   = errors.New("mask dimensions do not match image")
	ErrProviderFailure     = errors.New("provider failure")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMissingAPIKey       = errors.New("provider api key is required")
)

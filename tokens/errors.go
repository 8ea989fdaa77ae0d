package tokens

import "errors"

var (
	// ErrUnauthorized is returned for 401 responses: the presented
	// credential (password, refresh token or code) was not accepted.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidGrant is returned for 400 responses to a grant exchange.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrNotFound is returned when a token id cannot be resolved.
	ErrNotFound = errors.New("token not found")
)

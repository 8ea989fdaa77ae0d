// Package storage defines the durable key/value store that holds the session
// record and the pending OAuth exchange context across process restarts.
package storage

import "errors"

// Keys used by the session core.
const (
	// KeyUser holds the JSON-serialized session record.
	KeyUser = "user"
	// KeyOAuth holds the pending OAuth exchange context.
	KeyOAuth = "oauth"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a small durable key/value store. Implementations must tolerate
// concurrent use from multiple goroutines.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

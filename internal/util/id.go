package util

import "github.com/google/uuid"

// NewID returns a random UUID string used for request ids and storage keys.
func NewID() string {
	return uuid.NewString()
}

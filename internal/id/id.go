package id

import "github.com/google/uuid"

// New returns a random request identifier.
func New() string {
	return uuid.NewString()
}

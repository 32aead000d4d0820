package engine

import "github.com/google/uuid"

// IDGenerator generates unique identifiers for passes and audit entries.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random UUIDs.
type UUIDGenerator struct{}

// NewID returns a new UUIDv4 string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

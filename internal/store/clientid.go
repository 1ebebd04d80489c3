package store

import "github.com/google/uuid"

// NewClientID returns a fresh replica id.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort
// roughly by replica start time, which keeps clock tie-breaks readable
// in logs.
func NewClientID() string {
	return uuid.Must(uuid.NewV7()).String()
}

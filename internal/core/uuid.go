package core

import "github.com/google/uuid"

// NewID generates a new UUIDv7 job id. V7 ids sort by creation time, which
// keeps list views in rough enqueue order for free.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 fails (should not happen)
		return uuid.New().String()
	}
	return id.String()
}

// IsValidID checks if a string is a valid UUID (any version).
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

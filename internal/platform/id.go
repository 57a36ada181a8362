package platform

import (
	"github.com/google/uuid"
)

// NewID returns a new random identifier. Every entity in the mail store is
// keyed by one of these.
func NewID() string {
	return uuid.New().String()
}

// ValidID reports whether s is a well-formed identifier as produced by NewID.
func ValidID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

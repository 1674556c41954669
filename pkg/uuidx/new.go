package uuidx

import (
	"strings"

	"github.com/google/uuid"
)

// shortLen is the number of trailing hex digits kept by Short.
const shortLen = 8

// New generates a version 7 UUID. It panics if generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a version 7 UUID in its canonical string form.
func NewString() string {
	return New().String()
}

// Short returns the last 8 hex digits of id. Version 7 identifiers created in the same
// millisecond share their prefix, so the random tail is what tells them apart.
func Short(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) <= shortLen {
		return compact
	}
	return compact[len(compact)-shortLen:]
}

// Matches reports whether ref names id, either as a prefix of the canonical form or as its
// Short form.
func Matches(id, ref string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return false
	}
	return strings.HasPrefix(id, ref) || Short(id) == ref
}

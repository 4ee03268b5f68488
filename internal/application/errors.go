package application

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrStudentNotFound    = errors.New("student not found")
	ErrEmailTaken         = errors.New("email already taken")
	ErrDeletionFailed     = errors.New("student could not be deleted")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPhotoStorage       = errors.New("photo storage not configured")
)

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

package repository

import "errors"

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an account email collides with an existing one.
	ErrDuplicateEmail = errors.New("duplicate email")
)

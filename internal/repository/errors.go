package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a write loses to a concurrent writer or
	// violates a uniqueness constraint.
	ErrConflict = errors.New("entity conflict")
)

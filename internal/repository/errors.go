package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned when a conditional update finds the stored
	// version changed since it was read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate entity")
)

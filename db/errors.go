package db

import "errors"

var (
	// ErrNotFound is returned when a message is missing from the index.
	ErrNotFound = errors.New("message not found in index")
)

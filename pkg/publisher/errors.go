package publisher

import "errors"

var (
	// ErrNotFound indicates no record exists for the requested key.
	ErrNotFound = errors.New("consensus price not found")
	// ErrClosed indicates publishing on a closed publisher.
	ErrClosed = errors.New("publisher closed")
)

package round

import "errors"

var (
	// ErrInvalidTransition indicates a state change not allowed by the lifecycle.
	ErrInvalidTransition = errors.New("invalid round transition")
	// ErrInvalidConfig indicates a runner configuration that cannot work.
	ErrInvalidConfig = errors.New("invalid round config")
)

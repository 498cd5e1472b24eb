package consensus

import "errors"

var (
	// ErrInvalidMode indicates an unrecognised consensus mode.
	ErrInvalidMode = errors.New("invalid consensus mode")
	// ErrUnknownInstrument indicates no source set is registered for the instrument.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrNoSources indicates an empty expected-source list.
	ErrNoSources = errors.New("expected source list is empty")
)

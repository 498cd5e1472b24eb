// Package oracle assembles the consensus engine for every configured
// instrument and runs it.
package oracle

import "errors"

var (
	// ErrUnknownInstrument indicates an instrument without a runner.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrRestartRequired indicates a reload that changes something only a restart can apply.
	ErrRestartRequired = errors.New("change requires restart")
)

// Package consensus selects the quorum policy for a round and tracks the
// expected source set and per-operator contributions.
package consensus

import (
	"fmt"
	"strings"
)

// Mode selects single-operator or multi-operator consensus.
type Mode string

const (
	// ModeLocal is single-operator consensus (CFD-only). Quorum is 1.
	ModeLocal Mode = "local"
	// ModeQuorum requires ceil(2N/3) of N configured sources.
	ModeQuorum Mode = "quorum"
)

// ParseMode parses a configuration value. "cfd_only" is accepted as an alias of local.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "cfd_only", "cfd-only":
		return ModeLocal, nil
	case "quorum":
		return ModeQuorum, nil
	default:
		return "", fmt.Errorf("%w: %q (must be 'local' or 'quorum')", ErrInvalidMode, s)
	}
}

// Threshold returns the minimum number of accepted quotes for n configured sources.
func (m Mode) Threshold(n int) int {
	if m != ModeQuorum {
		return 1
	}
	t := (2*n + 2) / 3
	if t < 1 {
		return 1
	}
	return t
}

// MaxFaulty returns the number of faulty sources the mode is designed to
// tolerate for n configured sources: floor((n-1)/3) in quorum mode. For some n
// (3, 6, ...) the threshold admits one more missing source than this bound.
func (m Mode) MaxFaulty(n int) int {
	if n <= 0 {
		return 0
	}
	if m != ModeQuorum {
		return n - 1
	}
	return (n - 1) / 3
}

// Ledgered reports whether contributions are recorded per operator in this mode.
func (m Mode) Ledgered() bool {
	return m == ModeQuorum
}

// Policy is the per-round view of the mode selector, read once at round open.
type Policy struct {
	Mode      Mode
	Expected  int
	Threshold int
}

// PolicyFor builds the policy for a source snapshot. A positive override
// replaces the computed threshold in quorum mode and is capped at the number
// of expected sources, so a shrunken source list can still reach quorum.
func PolicyFor(mode Mode, set SourceSet, override int) Policy {
	n := len(set.Sources)
	threshold := mode.Threshold(n)
	if mode == ModeQuorum && override > 0 && n > 0 {
		threshold = min(override, n)
	}
	return Policy{
		Mode:      mode,
		Expected:  n,
		Threshold: threshold,
	}
}

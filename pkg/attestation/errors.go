package attestation

import "errors"

// Attestation errors abort the round they occur in and nothing else.
var (
	// ErrSignerTimeout indicates the signer did not answer before the deadline.
	ErrSignerTimeout = errors.New("signer timeout")
	// ErrSignerUnavailable indicates the signer failed or has no key.
	ErrSignerUnavailable = errors.New("signer unavailable")
	// ErrEmptySignature indicates the signer returned no bytes.
	ErrEmptySignature = errors.New("signer returned empty signature")
	// ErrNoContributors indicates an attempt to attest a price without contributors.
	ErrNoContributors = errors.New("no contributors")
)

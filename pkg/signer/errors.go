package signer

import "errors"

var (
	// ErrInvalidKey indicates the key material is not a valid secp256k1 private key.
	ErrInvalidKey = errors.New("invalid private key")
	// ErrKeyNotConfigured indicates neither key_env nor key_file yielded a key.
	ErrKeyNotConfigured = errors.New("signing key not configured")
	// ErrDestroyed indicates the signer's key has been wiped.
	ErrDestroyed = errors.New("signer destroyed")
	// ErrInvalidSignature indicates a signature that cannot be recovered.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUnknownType indicates an unsupported signer type.
	ErrUnknownType = errors.New("unknown signer type")
)

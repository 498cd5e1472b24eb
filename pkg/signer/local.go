// Package signer provides signing capabilities for attestations. Private keys
// stay inside this package; callers only see signatures and addresses.
package signer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
)

// LocalSigner signs keccak256 digests with a secp256k1 key held in a
// memguard enclave. The key is decrypted only for the duration of Sign.
type LocalSigner struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	address common.Address
}

var (
	_ attestation.Signer     = (*LocalSigner)(nil)
	_ attestation.Identified = (*LocalSigner)(nil)
)

// NewLocalSigner seals keyBytes and wipes the caller's slice.
func NewLocalSigner(keyBytes []byte) (*LocalSigner, error) {
	defer memguard.WipeBytes(keyBytes)

	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return &LocalSigner{
		enclave: memguard.NewEnclave(keyBytes),
		address: crypto.PubkeyToAddress(privKey.PublicKey),
	}, nil
}

// NewLocalSignerFromHex parses a hex private key (with or without 0x).
func NewLocalSignerFromHex(hexKey string) (*LocalSigner, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return NewLocalSigner(keyBytes)
}

// Sign returns a 65-byte [R || S || V] signature over keccak256(payload) with V in {27, 28}.
func (s *LocalSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.enclave == nil {
		return nil, ErrDestroyed
	}

	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open enclave: %w", err)
	}
	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	sig, err := crypto.Sign(crypto.Keccak256(payload), privKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// Identity returns the signer's checksummed address.
func (s *LocalSigner) Identity() string {
	return s.address.Hex()
}

// Address returns the signer's address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// Destroy drops the enclave. Subsequent Sign calls fail with ErrDestroyed.
func (s *LocalSigner) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}

// Recover returns the address that produced sig over payload.
func Recover(payload, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that rec's signature was produced by rec.Signer over its payload.
func Verify(rec attestation.ConsensusPrice) error {
	payload, err := rec.Payload()
	if err != nil {
		return err
	}
	addr, err := Recover(payload, rec.Signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(addr.Hex(), rec.Signer) {
		return fmt.Errorf("%w: recovered %s, record claims %s", ErrInvalidSignature, addr.Hex(), rec.Signer)
	}
	return nil
}

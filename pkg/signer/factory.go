package signer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/StrathCole/cfd-oracle/pkg/config"
)

// New builds the signer described by cfg. Local keys come from key_env or
// key_file; kms keys are unsealed from ciphertext_file at startup.
func New(ctx context.Context, cfg config.SignerConfig) (*LocalSigner, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		hexKey, err := readLocalKey(cfg)
		if err != nil {
			return nil, err
		}
		return NewLocalSignerFromHex(hexKey)

	case "kms":
		ciphertext, err := os.ReadFile(filepath.Clean(cfg.KMS.CiphertextFile)) // #nosec G304 -- operator supplied path
		if err != nil {
			return nil, fmt.Errorf("read kms ciphertext: %w", err)
		}
		client, err := NewKMSClient(ctx, cfg.KMS.Region, cfg.KMS.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewKMSSigner(ctx, client, ciphertext)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
}

func readLocalKey(cfg config.SignerConfig) (string, error) {
	if cfg.KeyEnv != "" {
		if v := os.Getenv(cfg.KeyEnv); v != "" {
			return v, nil
		}
	}
	if cfg.KeyFile != "" {
		data, err := os.ReadFile(filepath.Clean(cfg.KeyFile)) // #nosec G304 -- operator supplied path
		if err != nil {
			return "", fmt.Errorf("read key file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", ErrKeyNotConfigured
}

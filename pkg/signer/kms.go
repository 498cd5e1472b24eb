package signer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Decrypter unseals an encrypted key blob. *KMSClient satisfies it; tests use a fake.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KMSClient wraps the AWS KMS SDK to unseal the signing key at startup.
type KMSClient struct {
	kms *kms.Client
}

// NewKMSClient creates a KMS client. A non-empty endpoint targets a local
// emulator with static dummy credentials; otherwise the default AWS
// credential chain is used.
func NewKMSClient(ctx context.Context, region, endpoint string) (*KMSClient, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if endpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return &KMSClient{kms: kms.NewFromConfig(cfg, kmsOpts...)}, nil
}

// Decrypt sends the ciphertext blob to KMS and returns the plaintext.
func (c *KMSClient) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := c.kms.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	return out.Plaintext, nil
}

// NewKMSSigner unseals ciphertext with d and seals the result in a LocalSigner.
// The plaintext never outlives this call outside the enclave.
func NewKMSSigner(ctx context.Context, d Decrypter, ciphertext []byte) (*LocalSigner, error) {
	plain, err := d.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(plain)
}

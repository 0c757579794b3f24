package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/teamvault/teamvault/internal/metrics"
	"github.com/teamvault/teamvault/pkg/kms"
)

// KMSClientAPI is the subset of the AWS KMS client the backend uses.
// Narrowed for mock injection in tests.
type KMSClientAPI interface {
	Encrypt(ctx context.Context, params *awskms.EncryptInput, optFns ...func(*awskms.Options)) (*awskms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *awskms.DecryptInput, optFns ...func(*awskms.Options)) (*awskms.DecryptOutput, error)
	ListKeys(ctx context.Context, params *awskms.ListKeysInput, optFns ...func(*awskms.Options)) (*awskms.ListKeysOutput, error)
}

// AWSBackend wraps data keys through AWS KMS.
type AWSBackend struct {
	client KMSClientAPI
	region string
	retry  kms.RetryConfig
}

// AWSOption is a functional option for configuring the AWS backend.
type AWSOption func(*AWSBackend)

// WithKMSClient sets a custom KMS client (for testing).
func WithKMSClient(client KMSClientAPI) AWSOption {
	return func(b *AWSBackend) {
		b.client = client
	}
}

// WithAWSRetry overrides the retry policy.
func WithAWSRetry(cfg kms.RetryConfig) AWSOption {
	return func(b *AWSBackend) {
		b.retry = cfg
	}
}

// NewAWSBackend creates an AWS KMS backend. Config keys: region,
// endpoint (for LocalStack), access_key_id/secret_access_key (static
// credentials for testing).
func NewAWSBackend(backendConfig map[string]interface{}, opts ...AWSOption) (*AWSBackend, error) {
	region := "us-east-1"
	if r, ok := backendConfig["region"].(string); ok && r != "" {
		region = r
	}

	var endpoint string
	if e, ok := backendConfig["endpoint"].(string); ok && e != "" {
		endpoint = e
	}

	var accessKeyID, secretAccessKey string
	if ak, ok := backendConfig["access_key_id"].(string); ok && ak != "" {
		accessKeyID = ak
	}
	if sk, ok := backendConfig["secret_access_key"].(string); ok && sk != "" {
		secretAccessKey = sk
	}

	b := &AWSBackend{
		region: region,
		retry:  kms.DefaultRetry,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.client == nil {
		var configOpts []func(*config.LoadOptions) error
		configOpts = append(configOpts, config.WithRegion(region))

		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		cfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		var clientOpts []func(*awskms.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *awskms.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		b.client = awskms.NewFromConfig(cfg, clientOpts...)
	}

	return b, nil
}

// Name returns the provider identifier.
func (b *AWSBackend) Name() string {
	return "aws"
}

// Wrap encrypts a data key under the KMS key named by keyRef.
func (b *AWSBackend) Wrap(ctx context.Context, dataKey []byte, keyRef string) ([]byte, error) {
	var wrapped []byte
	err := kms.WithRetry(ctx, b.retry, func(ctx context.Context) error {
		out, err := b.client.Encrypt(ctx, &awskms.EncryptInput{
			KeyId:     &keyRef,
			Plaintext: dataKey,
		})
		if err != nil {
			metrics.RecordKMSError("aws", "wrap")
			return b.classify("wrap", keyRef, err)
		}
		wrapped = out.CiphertextBlob
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordKMSOp("aws", "wrap")
	return wrapped, nil
}

// Unwrap decrypts a wrapped data key.
func (b *AWSBackend) Unwrap(ctx context.Context, wrapped []byte, keyRef string) ([]byte, error) {
	var dataKey []byte
	err := kms.WithRetry(ctx, b.retry, func(ctx context.Context) error {
		input := &awskms.DecryptInput{CiphertextBlob: wrapped}
		// The blob encodes its own key for symmetric CMKs, but naming
		// the key pins cross-account ARN references.
		if keyRef != "" {
			input.KeyId = &keyRef
		}
		out, err := b.client.Decrypt(ctx, input)
		if err != nil {
			metrics.RecordKMSError("aws", "unwrap")
			return b.classify("unwrap", keyRef, err)
		}
		dataKey = out.Plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordKMSOp("aws", "unwrap")
	return dataKey, nil
}

// Validate verifies credentials by listing a single key.
func (b *AWSBackend) Validate(ctx context.Context) error {
	_, err := b.client.ListKeys(ctx, &awskms.ListKeysInput{Limit: aws.Int32(1)})
	if err != nil {
		return b.classify("validate", "", err)
	}
	return nil
}

// classify maps AWS SDK errors onto the backend error contract.
func (b *AWSBackend) classify(op, keyRef string, err error) error {
	if isAWSAccessDenied(err) {
		return &kms.AccessDeniedError{Provider: "aws", KeyRef: keyRef, Err: err}
	}

	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("aws KMS key %s not found: %w", keyRef, err)
	}

	var disabled *types.DisabledException
	if errors.As(err, &disabled) {
		return fmt.Errorf("aws KMS key %s is disabled: %w", keyRef, err)
	}

	var invalid *types.InvalidCiphertextException
	if errors.As(err, &invalid) {
		return fmt.Errorf("aws KMS rejected ciphertext for %s: %w", keyRef, err)
	}

	return &kms.UnavailableError{Provider: "aws", Op: op, Err: err}
}

func isAWSAccessDenied(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "AccessDenied") ||
		strings.Contains(errStr, "UnauthorizedOperation") ||
		strings.Contains(errStr, "Forbidden")
}

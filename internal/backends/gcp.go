package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gcpkms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teamvault/teamvault/internal/metrics"
	"github.com/teamvault/teamvault/pkg/kms"
)

// GCPClientAPI is the subset of the Cloud KMS client the backend uses.
type GCPClientAPI interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
}

// GCPBackend wraps data keys through Google Cloud KMS. Key references
// are full resource names:
// projects/P/locations/L/keyRings/R/cryptoKeys/K.
type GCPBackend struct {
	client GCPClientAPI
	retry  kms.RetryConfig
}

// GCPOption is a functional option for configuring the GCP backend.
type GCPOption func(*GCPBackend)

// WithGCPClient sets a custom Cloud KMS client (for testing).
func WithGCPClient(client GCPClientAPI) GCPOption {
	return func(b *GCPBackend) {
		b.client = client
	}
}

// WithGCPRetry overrides the retry policy.
func WithGCPRetry(cfg kms.RetryConfig) GCPOption {
	return func(b *GCPBackend) {
		b.retry = cfg
	}
}

// NewGCPBackend creates a Cloud KMS backend. Config keys:
// service_account_key_path (optional credentials file).
func NewGCPBackend(backendConfig map[string]interface{}, opts ...GCPOption) (*GCPBackend, error) {
	b := &GCPBackend{retry: kms.DefaultRetry}

	for _, opt := range opts {
		opt(b)
	}

	if b.client == nil {
		var clientOptions []option.ClientOption

		if keyPath, ok := backendConfig["service_account_key_path"].(string); ok && keyPath != "" {
			if strings.HasPrefix(keyPath, "~/") {
				home, err := os.UserHomeDir()
				if err != nil {
					return nil, fmt.Errorf("failed to get home directory: %w", err)
				}
				keyPath = filepath.Join(home, keyPath[2:])
			}
			clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
		}

		client, err := gcpkms.NewKeyManagementClient(context.Background(), clientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Cloud KMS client: %w", err)
		}
		b.client = client
	}

	return b, nil
}

// Name returns the provider identifier.
func (b *GCPBackend) Name() string {
	return "gcp"
}

// Wrap encrypts a data key under the crypto key named by keyRef.
func (b *GCPBackend) Wrap(ctx context.Context, dataKey []byte, keyRef string) ([]byte, error) {
	var wrapped []byte
	err := kms.WithRetry(ctx, b.retry, func(ctx context.Context) error {
		resp, err := b.client.Encrypt(ctx, &kmspb.EncryptRequest{
			Name:      keyRef,
			Plaintext: dataKey,
		})
		if err != nil {
			metrics.RecordKMSError("gcp", "wrap")
			return b.classify("wrap", keyRef, err)
		}
		wrapped = resp.Ciphertext
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordKMSOp("gcp", "wrap")
	return wrapped, nil
}

// Unwrap decrypts a wrapped data key.
func (b *GCPBackend) Unwrap(ctx context.Context, wrapped []byte, keyRef string) ([]byte, error) {
	var dataKey []byte
	err := kms.WithRetry(ctx, b.retry, func(ctx context.Context) error {
		resp, err := b.client.Decrypt(ctx, &kmspb.DecryptRequest{
			Name:       keyRef,
			Ciphertext: wrapped,
		})
		if err != nil {
			metrics.RecordKMSError("gcp", "unwrap")
			return b.classify("unwrap", keyRef, err)
		}
		dataKey = resp.Plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordKMSOp("gcp", "unwrap")
	return dataKey, nil
}

// Validate checks local configuration. Cloud KMS has no cheap
// credential probe that works without naming a key, so remote
// validation happens on first wrap/unwrap.
func (b *GCPBackend) Validate(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("gcp KMS client not configured")
	}
	return nil
}

// classify maps gRPC status codes onto the backend error contract.
func (b *GCPBackend) classify(op, keyRef string, err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return &kms.AccessDeniedError{Provider: "gcp", KeyRef: keyRef, Err: err}
	case codes.NotFound:
		return fmt.Errorf("gcp KMS key %s not found: %w", keyRef, err)
	case codes.InvalidArgument:
		return fmt.Errorf("gcp KMS rejected request for %s: %w", keyRef, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return &kms.UnavailableError{Provider: "gcp", Op: op, Err: err}
	}
	return &kms.UnavailableError{Provider: "gcp", Op: op, Err: err}
}

// Package kms defines the contract cloud key-management backends must
// satisfy to participate in envelope encryption.
//
// A backend wraps and unwraps data keys through a remote KMS key it
// names by reference. teamvault never sees the KMS key material; each
// secret is encrypted under a one-time data key, and only that data
// key crosses the wire to be wrapped.
//
// # Implementing a Backend
//
//  1. Implement the Backend interface
//  2. Register a factory in the internal backend registry
//  3. Classify transport failures as UnavailableError and permission
//     failures as AccessDeniedError so callers can decide retryability
//
// Backends are called from concurrent sync workers and must be
// thread-safe. Wrap and Unwrap are network I/O: implementations must
// honor context cancellation and deadlines.
package kms

import (
	"context"
	"errors"
	"time"

	tverrors "github.com/teamvault/teamvault/internal/errors"
)

// Backend wraps and unwraps envelope data keys through one KMS
// provider.
type Backend interface {
	// Name returns the stable lowercase provider identifier ("aws", "gcp").
	Name() string

	// Wrap encrypts a data key under the KMS key named by keyRef.
	Wrap(ctx context.Context, dataKey []byte, keyRef string) ([]byte, error)

	// Unwrap decrypts a wrapped data key. The keyRef is the reference
	// recorded in the envelope, so decryption needs no external state.
	Unwrap(ctx context.Context, wrapped []byte, keyRef string) ([]byte, error)

	// Validate checks connectivity and credentials without touching
	// any secret material.
	Validate(ctx context.Context) error
}

// UnavailableError indicates the KMS service could not be reached or
// answered with a transient failure. Retryable.
type UnavailableError struct {
	Provider string
	Op       string // "wrap", "unwrap", "validate"
	Err      error
}

func (e *UnavailableError) Error() string {
	return e.Provider + " KMS unavailable during " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return tverrors.ErrKmsUnavailable
}

// AccessDeniedError indicates the KMS key rejected the caller's
// permissions. Never retried.
type AccessDeniedError struct {
	Provider string
	KeyRef   string
	Err      error
}

func (e *AccessDeniedError) Error() string {
	return e.Provider + " KMS access denied for " + e.KeyRef + ": " + e.Err.Error()
}

func (e *AccessDeniedError) Unwrap() error {
	return tverrors.ErrKmsAccessDenied
}

// RetryConfig bounds the retry loop around transient KMS failures.
type RetryConfig struct {
	Attempts int           // total attempts, including the first
	BaseWait time.Duration // wait before the second attempt, doubled each retry
	Timeout  time.Duration // per-attempt deadline
}

// DefaultRetry is the retry policy used by the built-in backends.
var DefaultRetry = RetryConfig{
	Attempts: 3,
	BaseWait: 200 * time.Millisecond,
	Timeout:  30 * time.Second,
}

// WithRetry runs op under the retry policy: transient failures back
// off exponentially up to Attempts; access denial and context
// cancellation abort immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	wait := cfg.BaseWait
	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		lastErr = op(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, tverrors.ErrKmsAccessDenied) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !tverrors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// Package errors defines the error taxonomy shared by the vault core.
//
// Fatal conditions are modeled as sentinel errors so callers can test
// for the violated precondition with errors.Is, while user-facing
// commands wrap them in UserError to attach a suggestion.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the vault core. Every fatal error surfaced to the
// CLI wraps exactly one of these.
var (
	// ErrNotInitialized indicates no vault file exists at the expected path.
	ErrNotInitialized = errors.New("vault not initialized")

	// ErrUnauthorized indicates the active identity is not a current recipient.
	ErrUnauthorized = errors.New("active identity is not a vault recipient")

	// ErrInvalidKey indicates a public key that parses under no supported scheme.
	ErrInvalidKey = errors.New("invalid recipient public key")

	// ErrDuplicateName indicates a recipient name already present in the vault.
	ErrDuplicateName = errors.New("recipient name already exists")

	// ErrNotFound indicates a missing recipient or secret.
	ErrNotFound = errors.New("not found")

	// ErrLastRecipient indicates a removal that would leave zero recipients.
	ErrLastRecipient = errors.New("would remove last recipient")

	// ErrDecryptFailed indicates the identity cannot open a ciphertext,
	// either the wrong key or a corrupted envelope.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrUnsupportedScheme indicates a ciphertext tagged for a backend
	// that is not configured.
	ErrUnsupportedScheme = errors.New("unsupported encryption scheme")

	// ErrKmsUnavailable indicates a KMS backend network or transport failure.
	ErrKmsUnavailable = errors.New("KMS unavailable")

	// ErrKmsAccessDenied indicates the KMS backend rejected the caller's
	// permissions. Never retried.
	ErrKmsAccessDenied = errors.New("KMS access denied")

	// ErrConcurrentModification indicates the vault file changed on disk
	// between load and save.
	ErrConcurrentModification = errors.New("vault modified by another process")

	// ErrMalformedInput indicates unparseable env or diff input.
	ErrMalformedInput = errors.New("malformed input")
)

// UserError is an error carrying enough context to be shown directly to
// the user: what failed, optional details, and a suggested next step.
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// VaultError attaches a vault path and operation to an underlying
// taxonomy error.
type VaultError struct {
	Op   string // "load", "save", "sync", "add", "remove"
	Path string
	Err  error
}

func (e *VaultError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("vault %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("vault %s: %v", e.Op, e.Err)
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// Wrap builds a VaultError around err. It returns nil for a nil err so
// call sites can wrap unconditionally.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &VaultError{Op: op, Path: path, Err: err}
}

// IsRetryable reports whether a KMS or network error is worth retrying.
// Access denial is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKmsAccessDenied) {
		return false
	}
	if errors.Is(err, ErrKmsUnavailable) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// Suggest returns a UserError wrapping err with the suggestion matching
// its taxonomy kind, so every fatal error names the violated
// precondition rather than a raw underlying error.
func Suggest(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotInitialized):
		return UserError{
			Message:    "vault not initialized",
			Suggestion: "Run 'teamvault init' to create a vault in this directory",
			Err:        err,
		}
	case errors.Is(err, ErrUnauthorized):
		return UserError{
			Message:    "your identity cannot decrypt this vault",
			Suggestion: "Ask a current recipient to add your public key and run 'teamvault sync'",
			Err:        err,
		}
	case errors.Is(err, ErrLastRecipient):
		return UserError{
			Message:    "refusing to remove the last recipient",
			Suggestion: "Add another recipient first, or delete the vault if it is no longer needed",
			Err:        err,
		}
	case errors.Is(err, ErrConcurrentModification):
		return UserError{
			Message:    "the vault file changed while this command was running",
			Suggestion: "Re-run the command; if it persists, check for another teamvault process",
			Err:        err,
		}
	case errors.Is(err, ErrKmsAccessDenied):
		return UserError{
			Message:    "the KMS key rejected this caller",
			Suggestion: "Check IAM permissions for kms:Encrypt and kms:Decrypt on the configured key",
			Err:        err,
		}
	case errors.Is(err, ErrKmsUnavailable):
		return UserError{
			Message:    "could not reach the KMS service",
			Suggestion: "Check your network connection and cloud credentials, then retry",
			Err:        err,
		}
	}

	return err
}

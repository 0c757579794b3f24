package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamvault/teamvault/internal/errors"
)

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  errors.UserError
		want string
	}{
		{
			name: "message_only",
			err:  errors.UserError{Message: "vault not initialized"},
			want: "vault not initialized",
		},
		{
			name: "message_with_suggestion",
			err: errors.UserError{
				Message:    "vault not initialized",
				Suggestion: "Run 'teamvault init'",
			},
			want: "vault not initialized\n  Try: Run 'teamvault init'",
		},
		{
			name: "falls_back_to_wrapped_error",
			err:  errors.UserError{Err: stderrors.New("boom")},
			want: "boom",
		},
		{
			name: "details_before_suggestion",
			err: errors.UserError{
				Message:    "save failed",
				Details:    "disk full",
				Suggestion: "Free some space",
			},
			want: "save failed\n  Details: disk full\n  Try: Free some space",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUserErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message: "cannot decrypt",
		Err:     errors.ErrDecryptFailed,
	}
	assert.True(t, stderrors.Is(err, errors.ErrDecryptFailed))
}

func TestVaultErrorWrap(t *testing.T) {
	t.Parallel()

	err := errors.Wrap("load", "vault.yaml", errors.ErrNotInitialized)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNotInitialized))
	assert.Contains(t, err.Error(), "vault load vault.yaml")

	assert.NoError(t, errors.Wrap("load", "vault.yaml", nil))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"kms_unavailable", errors.ErrKmsUnavailable, true},
		{"kms_access_denied", errors.ErrKmsAccessDenied, false},
		{"wrapped_access_denied", fmt.Errorf("wrap: %w", errors.ErrKmsAccessDenied), false},
		{"timeout_string", stderrors.New("request timeout exceeded"), true},
		{"throttling_string", stderrors.New("ThrottlingException: slow down"), true},
		{"plain_failure", stderrors.New("no such key"), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errors.IsRetryable(tt.err))
		})
	}
}

func TestSuggestNamesPrecondition(t *testing.T) {
	t.Parallel()

	err := errors.Suggest(fmt.Errorf("remove alice: %w", errors.ErrLastRecipient))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last recipient")
	assert.True(t, stderrors.Is(err, errors.ErrLastRecipient))

	// Unknown errors pass through untouched.
	plain := stderrors.New("plain")
	assert.Equal(t, plain, errors.Suggest(plain))
}

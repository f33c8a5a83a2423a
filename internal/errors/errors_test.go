package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationError(t *testing.T) {
	t.Run("message_includes_account", func(t *testing.T) {
		err := New(KindNotFound, "svc_etl", "no such service account")
		assert.Contains(t, err.Error(), `account "svc_etl"`)
		assert.Contains(t, err.Error(), "no such service account")
	})

	t.Run("wrap_preserves_cause", func(t *testing.T) {
		cause := stderrors.New("connection refused")
		err := Wrap(KindProvisioningFailed, "svc_etl", cause, "failed to register public key")
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("kind_survives_wrapping", func(t *testing.T) {
		inner := New(KindDuplicateUsername, "svc_etl", "already registered")
		outer := fmt.Errorf("creating account: %w", inner)

		assert.Equal(t, KindDuplicateUsername, KindOf(outer))
		assert.True(t, IsKind(outer, KindDuplicateUsername))
		assert.False(t, IsKind(outer, KindNotFound))
	})

	t.Run("kind_of_plain_error", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(stderrors.New("plain")))
		assert.False(t, IsKind(nil, KindNotFound))
	})

	t.Run("errors_is_matches_on_kind", func(t *testing.T) {
		err := Wrap(KindGenerationFailed, "", stderrors.New("rng"), "failed to generate RSA key")
		assert.True(t, stderrors.Is(err, &OperationError{Kind: KindGenerationFailed}))
		assert.False(t, stderrors.Is(err, &OperationError{Kind: KindNotFound}))
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"timeout", stderrors.New("i/o timeout"), true},
		{"connection_refused", stderrors.New("dial tcp: connection refused"), true},
		{"rate_limited", stderrors.New("429 Too Many Requests"), true},
		{"permanent_rejection", stderrors.New("insufficient privileges"), false},
		{"invalid_parameter_never_retried", New(KindInvalidParameter, "", "bad key size"), false},
		{"duplicate_never_retried", New(KindDuplicateUsername, "svc_a", "exists"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestUserErrorFormatting(t *testing.T) {
	err := UserError{
		Message:    "Failed to read configuration file",
		Details:    "permission denied",
		Suggestion: "Check file permissions and path",
	}
	msg := err.Error()
	require.Contains(t, msg, "Failed to read configuration file")
	assert.Contains(t, msg, "Details: permission denied")
	assert.Contains(t, msg, "Try: Check file permissions")
}

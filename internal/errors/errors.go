package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies the failure modes of credential operations. Callers
// branch on Kind, never on error strings.
type Kind string

const (
	// KindInvalidParameter covers bad key sizes, out-of-range validity
	// windows and malformed usernames. Nothing is persisted.
	KindInvalidParameter Kind = "invalid_parameter"

	// KindDuplicateUsername means the registry already holds a record
	// for the requested service account.
	KindDuplicateUsername Kind = "duplicate_username"

	// KindNotFound means no record exists for the requested username.
	KindNotFound Kind = "not_found"

	// KindGenerationFailed means the entropy source or key marshalling
	// failed. Fatal for the call, not retried automatically.
	KindGenerationFailed Kind = "generation_failed"

	// KindProvisioningFailed means the remote warehouse rejected or
	// timed out the key registration. Local state still advances; the
	// operator retries provisioning separately.
	KindProvisioningFailed Kind = "provisioning_failed"
)

// OperationError is the error type returned by credential operations.
// It carries a Kind for programmatic handling plus the wrapped cause.
type OperationError struct {
	Kind     Kind
	Username string
	Message  string
	Err      error
}

func (e *OperationError) Error() string {
	var parts []string
	if e.Username != "" {
		parts = append(parts, fmt.Sprintf("account %q", e.Username))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else {
		parts = append(parts, string(e.Kind))
	}
	msg := strings.Join(parts, ": ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match on Kind so sentinel-style checks work:
// errors.Is(err, &OperationError{Kind: KindNotFound}).
func (e *OperationError) Is(target error) bool {
	t, ok := target.(*OperationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an OperationError with the given kind and message.
func New(kind Kind, username, format string, args ...interface{}) *OperationError {
	return &OperationError{
		Kind:     kind,
		Username: username,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap builds an OperationError around a cause.
func Wrap(kind Kind, username string, err error, format string, args ...interface{}) *OperationError {
	return &OperationError{
		Kind:     kind,
		Username: username,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	}
}

// KindOf extracts the Kind from an error chain, or "" if the chain
// holds no OperationError.
func KindOf(err error) Kind {
	var op *OperationError
	if errors.As(err, &op) {
		return op.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries an OperationError of kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UserError represents an error that should be shown to the user with helpful context
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
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// IsRetryable reports whether a provisioning error is worth retrying
// as-is. Only transient transport conditions qualify; a key the
// warehouse rejected will be rejected again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if IsKind(err, KindInvalidParameter) || IsKind(err, KindDuplicateUsername) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

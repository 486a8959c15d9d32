// Package exception provides the error taxonomy shared by every querydeck component.
// Errors are categorized by Kind so callers can decide, without string matching,
// whether a failure is reported synchronously, retried at the connect layer, or
// recorded against a single schedule.
package exception

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies an AppError.
type Kind string

const (
	// KindValidation is missing or malformed input. Reported synchronously, never retried.
	KindValidation Kind = "VALIDATION"
	// KindAuth is an unauthenticated or unauthorized request.
	KindAuth Kind = "AUTH"
	// KindConnectivity is a refused, timed out or unresolvable connection. Retried at the connect layer only.
	KindConnectivity Kind = "CONNECTIVITY"
	// KindCredential is a decrypt failure or rejected database login. Never retried.
	KindCredential Kind = "CREDENTIAL"
	// KindExecution is a failed query (syntax, constraint, timeout inside the server).
	KindExecution Kind = "EXECUTION"
	// KindEncryption is corrupt ciphertext or an auth tag mismatch.
	KindEncryption Kind = "ENCRYPTION"
	// KindRetentionSweep is a failure while deleting expired execution history.
	KindRetentionSweep Kind = "RETENTION_SWEEP"
	// KindNotFound is a lookup that matched nothing.
	KindNotFound Kind = "NOT_FOUND"
	// KindStore is a failure of the persistence collaborator.
	KindStore Kind = "STORE"
)

// AppError is the error type produced by querydeck components.
type AppError struct {
	// Kind is the taxonomy bucket of the error.
	Kind Kind
	// Module indicates where the error occurred (e.g., "vault", "pool", "executor").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error

	retryable bool
}

// Sentinels usable with errors.Is to test only the kind of an error.
var (
	ErrValidation     = &AppError{Kind: KindValidation}
	ErrAuth           = &AppError{Kind: KindAuth}
	ErrConnectivity   = &AppError{Kind: KindConnectivity}
	ErrCredential     = &AppError{Kind: KindCredential}
	ErrExecution      = &AppError{Kind: KindExecution}
	ErrEncryption     = &AppError{Kind: KindEncryption}
	ErrRetentionSweep = &AppError{Kind: KindRetentionSweep}
	ErrNotFound       = &AppError{Kind: KindNotFound}
	ErrStore          = &AppError{Kind: KindStore}
)

// New creates an AppError of the given kind. Connectivity errors are retryable by default.
func New(kind Kind, module, message string, originalErr error) *AppError {
	return &AppError{
		Kind:        kind,
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		retryable:   kind == KindConnectivity,
	}
}

// NewValidationError creates a KindValidation error with a formatted message.
func NewValidationError(module, format string, a ...interface{}) *AppError {
	return New(KindValidation, module, fmt.Sprintf(format, a...), nil)
}

// NewAuthError creates a KindAuth error with a formatted message.
func NewAuthError(module, format string, a ...interface{}) *AppError {
	return New(KindAuth, module, fmt.Sprintf(format, a...), nil)
}

// NewNotFoundError creates a KindNotFound error with a formatted message.
func NewNotFoundError(module, format string, a ...interface{}) *AppError {
	return New(KindNotFound, module, fmt.Sprintf(format, a...), nil)
}

// NewConnectivityError wraps a transient connection failure.
func NewConnectivityError(module, message string, err error) *AppError {
	return New(KindConnectivity, module, message, err)
}

// NewCredentialError wraps a decrypt failure or a rejected login.
func NewCredentialError(module, message string, err error) *AppError {
	return New(KindCredential, module, message, err)
}

// NewExecutionError wraps a query failure.
func NewExecutionError(module, message string, err error) *AppError {
	return New(KindExecution, module, message, err)
}

// NewEncryptionError wraps a vault failure.
func NewEncryptionError(module, message string, err error) *AppError {
	return New(KindEncryption, module, message, err)
}

// NewRetentionSweepError wraps a failure while sweeping one schedule's history.
func NewRetentionSweepError(module, message string, err error) *AppError {
	return New(KindRetentionSweep, module, message, err)
}

// NewStoreError wraps a persistence failure.
func NewStoreError(module, message string, err error) *AppError {
	return New(KindStore, module, message, err)
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *AppError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is a kind sentinel matching this error's kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Module == "" && t.Message == "" && t.OriginalErr == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// IsRetryable returns whether this error is retryable.
func (e *AppError) IsRetryable() bool {
	return e.retryable
}

// WithRetryable returns a copy of the error with the retryable flag overridden.
func (e *AppError) WithRetryable(retryable bool) *AppError {
	c := *e
	c.retryable = retryable
	return &c
}

// KindOf returns the Kind of the first AppError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTemporary determines if an error is transient (refused, timed out, host not found, broken connection).
// The retryable flag of the first AppError in the chain decides; the wrapped chain is
// inspected only for errors that carry no AppError.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "invalid connection")
}

// ExtractErrorMessage returns the Message of an AppError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.OriginalErr != nil {
			return fmt.Sprintf("%s: %v", ae.Message, ae.OriginalErr)
		}
		return ae.Message
	}
	return err.Error()
}

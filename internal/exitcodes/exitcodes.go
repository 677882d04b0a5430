// Package exitcodes defines the exit codes of the onboard CLI so scripts and
// schedulers can tell retryable failures from permanent ones.
package exitcodes

import (
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

const (
	// Success - command completed without errors
	Success = 0

	// ConfigError - configuration/YAML parsing or invalid settings (non-recoverable, don't retry)
	ConfigError = 1

	// LocalStoreError - the on-device store rejected a write or is unreadable (non-recoverable)
	LocalStoreError = 2

	// RemoteError - the remote store is unreachable or failed (recoverable)
	RemoteError = 3

	// UploadError - an upload ended in a terminal failure (recoverable)
	UploadError = 4

	// ValidationError - step out of range, invalid section data or incomplete submission (non-recoverable)
	ValidationError = 5

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 6

	// AuthError - no driver identity configured (non-recoverable)
	AuthError = 7

	// IOError - file I/O errors (recoverable)
	IOError = 8
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// Typed onboarding errors are classified first; anything else falls back to
// message inspection.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	// Check if it's already an ExitError
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch onboarding.Kind(err) {
	case onboarding.KindAuth:
		return AuthError
	case onboarding.KindCancelled:
		return Cancelled
	case onboarding.KindLocal:
		return LocalStoreError
	case onboarding.KindUpload:
		return UploadError
	case onboarding.KindRemote:
		return RemoteError
	case onboarding.KindValidation:
		return ValidationError
	}

	// Check for os.PathError first (file not found, permission denied, etc.)
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	// Config errors - parsing issues and invalid settings
	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid config",
		"parsing config",
		"parsing environment",
		"required",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
	}) {
		return RemoteError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context deadline",
	}) {
		return Cancelled
	}

	// Default to local store error for unknown errors
	return LocalStoreError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case RemoteError, UploadError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case LocalStoreError:
		return "local store error"
	case RemoteError:
		return "remote store error (recoverable)"
	case UploadError:
		return "upload error (recoverable)"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case AuthError:
		return "not signed in"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

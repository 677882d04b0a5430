package onboarding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a driver identity and none is present.
	ErrNotAuthenticated = errors.New("no authenticated driver")
	// ErrCancelled is returned for uploads stopped by the caller.
	ErrCancelled = errors.New("upload cancelled")
	// ErrValidationIncomplete is returned when a submission is missing required data.
	ErrValidationIncomplete = errors.New("onboarding incomplete")
	// ErrStepOutOfRange is returned for steps outside [1, totalSteps].
	ErrStepOutOfRange = errors.New("step out of range")
	// ErrInvalidSection is returned when a section payload does not match its variant.
	ErrInvalidSection = errors.New("invalid section payload")
	// ErrEmptyPatch is returned when a write would create an empty record.
	ErrEmptyPatch = errors.New("empty patch")
)

// LocalWriteError reports a failed write to the on-device store.
// It is fatal for the operation that produced it.
type LocalWriteError struct {
	UserID string
	Err    error
}

func (e *LocalWriteError) Error() string {
	return fmt.Sprintf("local write for %s: %v", e.UserID, e.Err)
}

func (e *LocalWriteError) Unwrap() error { return e.Err }

// RemoteError reports a failed call to the remote store. The local state is
// still authoritative when this is returned.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// UploadCode classifies upload failures.
type UploadCode string

const (
	CodeUnknown            UploadCode = "unknown"
	CodeCanceled           UploadCode = "canceled"
	CodeRetryLimitExceeded UploadCode = "retry-limit-exceeded"
	CodeUnavailable        UploadCode = "unavailable"
	CodeUnauthorized       UploadCode = "unauthorized"
	CodeUnauthenticated    UploadCode = "unauthenticated"
	CodeQuotaExceeded      UploadCode = "quota-exceeded"
	CodeInvalidArgument    UploadCode = "invalid-argument"
	CodeObjectNotFound     UploadCode = "object-not-found"
	CodeInvalidChecksum    UploadCode = "invalid-checksum"
)

// Retryable reports whether an attempt failing with this code may be retried.
func (c UploadCode) Retryable() bool {
	switch c {
	case CodeUnknown, CodeCanceled, CodeRetryLimitExceeded, CodeUnavailable:
		return true
	default:
		return false
	}
}

var uploadMessages = map[UploadCode]string{
	CodeUnknown:            "Unknown storage error",
	CodeCanceled:           "The upload was interrupted",
	CodeRetryLimitExceeded: "Retry limit exceeded, check your connection",
	CodeUnavailable:        "Storage is unavailable, check your connection",
	CodeUnauthorized:       "You do not have permission to upload files",
	CodeUnauthenticated:    "You are not signed in",
	CodeQuotaExceeded:      "Storage quota exceeded",
	CodeInvalidArgument:    "The file is not valid for upload",
	CodeObjectNotFound:     "The file was not found",
	CodeInvalidChecksum:    "The file is corrupt",
}

// UploadError is the terminal failure of an upload task.
type UploadError struct {
	Code     UploadCode
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed after %d attempt(s) [%s]: %v", e.Attempts, e.Code, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Retryable reports whether the underlying code is retryable.
func (e *UploadError) Retryable() bool { return e.Code.Retryable() }

// Message returns text suitable for showing to a driver.
func (e *UploadError) Message() string {
	if msg, ok := uploadMessages[e.Code]; ok {
		return msg
	}
	return uploadMessages[CodeUnknown]
}

// ErrorKind is a coarse classification used by the CLI.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuth
	KindLocal
	KindRemote
	KindUpload
	KindValidation
	KindCancelled
	KindOther
)

// Kind classifies err into one of the error kinds.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		localErr  *LocalWriteError
		remoteErr *RemoteError
		uploadErr *UploadError
	)
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return KindAuth
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &localErr):
		return KindLocal
	case errors.As(err, &uploadErr):
		return KindUpload
	case errors.As(err, &remoteErr):
		return KindRemote
	case errors.Is(err, ErrValidationIncomplete), errors.Is(err, ErrStepOutOfRange),
		errors.Is(err, ErrInvalidSection), errors.Is(err, ErrEmptyPatch):
		return KindValidation
	default:
		return KindOther
	}
}

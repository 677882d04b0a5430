package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// StorageError is returned by buckets that know the failure code.
type StorageError struct {
	Code onboarding.UploadCode
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage/%s: %v", e.Code, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UploadCode returns the storage code.
func (e *StorageError) UploadCode() onboarding.UploadCode { return e.Code }

type coded interface {
	UploadCode() onboarding.UploadCode
}

// Classify maps an attempt failure to an upload code. Transport failures are
// reported as unavailable so they are retried.
func Classify(err error) onboarding.UploadCode {
	if err == nil {
		return ""
	}

	var c coded
	if errors.As(err, &c) {
		return c.UploadCode()
	}
	var uerr *onboarding.UploadError
	if errors.As(err, &uerr) {
		return uerr.Code
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return onboarding.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return onboarding.CodeUnavailable
	case errors.Is(err, syscall.ENOSPC):
		return onboarding.CodeQuotaExceeded
	case errors.Is(err, fs.ErrNotExist):
		return onboarding.CodeInvalidArgument
	case errors.Is(err, fs.ErrPermission):
		return onboarding.CodeUnauthorized
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE), errors.As(err, &netErr):
		return onboarding.CodeUnavailable
	default:
		return onboarding.CodeUnknown
	}
}

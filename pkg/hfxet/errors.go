// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorCode classifies a failure the way the C-ABI surface reports it.
// Values and names match the taxonomy exposed through pkg/hfxetabi's
// XetError.code field.
type ErrorCode int32

const (
	ErrCodeOk               ErrorCode = 0
	ErrCodeInvalidConfig    ErrorCode = 1
	ErrCodeAuthFailed       ErrorCode = 2
	ErrCodeNetworkError     ErrorCode = 3
	ErrCodeNotFound         ErrorCode = 4
	ErrCodePermissionDenied ErrorCode = 5
	ErrCodeChecksumMismatch ErrorCode = 6
	ErrCodeCancelled        ErrorCode = 7
	ErrCodeIoError          ErrorCode = 8
	ErrCodeUnknown          ErrorCode = 99
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOk:
		return "ok"
	case ErrCodeInvalidConfig:
		return "invalid_config"
	case ErrCodeAuthFailed:
		return "auth_failed"
	case ErrCodeNetworkError:
		return "network_error"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodePermissionDenied:
		return "permission_denied"
	case ErrCodeChecksumMismatch:
		return "checksum_mismatch"
	case ErrCodeCancelled:
		return "cancelled"
	case ErrCodeIoError:
		return "io_error"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every exported pkg/hfxet operation.
// It carries an ErrorCode so callers (including the C-ABI layer) can
// dispatch on failure kind without string matching, and wraps the
// underlying cause with github.com/cockroachdb/errors for stack traces
// and errors.Is/As compatibility.
type Error struct {
	Code    ErrorCode
	Details string
	cause   error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("hfxet: %s: %s", e.Code, e.Details)
	}
	return fmt.Sprintf("hfxet: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// newError wraps cause with a code and a human-readable detail string.
// cause may be nil for pure validation failures.
func newError(code ErrorCode, cause error, format string, args ...any) *Error {
	detail := fmt.Sprintf(format, args...)
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, detail)
	} else {
		wrapped = errors.New(detail)
	}
	return &Error{Code: code, Details: detail, cause: wrapped}
}

// CodeOf extracts the ErrorCode from err, returning ErrCodeUnknown if err
// is not (or does not wrap) an *Error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOk
	}
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return ErrCodeUnknown
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool { return CodeOf(err) == ErrCodeCancelled }

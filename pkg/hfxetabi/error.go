// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hfxetabi is a stable C-ABI surface over hfxet: opaque handles
// and C-layout structs exported via cgo, built with -buildmode=c-archive
// or c-shared.
package hfxetabi

/*
#include <stdlib.h>
#include "xetabi.h"
*/
import "C"

import (
	"unsafe"

	"github.com/bodaay/hfxet/pkg/hfxet"
)

// Error codes, identical to hfxet.ErrorCode's numbering.
const (
	XetErrOk               C.int32_t = 0
	XetErrInvalidConfig    C.int32_t = 1
	XetErrAuthFailed       C.int32_t = 2
	XetErrNetworkError     C.int32_t = 3
	XetErrNotFound         C.int32_t = 4
	XetErrPermissionDenied C.int32_t = 5
	XetErrChecksumMismatch C.int32_t = 6
	XetErrCancelled        C.int32_t = 7
	XetErrIoError          C.int32_t = 8
	XetErrUnknown          C.int32_t = 99
)

func codeToC(c hfxet.ErrorCode) C.int32_t {
	switch c {
	case hfxet.ErrCodeOk:
		return XetErrOk
	case hfxet.ErrCodeInvalidConfig:
		return XetErrInvalidConfig
	case hfxet.ErrCodeAuthFailed:
		return XetErrAuthFailed
	case hfxet.ErrCodeNetworkError:
		return XetErrNetworkError
	case hfxet.ErrCodeNotFound:
		return XetErrNotFound
	case hfxet.ErrCodePermissionDenied:
		return XetErrPermissionDenied
	case hfxet.ErrCodeChecksumMismatch:
		return XetErrChecksumMismatch
	case hfxet.ErrCodeCancelled:
		return XetErrCancelled
	case hfxet.ErrCodeIoError:
		return XetErrIoError
	default:
		return XetErrUnknown
	}
}

// newCError heap-allocates a C.XetError for err using C.malloc so the
// caller can free it independently of Go's GC. Returns nil for a nil err.
func newCError(err error) *C.XetError {
	if err == nil {
		return nil
	}
	code := hfxet.CodeOf(err)
	ce := (*C.XetError)(C.malloc(C.size_t(unsafe.Sizeof(C.XetError{}))))
	ce.code = codeToC(code)
	ce.message = C.CString(code.String())
	ce.details = C.CString(err.Error())
	return ce
}

//export xet_free_error
func xet_free_error(e *C.XetError) {
	if e == nil {
		return
	}
	if e.message != nil {
		C.free(unsafe.Pointer(e.message))
	}
	if e.details != nil {
		C.free(unsafe.Pointer(e.details))
	}
	C.free(unsafe.Pointer(e))
}

//export xet_free_string
func xet_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxetabi

/*
#include <stdlib.h>
#include "xetabi.h"
*/
import "C"

import (
	"context"
	"runtime/cgo"
	"unsafe"

	"github.com/bodaay/hfxet/pkg/hfxet"
)

// clientState bundles the Go Client with the progress callback currently
// registered for it; callback registration is a separate call from
// construction so callers can swap callbacks between downloads.
type clientState struct {
	client       *hfxet.Client
	progressCB   C.XetProgressCallback
	progressData C.uintptr_t
}

func cString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

func repoKind(s *C.char) hfxet.RepoKind {
	if cString(s) == "dataset" {
		return hfxet.RepoDataset
	}
	return hfxet.RepoModel
}

// recoverToError is deferred at the top of every exported entry point so a
// panic inside Go or cgo marshalling cannot unwind across the C boundary;
// it is mapped to ErrCodeUnknown and the client/token cache stay usable
// afterward.
func recoverToError(errOut **C.XetError) {
	if r := recover(); r != nil {
		if errOut != nil {
			*errOut = cErrorFromPanic(r)
		}
	}
}

func cErrorFromPanic(r any) *C.XetError {
	ce := (*C.XetError)(C.malloc(C.size_t(unsafe.Sizeof(C.XetError{}))))
	ce.code = XetErrUnknown
	ce.message = C.CString("unknown")
	ce.details = C.CString("panic recovered at ffi boundary")
	_ = r
	return ce
}

//export xet_client_new
func xet_client_new(cfg *C.XetConfig, errOut **C.XetError) C.uintptr_t {
	defer recoverToError(errOut)
	if cfg == nil {
		if errOut != nil {
			*errOut = newCError(&hfxet.Error{Code: hfxet.ErrCodeInvalidConfig, Details: "config is null"})
		}
		return 0
	}
	goCfg := hfxet.Config{
		Endpoint:      cString(cfg.endpoint),
		Token:         cString(cfg.token),
		CacheDir:      cString(cfg.cache_dir),
		MaxConcurrent: int(cfg.max_concurrent_downloads),
		EnableDedup:   cfg.enable_dedup != 0,
	}
	client, err := hfxet.NewClient(goCfg)
	if err != nil {
		if errOut != nil {
			*errOut = newCError(err)
		}
		return 0
	}
	h := cgo.NewHandle(&clientState{client: client})
	return C.uintptr_t(h)
}

//export xet_client_free
func xet_client_free(handle C.uintptr_t) {
	if handle == 0 {
		return
	}
	h := cgo.Handle(handle)
	if st, ok := h.Value().(*clientState); ok {
		st.client.Close()
	}
	h.Delete()
}

//export xet_client_set_progress_callback
func xet_client_set_progress_callback(handle C.uintptr_t, cb C.XetProgressCallback, userData C.uintptr_t) {
	if handle == 0 {
		return
	}
	h := cgo.Handle(handle)
	if st, ok := h.Value().(*clientState); ok {
		st.progressCB = cb
		st.progressData = userData
	}
}

func (st *clientState) progressFunc() hfxet.ProgressFunc {
	if st.progressCB == nil {
		return nil
	}
	return func(s hfxet.ProgressSnapshot) {
		cur := C.CString(s.CurrentFile)
		defer C.free(unsafe.Pointer(cur))
		update := C.XetProgressUpdate{
			phase:                         C.int32_t(s.Phase),
			total_bytes:                   C.int64_t(s.TotalBytes),
			completed_bytes:               C.int64_t(s.CompletedBytes),
			total_files:                   C.int32_t(s.TotalFiles),
			completed_files:               C.int32_t(s.CompletedFiles),
			current_file:                  cur,
			current_file_completed_bytes:  C.int64_t(s.CurrentFileCompletedBytes),
			current_file_total_bytes:      C.int64_t(s.CurrentFileTotalBytes),
		}
		C.xet_invoke_progress_callback(st.progressCB, update, st.progressData)
	}
}

func cancelFuncFromToken(tok *C.XetCancellationToken) hfxet.CancelFunc {
	if tok == nil || tok.callback == nil {
		return nil
	}
	cb := tok.callback
	userData := tok.user_data
	return func() bool {
		return C.xet_invoke_cancel_callback(cb, userData) != 0
	}
}

//export xet_list_files
func xet_list_files(handle C.uintptr_t, req *C.XetDownloadRequest, out *C.XetFileList, errOut **C.XetError) C.int32_t {
	defer recoverToError(errOut)
	st, ok := cgo.Handle(handle).Value().(*clientState)
	if !ok || req == nil || out == nil {
		if errOut != nil {
			*errOut = newCError(&hfxet.Error{Code: hfxet.ErrCodeInvalidConfig, Details: "null handle or arguments"})
		}
		return XetErrInvalidConfig
	}

	job := hfxet.Job{
		Repo:     cString(req.repo_id),
		Kind:     repoKind(req.repo_type),
		Revision: cString(req.revision),
	}
	// listFiles is exercised indirectly through DownloadSnapshot's scan
	// phase in pkg/hfxet; the C-ABI surface exposes it directly here via
	// a zero-file-count snapshot dry run is avoided in favor of a direct
	// call on the exported type.
	files, err := hfxet.ListFiles(context.Background(), st.client, job)
	if err != nil {
		if errOut != nil {
			*errOut = newCError(err)
		}
		return codeToC(hfxet.CodeOf(err))
	}

	count := len(files)
	if count == 0 {
		out.files = nil
		out.count = 0
		return XetErrOk
	}
	size := C.size_t(unsafe.Sizeof(C.XetFileInfoC{})) * C.size_t(count)
	arr := (*[1 << 30]C.XetFileInfoC)(C.malloc(size))[:count:count]
	for i, f := range files {
		arr[i] = C.XetFileInfoC{
			path: C.CString(f.Path),
			hash: C.CString(f.OID),
			size: C.int64_t(f.Size),
		}
	}
	out.files = (*C.XetFileInfoC)(unsafe.Pointer(&arr[0]))
	out.count = C.int64_t(count)
	return XetErrOk
}

//export xet_free_file_list
func xet_free_file_list(list *C.XetFileList) {
	if list == nil || list.files == nil || list.count == 0 {
		return
	}
	arr := (*[1 << 30]C.XetFileInfoC)(unsafe.Pointer(list.files))[:list.count:list.count]
	for _, f := range arr {
		if f.path != nil {
			C.free(unsafe.Pointer(f.path))
		}
		if f.hash != nil {
			C.free(unsafe.Pointer(f.hash))
		}
	}
	C.free(unsafe.Pointer(list.files))
	list.files = nil
	list.count = 0
}

//export xet_download_file
func xet_download_file(handle C.uintptr_t, req *C.XetDownloadRequest, token *C.XetCancellationToken, errOut **C.XetError) C.int32_t {
	defer recoverToError(errOut)
	st, ok := cgo.Handle(handle).Value().(*clientState)
	if !ok || req == nil {
		if errOut != nil {
			*errOut = newCError(&hfxet.Error{Code: hfxet.ErrCodeInvalidConfig, Details: "null handle or request"})
		}
		return XetErrInvalidConfig
	}

	job := hfxet.Job{
		Repo:     cString(req.repo_id),
		Kind:     repoKind(req.repo_type),
		Revision: cString(req.revision),
		LocalDir: cString(req.local_dir),
	}
	filename := cString(req.filename)
	cancel := cancelFuncFromToken(token)

	_, err := st.client.DownloadFile(context.Background(), job, filename, st.progressFunc(), cancel)
	if err != nil {
		if errOut != nil {
			*errOut = newCError(err)
		}
		return codeToC(hfxet.CodeOf(err))
	}
	return XetErrOk
}

//export xet_download_snapshot
func xet_download_snapshot(handle C.uintptr_t, req *C.XetDownloadRequest, token *C.XetCancellationToken, errOut **C.XetError) C.int32_t {
	defer recoverToError(errOut)
	st, ok := cgo.Handle(handle).Value().(*clientState)
	if !ok || req == nil {
		if errOut != nil {
			*errOut = newCError(&hfxet.Error{Code: hfxet.ErrCodeInvalidConfig, Details: "null handle or request"})
		}
		return XetErrInvalidConfig
	}

	job := hfxet.Job{
		Repo:     cString(req.repo_id),
		Kind:     repoKind(req.repo_type),
		Revision: cString(req.revision),
		LocalDir: cString(req.local_dir),
	}
	cancel := cancelFuncFromToken(token)

	_, err := st.client.DownloadSnapshot(context.Background(), job, st.progressFunc(), cancel)
	if err != nil {
		if errOut != nil {
			*errOut = newCError(err)
		}
		return codeToC(hfxet.CodeOf(err))
	}
	return XetErrOk
}

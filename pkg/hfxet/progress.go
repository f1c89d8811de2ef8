// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import (
	"sync"
	"time"
)

// defaultThrottle bounds how often a progress callback fires during a
// single download.
const defaultThrottle = 200 * time.Millisecond

// fileProgress is the per-file entry tracked inside an operation.
type fileProgress struct {
	path      string
	completed int64
	total     int64
}

// operation aggregates progress for one DownloadFile/DownloadSnapshot
// call. State is guarded by a single mutex; the ProgressSnapshot delivered
// to callers is copied out under the lock and handed over after unlocking.
type operation struct {
	fn       ProgressFunc
	throttle time.Duration

	mu             sync.Mutex
	phase          ProgressPhase
	totalBytes     int64
	completedBytes int64
	totalFiles     int
	completedFiles int
	current        string
	files          map[string]*fileProgress
	lastEmit       time.Time
}

func newOperation(fn ProgressFunc) *operation {
	return &operation{
		fn:       fn,
		throttle: defaultThrottle,
		files:    make(map[string]*fileProgress),
	}
}

func (o *operation) setPhase(p ProgressPhase) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.emit(false)
}

// setTotalHint records the expected file/byte counts once scanning
// completes.
func (o *operation) setTotalHint(files int, bytes int64) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.totalFiles = files
	o.totalBytes = bytes
	o.mu.Unlock()
	o.emit(false)
}

// ensureFile registers path in the per-file map if absent.
func (o *operation) ensureFile(path string, total int64) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if _, ok := o.files[path]; !ok {
		o.files[path] = &fileProgress{path: path, total: total}
	}
	o.mu.Unlock()
}

// updateFileAbsolute sets path's completed bytes to the given absolute
// value, never regressing it, and propagates the delta into the aggregate
// completed-bytes counter.
func (o *operation) updateFileAbsolute(path string, completed, total int64) {
	if o == nil {
		return
	}
	o.mu.Lock()
	fp, ok := o.files[path]
	if !ok {
		fp = &fileProgress{path: path, total: total}
		o.files[path] = fp
	}
	if total > fp.total {
		fp.total = total
	}
	if completed > fp.completed {
		delta := completed - fp.completed
		fp.completed = completed
		o.completedBytes += delta
	}
	o.current = path
	o.mu.Unlock()
	o.emit(false)
}

// fileDone marks path complete, rolling any shortfall between its reported
// total and completed bytes into the aggregate so totals stay consistent.
func (o *operation) fileDone(path string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	if fp, ok := o.files[path]; ok && fp.completed < fp.total {
		o.completedBytes += fp.total - fp.completed
		fp.completed = fp.total
	}
	o.completedFiles++
	o.mu.Unlock()
	o.emit(false)
}

// finalize transitions to PhaseFinalizing and emits exactly one snapshot,
// bypassing setPhase's own throttled emit so a caller never observes two
// Finalizing snapshots for one operation.
func (o *operation) finalize() {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.phase = PhaseFinalizing
	o.mu.Unlock()
	o.emit(true)
}

// emit sends a snapshot to the callback if forced or the throttle window
// has elapsed. The snapshot struct is assembled while holding the lock but
// the callback itself is invoked after unlocking, so a slow or blocking
// callback never holds up concurrent downloaders.
func (o *operation) emit(force bool) {
	if o == nil || o.fn == nil {
		return
	}
	o.mu.Lock()
	now := time.Now()
	if !force && now.Sub(o.lastEmit) < o.throttle {
		o.mu.Unlock()
		return
	}
	o.lastEmit = now

	snap := ProgressSnapshot{
		Phase:          o.phase,
		TotalBytes:     o.totalBytes,
		CompletedBytes: o.completedBytes,
		TotalFiles:     o.totalFiles,
		CompletedFiles: o.completedFiles,
		CurrentFile:    o.current,
	}
	if fp, ok := o.files[o.current]; ok {
		snap.CurrentFileCompletedBytes = fp.completed
		snap.CurrentFileTotalBytes = fp.total
	}
	o.mu.Unlock()

	o.fn(snap)
}

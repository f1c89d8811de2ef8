// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/bodaay/hfxet/internal/castransport"
)

// DownloadFile runs the single-file orchestration state machine: Scanning
// (locate the file in the tree, resolve and check the destination) →
// Downloading (dedup-first with silent HTTP fallback) → Finalizing.
func (c *Client) DownloadFile(ctx context.Context, job Job, path string, progress ProgressFunc, cancel CancelFunc) (Result, error) {
	op := newOperation(progress)
	op.setPhase(PhaseScanning)

	if cancel != nil && cancel() {
		return Result{}, newError(ErrCodeCancelled, nil, "cancelled before scan")
	}

	files, err := c.listFiles(ctx, job)
	if err != nil {
		return Result{}, err
	}
	var fd FileDescriptor
	found := false
	for _, f := range files {
		if f.Path == path {
			fd, found = f, true
			break
		}
	}
	if !found {
		return Result{}, newError(ErrCodeNotFound, nil, "file %q not found in %s@%s", path, job.Repo, job.Revision)
	}

	dest, err := c.resolveDestination(job, fd.Path)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, newError(ErrCodeIoError, err, "mkdir %s", filepath.Dir(dest))
	}

	if cacheHit(dest, fd) {
		op.setTotalHint(1, fd.Size)
		op.fileDone(fd.Path)
		op.finalize()
		return Result{Path: dest, Size: fd.Size, Skipped: true}, nil
	}

	op.setTotalHint(1, fd.Size)
	op.setPhase(PhaseDownloading)
	op.ensureFile(fd.Path, fd.Size)

	usedDedup, err := c.downloadOne(ctx, job, fd, dest, op, cancel)
	if err != nil {
		return Result{}, err
	}

	op.fileDone(fd.Path)
	op.finalize()
	return Result{Path: dest, Size: fd.Size, UsedDedup: usedDedup}, nil
}

// downloadOne writes one file's bytes to dest, trying the dedup path first
// (when enabled and the server advertised XET metadata) and silently
// falling back to a plain HTTP GET on any dedup failure.
func (c *Client) downloadOne(ctx context.Context, job Job, fd FileDescriptor, dest string, op *operation, cancel CancelFunc) (bool, error) {
	resolveURL := c.t.resolveURL(job.Kind, job.Repo, job.Revision, fd.Path)

	if c.cfg.EnableDedup && c.caDL != nil {
		if meta, ok := c.probeDedup(ctx, resolveURL); ok {
			if err := c.tryDedupDownload(ctx, meta, dest, fd, op, cancel); err == nil {
				return true, nil
			} else if IsCancelled(err) {
				return false, err
			} else {
				c.log.WithError(err).WithField("path", fd.Path).Debug("xet download failed, falling back to plain http")
			}
		}
	}

	if err := c.plainDownload(ctx, resolveURL, dest, fd, op, cancel); err != nil {
		return false, err
	}
	return false, nil
}

// probeDedup issues a redirect-disabled HEAD request and parses any XET
// metadata off the response.
func (c *Client) probeDedup(ctx context.Context, resolveURL string) (dedupFileMetadata, bool) {
	resp, err := c.t.head(ctx, resolveURL)
	if err != nil {
		return dedupFileMetadata{}, false
	}
	defer resp.Body.Close()
	return parseDedupFileMetadata(resp.Header)
}

func (c *Client) tryDedupDownload(ctx context.Context, meta dedupFileMetadata, dest string, fd FileDescriptor, op *operation, cancel CancelFunc) error {
	conn, err := c.dedup.resolve(ctx, meta.RefreshRoute)
	if err != nil {
		return err
	}
	_, err = c.caDL.SmudgeFileFromHash(ctx, conn.Endpoint, conn.AccessToken, meta.FileHash, meta.RefreshRoute, dest,
		func() bool { return cancel != nil && cancel() },
		func(tu castransport.TrackingUpdate) {
			op.updateFileAbsolute(fd.Path, tu.Completed, tu.Total)
		},
	)
	if errors.Is(err, castransport.ErrCancelled) {
		return newError(ErrCodeCancelled, err, "cancelled during xet reconstruction")
	}
	return err
}

func (c *Client) plainDownload(ctx context.Context, url, dest string, fd FileDescriptor, op *operation, cancel CancelFunc) error {
	resp, err := c.t.get(ctx, cancel, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	total := fd.Size
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	op.ensureFile(fd.Path, total)

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return newError(ErrCodeIoError, err, "create %s", tmp)
	}

	pr := &progressReader{
		r:      resp.Body,
		cancel: cancel,
		onRead: func(cum int64) { op.updateFileAbsolute(fd.Path, cum, total) },
	}
	_, copyErr := io.Copy(out, pr)
	closeErr := out.Close()
	if copyErr != nil {
		if IsCancelled(copyErr) {
			// Cancellation leaves whatever was already streamed visible at
			// dest rather than discarding it (no size verification is
			// performed on a cancelled download, so a short file is fine).
			os.Rename(tmp, dest)
			return copyErr
		}
		os.Remove(tmp)
		return mapStreamError(copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return newError(ErrCodeIoError, closeErr, "close %s", tmp)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return newError(ErrCodeIoError, err, "rename %s", tmp)
	}
	return nil
}

func mapStreamError(err error) error {
	if IsCancelled(err) {
		return err
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return newError(ErrCodeNetworkError, err, "stream download")
}

// DownloadSnapshot lists and filters a repository's files, then fans the
// downloads out across a semaphore-gated pool sized
// min(max_concurrent, file_count) floor 1. The first error wins for the
// return value, but files already in flight are allowed to finish rather
// than being aborted.
func (c *Client) DownloadSnapshot(ctx context.Context, job Job, progress ProgressFunc, cancel CancelFunc) (SnapshotResult, error) {
	op := newOperation(progress)
	op.setPhase(PhaseScanning)

	files, err := c.listFiles(ctx, job)
	if err != nil {
		return SnapshotResult{}, err
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.Size
	}
	op.setTotalHint(len(files), totalBytes)
	op.setPhase(PhaseDownloading)

	width := concurrencyFor(c.cfg.MaxConcurrent, len(files))
	gate := semaphore.NewWeighted(int64(width))

	var mu sync.Mutex
	var firstErr error
	var results []Result
	var wg sync.WaitGroup

	for _, fd := range files {
		fd := fd
		if cancel != nil && cancel() {
			mu.Lock()
			if firstErr == nil {
				firstErr = newError(ErrCodeCancelled, nil, "cancelled before acquiring snapshot slot")
			}
			mu.Unlock()
			break
		}
		if err := gate.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = newError(ErrCodeCancelled, err, "acquire snapshot slot")
			}
			mu.Unlock()
			break
		}
		mu.Lock()
		abort := firstErr != nil
		mu.Unlock()
		if abort {
			gate.Release(1)
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer gate.Release(1)

			dest, err := c.resolveDestination(job, fd.Path)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = newError(ErrCodeIoError, err, "mkdir %s", filepath.Dir(dest))
				}
				mu.Unlock()
				return
			}

			res := Result{Path: dest, Size: fd.Size}
			if cacheHit(dest, fd) {
				res.Skipped = true
				op.ensureFile(fd.Path, fd.Size)
				op.fileDone(fd.Path)
			} else {
				op.ensureFile(fd.Path, fd.Size)
				usedDedup, dlErr := c.downloadOne(ctx, job, fd, dest, op, cancel)
				if dlErr != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = dlErr
					}
					mu.Unlock()
					return
				}
				res.UsedDedup = usedDedup
				op.fileDone(fd.Path)
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	op.finalize()
	if firstErr != nil {
		return SnapshotResult{}, firstErr
	}

	dir, _ := c.resolveDestination(job, "")
	return SnapshotResult{Dir: dir, Files: results}, nil
}

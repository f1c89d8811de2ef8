// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import "time"

// RepoKind distinguishes a model repository from a dataset repository;
// the two use different URL path segments on the hub.
type RepoKind int

const (
	RepoModel RepoKind = iota
	RepoDataset
)

func (k RepoKind) apiSegment() string {
	if k == RepoDataset {
		return "datasets"
	}
	return "models"
}

// Job describes one download or snapshot request.
type Job struct {
	Repo     string // "owner/name"
	Kind     RepoKind
	Revision string // defaults to "main"

	// Filters are plain substring matches, no globbing: a path is included
	// if it contains any entry of Allow (or Allow is empty) and excluded
	// if it contains any entry of Ignore.
	Allow  []string
	Ignore []string

	// LocalDir, if set, takes precedence over CacheDir for destination
	// resolution.
	LocalDir string
}

// FileDescriptor is one entry in a repository's file tree.
type FileDescriptor struct {
	Path           string // repo-relative path
	OID            string // git blob sha, or LFS oid when LFS
	Size           int64
	IsLFS          bool
	SHA256Fallback string // LFS sha256, used by the cache short-circuit
	XetHash        string // CAS hash, empty when the file has no dedup metadata
	CanRange       bool   // byte-range support; listing does not set it, so it is false on listed files
}

// Config configures a Client.
type Config struct {
	Endpoint string // defaults to https://huggingface.co
	Token    string

	// CacheDir roots downloaded files ({repo--name}/{revision}/...) and the
	// XET cache layout. When empty, files land in the working directory and
	// the XET cache root comes from castransport.ResolveCacheRoot.
	CacheDir string
	MaxConcurrent int // floor 1; 0 means "pick from file count"

	EnableDedup bool

	// HTTPTimeout bounds a single request's round trip; 0 uses the
	// transport default.
	HTTPTimeout time.Duration
}

// ProgressPhase is the stage a download or snapshot operation is in.
type ProgressPhase int32

const (
	PhaseScanning ProgressPhase = iota
	PhaseDownloading
	PhaseFinalizing
)

func (p ProgressPhase) String() string {
	switch p {
	case PhaseScanning:
		return "scanning"
	case PhaseDownloading:
		return "downloading"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// ProgressSnapshot is the value delivered to a ProgressFunc. It is copied
// out under the aggregator's lock, so callers never observe a half-updated
// struct, and delivered after the lock is released.
type ProgressSnapshot struct {
	Phase ProgressPhase `json:"phase"`

	TotalBytes     int64 `json:"total_bytes"`
	CompletedBytes int64 `json:"completed_bytes"`
	TotalFiles     int   `json:"total_files"`
	CompletedFiles int   `json:"completed_files"`

	CurrentFile               string `json:"current_file"`
	CurrentFileCompletedBytes int64  `json:"current_file_completed_bytes"`
	CurrentFileTotalBytes     int64  `json:"current_file_total_bytes"`
}

// ProgressFunc receives throttled progress snapshots. It must not block;
// the aggregator calls it synchronously on whichever goroutine's update
// happened to cross the throttle threshold.
type ProgressFunc func(ProgressSnapshot)

// CancelFunc is polled before DownloadFile's scan, before each snapshot
// slot is acquired, before each GET attempt for a file body, between
// streamed body reads, and before each CAS term fetch. Tree listing, the
// HEAD probe and token refresh do not poll it; they observe only ctx. It
// must be safe to call concurrently and should return quickly. Returning
// true aborts the in-flight operation with ErrCodeCancelled.
type CancelFunc func() bool

// Result is returned by single-file downloads.
type Result struct {
	Path      string // absolute path written
	Size      int64
	Skipped   bool // cache short-circuit hit
	UsedDedup bool
}

// SnapshotResult is returned by DownloadSnapshot.
type SnapshotResult struct {
	Dir     string
	Files   []Result
}

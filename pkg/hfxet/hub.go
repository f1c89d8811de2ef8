// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// treeEntry mirrors a single node in the hub's tree API response.
type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size    int64  `json:"size,omitempty"`
	OID     string `json:"oid,omitempty"`
	XetHash string `json:"xet_hash,omitempty"`
	LFS     *struct {
		OID    string `json:"oid,omitempty"`
		Size   int64  `json:"size,omitempty"`
		SHA256 string `json:"sha256,omitempty"`
	} `json:"lfs,omitempty"`
}

// ListFiles walks a repository's tree and returns its file descriptors.
// Exported so the C-ABI surface's xet_list_files can reach a Client's
// unexported listing logic.
func ListFiles(ctx context.Context, c *Client, job Job) ([]FileDescriptor, error) {
	return c.listFiles(ctx, job)
}

func (c *Client) listFiles(ctx context.Context, job Job) ([]FileDescriptor, error) {
	var out []FileDescriptor
	var walk func(prefix string) error
	walk = func(prefix string) error {
		resp, err := c.t.get(ctx, nil, c.t.treeURL(job.Kind, job.Repo, job.Revision, prefix))
		if err != nil {
			if CodeOf(err) == ErrCodeAuthFailed {
				return newError(ErrCodeAuthFailed, err, "repository requires access; visit %s", c.t.agreementURL(job.Kind, job.Repo))
			}
			return err
		}
		defer resp.Body.Close()

		var nodes []treeEntry
		if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
			return newError(ErrCodeUnknown, err, "decode tree response")
		}
		for _, n := range nodes {
			switch n.Type {
			case "directory", "tree":
				if err := walk(n.Path); err != nil {
					return err
				}
			default:
				fd := FileDescriptor{Path: n.Path, OID: n.OID, Size: n.Size, XetHash: n.XetHash}
				if n.LFS != nil {
					fd.IsLFS = true
					fd.OID = n.LFS.OID
					fd.SHA256Fallback = n.LFS.SHA256
					if n.LFS.Size > 0 {
						fd.Size = n.LFS.Size
					}
				}
				out = append(out, fd)
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return dedupeAndFilter(out, job), nil
}

// dedupeAndFilter removes duplicate paths (last one wins) and applies
// substring allow/ignore filters (plain substring matches, no globbing).
func dedupeAndFilter(files []FileDescriptor, job Job) []FileDescriptor {
	byPath := make(map[string]FileDescriptor, len(files))
	order := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := byPath[f.Path]; !ok {
			order = append(order, f.Path)
		}
		byPath[f.Path] = f
	}
	out := make([]FileDescriptor, 0, len(order))
	for _, p := range order {
		if !passesFilters(p, job.Allow, job.Ignore) {
			continue
		}
		out = append(out, byPath[p])
	}
	return out
}

func passesFilters(path string, allow, ignore []string) bool {
	for _, s := range ignore {
		if s != "" && strings.Contains(path, s) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, s := range allow {
		if s != "" && strings.Contains(path, s) {
			return true
		}
	}
	return false
}

// resolveDestination applies the three-way destination precedence:
// local_dir, then cache_dir (with repo-with-slashes-replaced-by-- and
// revision subdirectories), then the current working directory.
func (c *Client) resolveDestination(job Job, relPath string) (string, error) {
	if job.LocalDir != "" {
		return filepath.Join(job.LocalDir, filepath.FromSlash(relPath)), nil
	}
	if c.cfg.CacheDir != "" {
		safeName := strings.ReplaceAll(job.Repo, "/", "--")
		rev := job.Revision
		if rev == "" {
			rev = "main"
		}
		return filepath.Join(c.cfg.CacheDir, safeName, rev, filepath.FromSlash(relPath)), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", newError(ErrCodeIoError, err, "resolve cwd")
	}
	return filepath.Join(cwd, filepath.FromSlash(relPath)), nil
}

// cacheHit reports whether dest already holds fd's contents: an existing
// file of the expected size (and, for LFS files with a known sha256, a
// matching checksum) is treated as already downloaded.
func cacheHit(dest string, fd FileDescriptor) bool {
	fi, err := os.Stat(dest)
	if err != nil {
		return false
	}
	if fd.Size > 0 && fi.Size() != fd.Size {
		return false
	}
	if fd.IsLFS && fd.SHA256Fallback != "" {
		return verifySHA256(dest, fd.SHA256Fallback) == nil
	}
	return fd.Size > 0 && fi.Size() == fd.Size
}

func verifySHA256(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(sum, expected) {
		return newError(ErrCodeChecksumMismatch, nil, "expected %s got %s", expected, sum)
	}
	return nil
}

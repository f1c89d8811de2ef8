// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPassesFilters(t *testing.T) {
	require.True(t, passesFilters("model.bin", nil, nil))
	require.False(t, passesFilters("model.bin", nil, []string{"bin"}))
	require.True(t, passesFilters("q4_0/model.gguf", []string{"q4_0"}, nil))
	require.False(t, passesFilters("q5_0/model.gguf", []string{"q4_0"}, nil))
	require.False(t, passesFilters("q4_0/model.gguf", []string{"q4_0"}, []string{"q4_0"}))
}

func TestDedupeAndFilter_LastWinsAndFilters(t *testing.T) {
	files := []FileDescriptor{
		{Path: "a.bin", Size: 1},
		{Path: "a.bin", Size: 2},
		{Path: "b.bin", Size: 3},
	}
	out := dedupeAndFilter(files, Job{})
	require.Len(t, out, 2)
	require.Equal(t, int64(2), out[0].Size) // last entry for a.bin wins

	filtered := dedupeAndFilter(files, Job{Ignore: []string{"b.bin"}})
	require.Len(t, filtered, 1)
	require.Equal(t, "a.bin", filtered[0].Path)
}

// TestResolveDestination_Precedence checks the three-way destination
// precedence and that it is deterministic and idempotent for fixed inputs.
func TestResolveDestination_Precedence(t *testing.T) {
	c := &Client{cfg: Config{}}

	job := Job{Repo: "org/model", Revision: "main", LocalDir: "/local"}
	dest, err := c.resolveDestination(job, "README.md")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/local", "README.md"), dest)

	dest2, err := c.resolveDestination(job, "README.md")
	require.NoError(t, err)
	require.Equal(t, dest, dest2)

	c.cfg.CacheDir = "/cache"
	job.LocalDir = ""
	dest, err = c.resolveDestination(job, "README.md")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/cache", "org--model", "main", "README.md"), dest)

	c.cfg.CacheDir = ""
	cwd, _ := os.Getwd()
	dest, err = c.resolveDestination(job, "README.md")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cwd, "README.md"), dest)
}

// TestCacheHit_ExistingFileOfExpectedSize asserts that an existing file of
// the expected size is treated as already downloaded, no network request
// needed.
func TestCacheHit_ExistingFileOfExpectedSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "w.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

	require.True(t, cacheHit(path, FileDescriptor{Size: 10}))
	require.False(t, cacheHit(path, FileDescriptor{Size: 11}))
	require.False(t, cacheHit(filepath.Join(dir, "missing.bin"), FileDescriptor{Size: 10}))
}

func TestCacheHit_LFSChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "w.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	const correctSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" // sha256("hello")
	fd := FileDescriptor{Size: 5, IsLFS: true, SHA256Fallback: "deadbeef"}
	require.False(t, cacheHit(path, fd))

	fd.SHA256Fallback = correctSHA
	require.True(t, cacheHit(path, fd))
}

// TestListFiles_PlainListing checks that directories are recursed into
// separately and non-file entries are skipped.
func TestListFiles_PlainListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sub") {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"type":"file","oid":"a1","size":5,"path":"README.md"},{"type":"directory","oid":"d1","size":0,"path":"sub"}]`)
	}))
	defer srv.Close()

	c := &Client{cfg: Config{Endpoint: srv.URL}, t: newTransport(Config{Endpoint: srv.URL}, testLogger())}
	files, err := c.listFiles(context.Background(), Job{Repo: "org/model", Revision: "main"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "README.md", files[0].Path)
	require.Equal(t, "a1", files[0].OID)
	require.Equal(t, int64(5), files[0].Size)
}

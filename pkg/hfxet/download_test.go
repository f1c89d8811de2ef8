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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bodaay/hfxet/internal/castransport"
)

func newTestClient(t *testing.T, endpoint string, cacheDir string, maxConcurrent int) *Client {
	t.Helper()
	log := testLogger()
	tr := newTransport(Config{Endpoint: endpoint}, log)
	return &Client{
		cfg:   Config{Endpoint: endpoint, CacheDir: cacheDir, MaxConcurrent: maxConcurrent},
		t:     tr,
		log:   log,
		dedup: newDedupTokenManager(tr, log),
	}
}

// TestDownloadFile_CacheHit exercises the cache short-circuit through the
// full DownloadFile state machine: only the tree listing is requested,
// never the file body.
func TestDownloadFile_CacheHit(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "c")
	dest := filepath.Join(cacheDir, "org--model", "main", "w.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, make([]byte, 10), 0o644))

	var treeCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&treeCalls, 1)
		fmt.Fprint(w, `[{"type":"file","oid":"a1","size":10,"path":"w.bin"}]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, cacheDir, 4)
	res, err := c.DownloadFile(context.Background(), Job{Repo: "org/model", Revision: "main"}, "w.bin", nil, nil)
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, dest, res.Path)
	// The tree listing still runs (scanning locates the descriptor); no
	// second GET for the file body should have been issued, which the byte
	// count on disk already confirms (still exactly 10 zero bytes).
	require.EqualValues(t, 10, mustFileSize(t, dest))
}

// TestDownloadFile_DedupFallback exercises a HEAD probe that advertises XET
// metadata while the refresh route always 500s, and asserts the client
// falls back to plain HTTP without surfacing an error.
func TestDownloadFile_DedupFallback(t *testing.T) {
	dir := t.TempDir()

	var hubURL string
	mux := http.NewServeMux()
	var refreshCalls int32
	mux.HandleFunc("/api/models/org/model/tree/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"type":"file","oid":"a1","size":5,"path":"w.bin"}]`)
	})
	mux.HandleFunc("/xet-auth", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/org/model/resolve/main/w.bin", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("x-xet-hash", "deadbeef")
			w.Header().Set("Link", `<`+hubURL+`/xet-auth>; rel="xet-auth"`)
			w.WriteHeader(http.StatusOK)
			return
		}
		fmt.Fprint(w, "hello")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	hubURL = srv.URL

	c := newTestClient(t, srv.URL, filepath.Join(dir, "c"), 4)
	c.cfg.EnableDedup = true
	// Refresh route always fails, so tryDedupDownload never reaches
	// SmudgeFileFromHash; the Downloader only needs to exist so downloadOne
	// takes the dedup branch at all.
	c.caDL = castransport.NewDownloader(c.t.client, clientTokenRefresher{c}, 8)

	var finalizingEmits int
	progress := func(s ProgressSnapshot) {
		if s.Phase == PhaseFinalizing {
			finalizingEmits++
		}
	}

	res, err := c.DownloadFile(context.Background(), Job{Repo: "org/model", Revision: "main"}, "w.bin", progress, nil)
	require.NoError(t, err)
	require.False(t, res.UsedDedup)
	require.Equal(t, int32(4), atomic.LoadInt32(&refreshCalls))

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.LessOrEqual(t, finalizingEmits, 1)
}

// TestDownloadFile_CancellationMidStream asserts that cancelling during
// streaming returns Cancelled and leaves a short file on disk.
func TestDownloadFile_CancellationMidStream(t *testing.T) {
	const totalSize = 1 << 20 // 1 MiB
	const chunk = 64 * 1024

	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/org/model/tree/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"type":"file","oid":"a1","size":%d,"path":"big.bin"}]`, totalSize)
	})
	mux.HandleFunc("/org/model/resolve/main/big.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(totalSize))
		buf := make([]byte, chunk)
		flusher, _ := w.(http.Flusher)
		for written := 0; written < totalSize; written += chunk {
			w.Write(buf)
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL, filepath.Join(t.TempDir(), "c"), 4)

	var reads int32
	cancel := func() bool { return atomic.AddInt32(&reads, 1) > 4 }

	res, err := c.DownloadFile(context.Background(), Job{Repo: "org/model", Revision: "main"}, "big.bin", nil, cancel)
	require.Error(t, err)
	require.True(t, IsCancelled(err))
	require.Equal(t, ErrCodeCancelled, CodeOf(err))
	require.Equal(t, Result{}, res)

	dest := filepath.Join(c.cfg.CacheDir, "org--model", "main", "big.bin")
	info, statErr := os.Stat(dest)
	require.NoError(t, statErr)
	require.Less(t, info.Size(), int64(totalSize))
}

// TestDownloadSnapshot_FanOut downloads 8 files with max_concurrent=3 and
// asserts never more than 3 concurrent GETs, with all files landing at the
// correct size.
func TestDownloadSnapshot_FanOut(t *testing.T) {
	const fileCount = 8
	const fileSize = 1024

	var inFlight int32
	var maxInFlight int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/org/model/tree/main", func(w http.ResponseWriter, r *http.Request) {
		var sb []byte
		sb = append(sb, '[')
		for i := 0; i < fileCount; i++ {
			if i > 0 {
				sb = append(sb, ',')
			}
			sb = append(sb, []byte(fmt.Sprintf(`{"type":"file","oid":"o%d","size":%d,"path":"f%d.bin"}`, i, fileSize, i))...)
		}
		sb = append(sb, ']')
		w.Write(sb)
	})
	for i := 0; i < fileCount; i++ {
		mux.HandleFunc(fmt.Sprintf("/org/model/resolve/main/f%d.bin", i), func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxInFlight)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			w.Write(make([]byte, fileSize))
			atomic.AddInt32(&inFlight, -1)
		})
	}

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(t, srv.URL, dir, 3)

	var totalFiles, completedFiles int
	progress := func(s ProgressSnapshot) {
		totalFiles = s.TotalFiles
		completedFiles = s.CompletedFiles
	}

	res, err := c.DownloadSnapshot(context.Background(), Job{Repo: "org/model", Revision: "main"}, progress, nil)
	require.NoError(t, err)
	require.Len(t, res.Files, fileCount)
	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(3))
	require.Equal(t, fileCount, totalFiles)
	require.Equal(t, fileCount, completedFiles)

	for i := 0; i < fileCount; i++ {
		fi, err := os.Stat(filepath.Join(dir, "org--model", "main", fmt.Sprintf("f%d.bin", i)))
		require.NoError(t, err)
		require.EqualValues(t, fileSize, fi.Size())
	}
}

// TestDownloadSnapshot_CancelStopsFurtherDispatch asserts that cancel is
// polled before acquiring each file's concurrency slot, so a cancellation
// observed between files stops further dispatch instead of continuing to
// spawn downloads until one happens to fail.
func TestDownloadSnapshot_CancelStopsFurtherDispatch(t *testing.T) {
	const fileCount = 5

	var requested int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/org/model/tree/main", func(w http.ResponseWriter, r *http.Request) {
		var sb []byte
		sb = append(sb, '[')
		for i := 0; i < fileCount; i++ {
			if i > 0 {
				sb = append(sb, ',')
			}
			sb = append(sb, []byte(fmt.Sprintf(`{"type":"file","oid":"o%d","size":4,"path":"f%d.bin"}`, i, i))...)
		}
		sb = append(sb, ']')
		w.Write(sb)
	})
	for i := 0; i < fileCount; i++ {
		mux.HandleFunc(fmt.Sprintf("/org/model/resolve/main/f%d.bin", i), func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requested, 1)
			w.Write([]byte("good"))
		})
	}

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(t, srv.URL, dir, 1)

	var calls int32
	cancel := func() bool { return atomic.AddInt32(&calls, 1) > 1 }

	_, err := c.DownloadSnapshot(context.Background(), Job{Repo: "org/model", Revision: "main"}, nil, cancel)
	require.Error(t, err)
	require.True(t, IsCancelled(err))
	require.LessOrEqual(t, atomic.LoadInt32(&requested), int32(1))
}

// TestDownloadSnapshot_SingleErrorLeavesOthersIntact asserts that a
// snapshot with one failing file still writes the other N-1 files
// correctly and returns exactly one error.
func TestDownloadSnapshot_SingleErrorLeavesOthersIntact(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/org/model/tree/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"type":"file","oid":"o0","size":4,"path":"good0.bin"},{"type":"file","oid":"o1","size":4,"path":"good1.bin"},{"type":"file","oid":"o2","size":4,"path":"bad.bin"}]`)
	})
	mux.HandleFunc("/org/model/resolve/main/good0.bin", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("good")) })
	mux.HandleFunc("/org/model/resolve/main/good1.bin", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("good")) })
	mux.HandleFunc("/org/model/resolve/main/bad.bin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	c := newTestClient(t, srv.URL, dir, 3)

	_, err := c.DownloadSnapshot(context.Background(), Job{Repo: "org/model", Revision: "main"}, nil, nil)
	require.Error(t, err)
	require.Equal(t, ErrCodeNotFound, CodeOf(err))

	for _, name := range []string{"good0.bin", "good1.bin"} {
		got, rerr := os.ReadFile(filepath.Join(dir, "org--model", "main", name))
		require.NoError(t, rerr)
		require.Equal(t, "good", string(got))
	}
}

func mustFileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return fi.Size()
}

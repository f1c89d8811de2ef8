// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package castransport implements the chunk-CAS reconstruction client for
// content-addressed deduplication: fetching a term list from the CAS
// endpoint and writing each term's byte range into the destination file.
// xet-core itself is a Rust crate with no Go binding, so this talks to the
// CAS reconstruction HTTP API directly rather than wrapping it.
package castransport

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
)

// crockford is the Crockford base32 alphabet used for session ids. Its
// symbols are in ascending ASCII order, so encoded ids compare in the same
// order as the bytes they encode.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewSessionID returns a fresh 26-character Crockford base32 session
// identifier built from 16 random bytes. It has a ULID's length but no
// timestamp prefix, so ids are not ordered by creation time.
func NewSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	enc := base32.NewEncoding(crockford).WithPadding(base32.NoPadding)
	s := enc.EncodeToString(buf[:])
	if len(s) < 26 {
		s = s + strings.Repeat("0", 26-len(s))
	}
	return s[:26], nil
}

// CacheLayout is the resolved set of directories a Client's dedup subsystem
// reads and writes.
type CacheLayout struct {
	Root         string
	ChunkCache   string
	ShardCache   string
	ShardSession string
}

// ResolveCacheRoot applies the environment precedence for locating the
// dedup cache: HF_XET_CACHE, then HF_HOME/xet, then
// XDG_CACHE_HOME/huggingface/xet, then $HOME/.cache/huggingface/xet.
func ResolveCacheRoot() (string, error) {
	if v := os.Getenv("HF_XET_CACHE"); v != "" {
		return v, nil
	}
	if v := os.Getenv("HF_HOME"); v != "" {
		return filepath.Join(v, "xet"), nil
	}
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return filepath.Join(v, "huggingface", "xet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", "huggingface", "xet"), nil
}

// EndpointTag derives the per-endpoint cache subdirectory name: first 16
// alphanumeric characters of the endpoint, a dash, then the first 16
// characters of base64(sha256(endpoint)).
func EndpointTag(endpoint string) string {
	var alnum strings.Builder
	for _, r := range endpoint {
		if alnum.Len() >= 16 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			alnum.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(endpoint))
	b64 := base64.RawStdEncoding.EncodeToString(sum[:])
	if len(b64) > 16 {
		b64 = b64[:16]
	}
	return alnum.String() + "-" + b64
}

// NewCacheLayout builds and creates (0o755) the directory tree for
// endpoint rooted at root (the result of ResolveCacheRoot or an explicit
// override), with a fresh session id for the staging subdir.
func NewCacheLayout(root, endpoint string) (CacheLayout, error) {
	sessionID, err := NewSessionID()
	if err != nil {
		return CacheLayout{}, err
	}
	tagged := filepath.Join(root, EndpointTag(endpoint))
	layout := CacheLayout{
		Root:         tagged,
		ChunkCache:   filepath.Join(tagged, "chunk-cache"),
		ShardCache:   filepath.Join(tagged, "shard-cache"),
		ShardSession: filepath.Join(tagged, "staging", "shard-session", sessionID),
	}
	for _, dir := range []string{layout.ChunkCache, layout.ShardCache, layout.ShardSession} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CacheLayout{}, err
		}
	}
	return layout, nil
}

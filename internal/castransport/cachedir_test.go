// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package castransport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	id, err := NewSessionID()
	require.NoError(t, err)
	require.Len(t, id, 26)
	for _, r := range id {
		require.Contains(t, crockford, string(r))
	}

	id2, err := NewSessionID()
	require.NoError(t, err)
	require.NotEqual(t, id, id2)
}

func TestEndpointTag_Deterministic(t *testing.T) {
	a := EndpointTag("https://huggingface.co")
	b := EndpointTag("https://huggingface.co")
	require.Equal(t, a, b)

	c := EndpointTag("https://hub.example.com")
	require.NotEqual(t, a, c)

	parts := strings.SplitN(a, "-", 2)
	require.Len(t, parts, 2)
	require.LessOrEqual(t, len(parts[0]), 16)
	require.LessOrEqual(t, len(parts[1]), 16)
}

func TestResolveCacheRoot_Precedence(t *testing.T) {
	t.Setenv("HF_XET_CACHE", "/explicit/xet")
	t.Setenv("HF_HOME", "/hf/home")
	t.Setenv("XDG_CACHE_HOME", "/xdg/cache")
	root, err := ResolveCacheRoot()
	require.NoError(t, err)
	require.Equal(t, "/explicit/xet", root)

	os.Unsetenv("HF_XET_CACHE")
	root, err = ResolveCacheRoot()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/hf/home", "xet"), root)

	os.Unsetenv("HF_HOME")
	root, err = ResolveCacheRoot()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/xdg/cache", "huggingface", "xet"), root)

	os.Unsetenv("XDG_CACHE_HOME")
	home, _ := os.UserHomeDir()
	root, err = ResolveCacheRoot()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".cache", "huggingface", "xet"), root)
}

func TestNewCacheLayout_CreatesTree(t *testing.T) {
	tmp := t.TempDir()
	layout, err := NewCacheLayout(tmp, "https://huggingface.co")
	require.NoError(t, err)

	for _, dir := range []string{layout.ChunkCache, layout.ShardCache, layout.ShardSession} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
	require.True(t, strings.HasPrefix(layout.Root, tmp))
}

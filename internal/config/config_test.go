// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	want := File{
		Token:         "hf_abc123",
		Endpoint:      "https://hub.example",
		CacheDir:      "/var/cache/hfxet",
		MaxConcurrent: 16,
		EnableDedup:   false,
		LogLevel:      "debug",
	}

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestPath_RespectsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	p, err := Path()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/xdg", "hfxet", "config.toml"), p)
}

// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config loads the TOML user configuration file, supplying
// flag/env defaults for the hfxet CLI.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// File is the shape of ~/.config/hfxet/config.toml.
type File struct {
	Token         string `toml:"token"`
	Endpoint      string `toml:"endpoint"`
	CacheDir      string `toml:"cache_dir"`
	MaxConcurrent int    `toml:"max_concurrent"`
	EnableDedup   bool   `toml:"enable_dedup"`
	LogLevel      string `toml:"log_level"`
}

// Default returns the built-in defaults: the public hub endpoint, 8
// concurrent downloads, dedup enabled, and the warn log level.
func Default() File {
	return File{
		Endpoint:      "https://huggingface.co",
		MaxConcurrent: 8,
		EnableDedup:   true,
		LogLevel:      "warn",
	}
}

// Path returns the default config file location, $XDG_CONFIG_HOME (or
// ~/.config) /hfxet/config.toml.
func Path() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hfxet", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".config", "hfxet", "config.toml"), nil
}

// Load reads path, returning Default() unmodified if the file does not
// exist.
func Load(path string) (File, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return File{}, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	return errors.Wrap(toml.NewEncoder(f).Encode(cfg), "encode config")
}

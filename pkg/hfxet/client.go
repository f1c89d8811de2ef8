// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hfxet is a native client library for downloading files and
// repository snapshots from a HuggingFace-style hub, with optional
// content-addressed deduplication (XET).
package hfxet

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bodaay/hfxet/internal/castransport"
)

// Client holds an endpoint, optional credentials, a concurrency bound, and
// the shared state (transport, dedup token cache, cache layout) every
// download issued through it reuses.
type Client struct {
	cfg Config
	t   *transport
	log *logrus.Entry

	dedup *dedupTokenManager
	cache castransport.CacheLayout
	caDL  *castransport.Downloader
}

// NewClient constructs a Client. Construction never performs network I/O.
func NewClient(cfg Config) (*Client, error) {
	if cfg.MaxConcurrent < 0 {
		return nil, newError(ErrCodeInvalidConfig, nil, "max_concurrent must be >= 0")
	}

	log := newLogger()
	t := newTransport(cfg, log)

	c := &Client{cfg: cfg, t: t, log: log}
	c.dedup = newDedupTokenManager(t, log)

	if cfg.EnableDedup {
		root := cfg.CacheDir
		if root == "" {
			var err error
			root, err = castransport.ResolveCacheRoot()
			if err != nil {
				return nil, newError(ErrCodeInvalidConfig, err, "resolve xet cache root")
			}
		}
		layout, err := castransport.NewCacheLayout(root, t.endpoint)
		if err != nil {
			return nil, newError(ErrCodeIoError, err, "create xet cache layout")
		}
		c.cache = layout
		c.caDL = castransport.NewDownloader(t.client, clientTokenRefresher{c}, 8)
	}

	return c, nil
}

// Close releases resources held by the Client. Idle resources (the HTTP
// transport's connection pool) are reclaimed by the runtime; Close exists
// for API symmetry with the C-ABI handle lifecycle and future resources
// that do need explicit teardown.
func (c *Client) Close() error { return nil }

func newLogger() *logrus.Entry {
	l := logrus.New()
	level := os.Getenv("HFXET_LOG_LEVEL")
	if level == "" {
		level = os.Getenv("XET_LOG_LEVEL")
	}
	if level == "" {
		level = "warn"
	}
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.WarnLevel)
	}
	return l.WithField("component", "hfxet")
}

// clientTokenRefresher adapts Client's dedup token manager to
// castransport.TokenRefresher so castransport only sees the narrow
// refresh operation it needs, not the whole Client.
type clientTokenRefresher struct{ c *Client }

func (r clientTokenRefresher) Resolve(ctx context.Context, refreshRoute string) (string, string, error) {
	conn, err := r.c.dedup.resolve(ctx, refreshRoute)
	if err != nil {
		return "", "", err
	}
	return conn.Endpoint, conn.AccessToken, nil
}

// concurrencyFor returns the effective fan-out width for a snapshot of n
// files: min(max_concurrent, n), floor 1.
func concurrencyFor(max int, n int) int {
	if n < 1 {
		n = 1
	}
	if max <= 0 {
		return n
	}
	if max < n {
		return max
	}
	return n
}

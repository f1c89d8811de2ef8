// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bodaay/hfxet/internal/retry"
)

// transport wraps a connection-pooled HTTP client with a default
// Authorization header, linear retry, and a redirect-disabled variant for
// HEAD probes.
type transport struct {
	endpoint string
	token    string
	client   *http.Client
	probe    *http.Client // redirects disabled, used for the XET header probe
	log      *logrus.Entry
}

func newTransport(cfg Config, log *logrus.Entry) *transport {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	timeout := cfg.HTTPTimeout
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://huggingface.co"
	}
	return &transport{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    cfg.Token,
		client:   &http.Client{Transport: base, Timeout: timeout},
		probe: &http.Client{
			Transport: base,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

func (t *transport) addAuth(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("User-Agent", "hfxet/1")
}

// doWithRetry sends the request produced by build, one fresh request per
// attempt, up to the linear retry policy's attempt ceiling. Transport
// errors and 5xx statuses are retried; 401/403, 404 and other 4xx statuses
// stop at once. doWithRetry closes the bodies of failed responses itself.
func (t *transport) doWithRetry(ctx context.Context, cancel CancelFunc, build func() (*http.Request, error)) (*http.Response, error) {
	var result *http.Response
	err := retry.Do(ctx, retry.Default(), func(attempt int) error {
		if cancel != nil && cancel() {
			return retry.Permanent(newError(ErrCodeCancelled, nil, "cancelled before attempt %d", attempt))
		}
		req, err := build()
		if err != nil {
			return retry.Permanent(newError(ErrCodeInvalidConfig, err, "build request"))
		}
		resp, err := t.client.Do(req)
		if err != nil {
			t.log.WithError(err).Debugf("request attempt %d failed", attempt)
			return newError(ErrCodeNetworkError, err, "attempt %d", attempt)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return retry.Permanent(newError(ErrCodeAuthFailed, nil, "status %d", resp.StatusCode))
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return retry.Permanent(newError(ErrCodeNotFound, nil, "status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return newError(ErrCodeNetworkError, nil, "server status %d on attempt %d", resp.StatusCode, attempt)
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return retry.Permanent(newError(ErrCodeNetworkError, nil, "status %d", resp.StatusCode))
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *transport) get(ctx context.Context, cancel CancelFunc, rawURL string) (*http.Response, error) {
	return t.doWithRetry(ctx, cancel, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		t.addAuth(req)
		return req, nil
	})
}

// head issues a HEAD request with redirects disabled, used to probe for
// XET dedup headers without following a CDN redirect that would hide them.
// It does not retry: a failed probe silently falls back to plain HTTP.
func (t *transport) head(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, newError(ErrCodeInvalidConfig, err, "build HEAD request")
	}
	t.addAuth(req)
	resp, err := t.probe.Do(req)
	if err != nil {
		return nil, newError(ErrCodeNetworkError, err, "HEAD probe")
	}
	return resp, nil
}

// acceptsRanges performs a quick HEAD probe to check Accept-Ranges support,
// using the redirect-disabled probe client so intermediate CDN hops don't
// hide the header.
func (t *transport) acceptsRanges(ctx context.Context, rawURL string) bool {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := t.head(cctx, rawURL)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
}

func (t *transport) resolveURL(kind RepoKind, repo, revision, path string) string {
	seg := "resolve"
	base := t.endpoint
	if revision == "" {
		revision = "main"
	}
	if kind == RepoDataset {
		return base + "/datasets/" + repo + "/" + seg + "/" + url.PathEscape(revision) + "/" + pathEscapeAll(path)
	}
	return base + "/" + repo + "/" + seg + "/" + url.PathEscape(revision) + "/" + pathEscapeAll(path)
}

func (t *transport) treeURL(kind RepoKind, repo, revision, prefix string) string {
	if revision == "" {
		revision = "main"
	}
	api := t.endpoint + "/api/" + kind.apiSegment() + "/" + repo + "/tree/" + url.PathEscape(revision)
	if prefix != "" {
		api += "/" + pathEscapeAll(prefix)
	}
	return api
}

func (t *transport) agreementURL(kind RepoKind, repo string) string {
	if kind == RepoDataset {
		return t.endpoint + "/datasets/" + repo
	}
	return t.endpoint + "/" + repo
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

// progressReader wraps an io.Reader, invoking onRead with cumulative bytes
// after every Read and polling cancel between reads.
type progressReader struct {
	r       io.Reader
	read    int64
	onRead  func(cumulative int64)
	cancel  CancelFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if p.cancel != nil && p.cancel() {
		return 0, newError(ErrCodeCancelled, nil, "cancelled mid-stream")
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.onRead != nil {
			p.onRead(p.read)
		}
	}
	return n, err
}

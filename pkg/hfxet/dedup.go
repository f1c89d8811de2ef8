// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxet

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// dedupFileMetadata is what a HEAD probe on a repository file reveals
// about its CAS representation.
type dedupFileMetadata struct {
	FileHash     string
	RefreshRoute string
}

// dedupConnection is an authenticated handle to the CAS endpoint, valid
// until Expiration.
type dedupConnection struct {
	Endpoint    string
	AccessToken string
	Expiration  time.Time
}

// validFor60s reports whether the connection is still usable at least 60s
// from now.
func (c dedupConnection) validFor60s() bool {
	return c.Expiration.After(time.Now().Add(60 * time.Second))
}

// parseDedupFileMetadata reads XET file metadata off a HEAD response. The
// x-xet-hash header is required; the refresh route comes from the Link
// header's rel="xet-auth" entry, falling back to x-xet-refresh-route. It
// reports false when either the hash or the route is missing.
func parseDedupFileMetadata(h http.Header) (dedupFileMetadata, bool) {
	hash := h.Get("x-xet-hash")
	if hash == "" {
		return dedupFileMetadata{}, false
	}
	route := parseLinkHeaderXetAuth(h.Get("Link"))
	if route == "" {
		route = h.Get("x-xet-refresh-route")
	}
	if route == "" {
		return dedupFileMetadata{}, false
	}
	return dedupFileMetadata{FileHash: hash, RefreshRoute: route}, true
}

// parseLinkHeaderXetAuth extracts the URL inside a Link header entry whose
// rel parameter is "xet-auth".
func parseLinkHeaderXetAuth(link string) string {
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="xet-auth"`) && !strings.Contains(part, `rel='xet-auth'`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end < 0 || end <= start {
			continue
		}
		return part[start+1 : end]
	}
	return ""
}

// parseDedupConnection reads a CAS connection out of a refresh-route
// response's headers.
func parseDedupConnection(h http.Header) (dedupConnection, bool) {
	endpoint := h.Get("x-xet-cas-url")
	token := h.Get("x-xet-access-token")
	expStr := h.Get("x-xet-token-expiration")
	if endpoint == "" || token == "" || expStr == "" {
		return dedupConnection{}, false
	}
	epoch, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return dedupConnection{}, false
	}
	return dedupConnection{
		Endpoint:    endpoint,
		AccessToken: token,
		Expiration:  time.Unix(epoch, 0),
	}, true
}

// dedupTokenManager caches the active dedup connection per refresh route,
// refreshing only when the cached connection is for a different route or
// within 60s of expiring. One instance is shared by a Client across every
// download it issues.
type dedupTokenManager struct {
	t   *transport
	log *logrus.Entry

	mu         sync.Mutex
	route      string
	connection dedupConnection
	haveConn   bool
}

func newDedupTokenManager(t *transport, log *logrus.Entry) *dedupTokenManager {
	return &dedupTokenManager{t: t, log: log}
}

// resolve returns a usable dedupConnection for route, refreshing over HTTP
// if the cache is empty, for a different route, or expiring soon.
func (m *dedupTokenManager) resolve(ctx context.Context, route string) (dedupConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.haveConn && m.route == route && m.connection.validFor60s() {
		return m.connection, nil
	}

	resp, err := m.t.get(ctx, nil, route)
	if err != nil {
		return dedupConnection{}, newError(ErrCodeAuthFailed, err, "refresh xet connection info")
	}
	defer resp.Body.Close()

	conn, ok := parseDedupConnection(resp.Header)
	if !ok {
		// Some refresh endpoints return the connection info as a JSON body
		// instead of headers; accept either shape.
		var body struct {
			Endpoint   string `json:"casUrl"`
			Token      string `json:"accessToken"`
			Expiration int64  `json:"expiration"`
		}
		if jerr := json.NewDecoder(resp.Body).Decode(&body); jerr == nil && body.Endpoint != "" {
			conn = dedupConnection{
				Endpoint:    body.Endpoint,
				AccessToken: body.Token,
				Expiration:  time.Unix(body.Expiration, 0),
			}
			ok = true
		}
	}
	if !ok {
		return dedupConnection{}, newError(ErrCodeAuthFailed, nil, "refresh route %q returned no connection info", route)
	}

	m.route = route
	m.connection = conn
	m.haveConn = true

	m.log.WithField("route", route).Debug("refreshed xet connection")
	return conn, nil
}

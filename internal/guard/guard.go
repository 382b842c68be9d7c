// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package guard re-checks authentication for rendering surfaces that never
// see the credential the gatekeeper validated. It answers only "is there a
// valid subject"; tenant authorization stays with the API calls the page
// makes afterwards.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/opentrusty/citygate/internal/observability/logger"
	"golang.org/x/sync/singleflight"
)

// ErrCheckFailed is returned by a Checker that could not reach a verdict.
var ErrCheckFailed = errors.New("session check failed")

// Status is the verdict of one session check.
type Status struct {
	Authenticated bool
	UserID        string

	// SetCookies carries Set-Cookie values the API returned, such as a
	// rotated credential or a cleared cookie.
	SetCookies []string
}

// Checker asks the API whether the credentials on r are valid.
type Checker interface {
	Check(ctx context.Context, r *http.Request) (Status, error)
}

// Config configures a Guard.
type Config struct {
	LoginPath      string
	CookieName     string
	PendingTimeout time.Duration
	CheckTimeout   time.Duration
	MaxStaleness   time.Duration
}

type cacheEntry struct {
	userID  string
	checked time.Time
}

// Guard is middleware that runs a Checker before serving protected content.
type Guard struct {
	checker Checker
	cfg     Config
	now     func() time.Time

	flight singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a Guard.
func New(checker Checker, cfg Config) *Guard {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	return &Guard{
		checker: checker,
		cfg:     cfg,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Middleware guards next. While the check is pending past PendingTimeout the
// client gets the loading page, which reloads itself; it never gets content.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := g.fingerprint(r)
		if key == "" {
			g.redirect(w, r)
			return
		}
		if g.fresh(key) {
			next.ServeHTTP(w, r)
			return
		}

		// The check outlives the request so a reload after the loading
		// page can pick up its cached result. It gets its own copy of what
		// it forwards; r belongs to the server once this handler returns.
		detached := detach(r)
		base := context.WithoutCancel(r.Context())
		ch := g.flight.DoChan(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(base, g.cfg.CheckTimeout)
			defer cancel()
			st, err := g.checker.Check(ctx, detached.WithContext(ctx))
			if err == nil && st.Authenticated {
				g.remember(key, st.UserID)
			}
			return st, err
		})

		var pending <-chan time.Time
		if g.cfg.PendingTimeout > 0 {
			timer := time.NewTimer(g.cfg.PendingTimeout)
			defer timer.Stop()
			pending = timer.C
		}

		select {
		case res := <-ch:
			st, _ := res.Val.(Status)
			for _, c := range st.SetCookies {
				w.Header().Add("Set-Cookie", c)
			}
			if res.Err != nil || !st.Authenticated {
				if res.Err != nil {
					slog.WarnContext(r.Context(), "auth guard check failed, redirecting to login",
						logger.Component("guard"),
						logger.Path(r.URL.Path),
						logger.Error(res.Err),
					)
				}
				g.redirect(w, r)
				return
			}
			next.ServeHTTP(w, r)
		case <-pending:
			g.loading(w)
		case <-r.Context().Done():
		}
	})
}

// ForwardedHeaders are the request headers a Checker may rely on.
var ForwardedHeaders = []string{"Cookie", "Authorization", "Accept-Language"}

// detach copies the method, URL and ForwardedHeaders of r into a request
// that shares no mutable state with it.
func detach(r *http.Request) *http.Request {
	u := *r.URL
	d := &http.Request{
		Method:     r.Method,
		URL:        &u,
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		Header:     make(http.Header, len(ForwardedHeaders)),
	}
	for _, h := range ForwardedHeaders {
		if v := r.Header.Values(h); len(v) > 0 {
			d.Header[h] = append([]string(nil), v...)
		}
	}
	return d
}

// fingerprint identifies the presented credential without storing it.
func (g *Guard) fingerprint(r *http.Request) string {
	var raw string
	if g.cfg.CookieName != "" {
		if c, err := r.Cookie(g.cfg.CookieName); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		raw = r.Header.Get("Authorization")
	}
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (g *Guard) fresh(key string) bool {
	if g.cfg.MaxStaleness <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.cache[key]
	if !ok {
		return false
	}
	if g.now().Sub(e.checked) > g.cfg.MaxStaleness {
		delete(g.cache, key)
		return false
	}
	return true
}

func (g *Guard) remember(key, userID string) {
	if g.cfg.MaxStaleness <= 0 {
		return
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, e := range g.cache {
		if now.Sub(e.checked) > g.cfg.MaxStaleness {
			delete(g.cache, k)
		}
	}
	g.cache[key] = cacheEntry{userID: userID, checked: now}
}

func (g *Guard) redirect(w http.ResponseWriter, r *http.Request) {
	target := g.cfg.LoginPath + "?" + url.Values{"returnTo": {r.URL.Path}}.Encode()
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

const loadingPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<meta name="robots" content="noindex">
<title>citygate</title>
</head>
<body aria-busy="true"><div class="loading"></div></body>
</html>
`

func (g *Guard) loading(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(loadingPage))
}

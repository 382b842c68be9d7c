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

package http

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opentrusty/citygate/internal/session"
)

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

func (c SessionConfig) setCookie(w http.ResponseWriter, cred session.Credential) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName,
		Value:    cred.Token,
		Path:     c.CookiePath,
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		HttpOnly: c.CookieHTTPOnly,
		SameSite: c.CookieSameSite,
		Expires:  cred.ExpiresAt,
		MaxAge:   int(time.Until(cred.ExpiresAt).Seconds()),
	})
}

func (c SessionConfig) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName,
		Value:    "",
		Path:     c.CookiePath,
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		HttpOnly: c.CookieHTTPOnly,
		SameSite: c.CookieSameSite,
		MaxAge:   -1,
	})
}

// credential extracts the raw credential: the session cookie first, then an
// Authorization bearer header.
func (c SessionConfig) credential(r *http.Request) string {
	if cookie, err := r.Cookie(c.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// loginURL builds loginPath?returnTo=<path>.
func loginURL(loginPath, returnTo string) string {
	return loginPath + "?" + url.Values{"returnTo": {returnTo}}.Encode()
}

// safeReturnTo accepts only local absolute paths.
func safeReturnTo(p, fallback string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return fallback
	}
	return p
}

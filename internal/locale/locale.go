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

// Package locale recognises locale path prefixes ("/nl/admin") and
// negotiates a locale for requests without one.
package locale

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// ErrNoLocales is returned when no locale is configured.
var ErrNoLocales = errors.New("at least one locale is required")

type contextKey struct{}

// Locales is the configured set of routable locales. The first is the default.
type Locales struct {
	tags     []language.Tag
	prefixes map[string]language.Tag
	matcher  language.Matcher
}

// New parses codes such as "en", "nl" or "pt-BR".
func New(codes []string) (*Locales, error) {
	if len(codes) == 0 {
		return nil, ErrNoLocales
	}
	l := &Locales{prefixes: make(map[string]language.Tag, len(codes))}
	for _, code := range codes {
		code = strings.TrimSpace(code)
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", code, err)
		}
		l.tags = append(l.tags, tag)
		l.prefixes[strings.ToLower(tag.String())] = tag
	}
	l.matcher = language.NewMatcher(l.tags)
	return l, nil
}

// Default returns the first configured locale.
func (l *Locales) Default() language.Tag {
	return l.tags[0]
}

// Split removes a known locale prefix from path. Paths without one are
// returned unchanged with ok false.
func (l *Locales) Split(path string) (tag language.Tag, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	first, remainder, _ := strings.Cut(trimmed, "/")
	tag, ok = l.prefixes[strings.ToLower(first)]
	if !ok || first == "" {
		return language.Und, path, false
	}
	return tag, "/" + remainder, true
}

// Negotiate picks the best configured locale for the Accept-Language header.
func (l *Locales) Negotiate(r *http.Request) language.Tag {
	accepted, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(accepted) == 0 {
		return l.Default()
	}
	_, idx, _ := l.matcher.Match(accepted...)
	return l.tags[idx]
}

// Rewrite strips a locale prefix from the request path before routing and
// records the effective locale in the request context.
func (l *Locales) Rewrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag, rest, ok := l.Split(r.URL.Path)
		if !ok {
			tag = l.Negotiate(r)
		} else {
			r = r.Clone(r.Context())
			r.URL.Path = rest
			r.URL.RawPath = ""
		}
		next.ServeHTTP(w, r.WithContext(WithTag(r.Context(), tag)))
	})
}

// WithTag stores tag in ctx.
func WithTag(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, contextKey{}, tag)
}

// FromContext returns the request locale, or language.Und.
func FromContext(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(contextKey{}).(language.Tag); ok {
		return tag
	}
	return language.Und
}

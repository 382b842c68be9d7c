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
	"io/fs"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/citygate/internal/locale"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Router modes
const (
	ModeAPI    = "api"
	ModeRender = "render"
	ModeAll    = "all"
)

// RouterOptions selects what a router serves and how it is guarded.
type RouterOptions struct {
	// Mode is api, render or all. Render mode has no gatekeeper and relies
	// on Guard to re-check the session against the API origin.
	Mode        string
	Gatekeeper  *Gatekeeper
	Guard       func(http.Handler) http.Handler
	Locales     *locale.Locales
	RateLimiter *RateLimiter

	// TrustedProxies may set X-Forwarded-For; see ClientIPMiddleware.
	TrustedProxies []netip.Prefix

	// Static holds assets/ and, for render mode, the SPA index.html.
	Static fs.FS
}

// NewRouter creates a new HTTP router. In api and all modes the gatekeeper
// runs before locale rewriting and before chi picks a handler.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(ClientIPMiddleware(opts.TrustedProxies))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	if opts.Mode != ModeRender && opts.Gatekeeper != nil {
		r.Use(opts.Gatekeeper.Middleware)
	}
	r.Use(CSRFMiddleware)
	if opts.Locales != nil {
		r.Use(opts.Locales.Rewrite)
	}

	r.Get("/health", h.HealthCheck)

	if opts.Static != nil {
		r.Handle("/assets/*", http.FileServer(http.FS(opts.Static)))
	}

	switch opts.Mode {
	case ModeAPI:
		mountAPI(r, h, opts)
	case ModeRender:
		r.Get("/login", h.LoginPage)
		guard := opts.Guard
		if guard == nil {
			guard = denyAll
		}
		if opts.Static != nil {
			r.With(guard).Handle("/*", SPAHandler{StaticFS: opts.Static})
		} else {
			r.With(guard).Handle("/*", http.NotFoundHandler())
		}
	default:
		mountAPI(r, h, opts)
		mountPages(r, h)
	}

	return r
}

func mountAPI(r chi.Router, h *Handler, opts RouterOptions) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(RateLimitMiddleware(opts.RateLimiter)).Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Get("/session", h.Session)
			r.Get("/me", h.GetCurrentUser)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Put("/{userID}/role", h.SetUserRole)
			r.Post("/{userID}/deactivate", h.DeactivateUser)
		})

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)
			r.Post("/", h.CreateTenant)

			r.Route("/{tenant}", func(r chi.Router) {
				r.Get("/", h.GetTenant)
				r.Put("/status", h.SetTenantStatus)

				r.Get("/grants", h.ListGrants)
				r.Post("/grants", h.CreateGrant)
				r.Put("/grants/{userID}", h.PutGrant)
				r.Delete("/grants/{userID}", h.DeleteGrant)

				r.Route("/resources/{class}", func(r chi.Router) {
					r.Get("/", h.ListResources)
					r.Post("/", h.CreateResource)
					r.Get("/{id}", h.GetResource)
					r.Put("/{id}", h.UpdateResource)
					r.Delete("/{id}", h.DeleteResource)
				})
			})
		})
	})
}

func mountPages(r chi.Router, h *Handler) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin", http.StatusFound)
	})
	r.Get("/login", h.LoginPage)
	r.Get("/admin", h.AdminHome)
	r.Get("/admin/{tenant}", h.AdminTenant)
	r.Get("/admin/{tenant}/{class}", h.AdminClass)
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "auth guard not configured", http.StatusServiceUnavailable)
	})
}

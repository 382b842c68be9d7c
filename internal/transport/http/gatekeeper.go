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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opentrusty/citygate/internal/audit"
	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/locale"
	"github.com/opentrusty/citygate/internal/observability/logger"
	"github.com/opentrusty/citygate/internal/observability/metrics"
	"github.com/opentrusty/citygate/internal/session"
	"github.com/opentrusty/citygate/internal/tenant"
)

// Authenticator validates and rotates credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) session.Result
}

// UserSource loads the authenticated user.
type UserSource interface {
	GetUser(ctx context.Context, userID string) (*identity.User, error)
}

// TenantSource resolves a tenant slug.
type TenantSource interface {
	GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
}

// Gate outcomes, also used as the metric label.
const (
	outcomeAllow           = "allow"
	outcomePublic          = "public"
	outcomeUnauthenticated = "unauthenticated"
	outcomeForbidden       = "forbidden"
	outcomeUnavailable     = "unavailable"
)

type decision struct {
	outcome string
	rule    RouteRule
	user    *identity.User
	tenant  *tenant.Tenant
	rotated *session.Credential
	clear   bool
}

// GatekeeperConfig wires a Gatekeeper.
type GatekeeperConfig struct {
	Authenticator Authenticator
	Users         UserSource
	Tenants       TenantSource
	Checker       authz.Checker
	Routes        *RouteTable
	Locales       *locale.Locales
	Session       SessionConfig
	LoginPath     string
	AuditLogger   audit.Logger
	Metrics       *metrics.AuthzMetrics
}

// Gatekeeper authenticates and authorizes every request before any routing,
// locale rewriting or handler runs.
type Gatekeeper struct {
	cfg GatekeeperConfig
}

// NewGatekeeper creates a gatekeeper. Every dependency except Locales and
// Metrics is required.
func NewGatekeeper(cfg GatekeeperConfig) (*Gatekeeper, error) {
	if cfg.Authenticator == nil || cfg.Users == nil || cfg.Tenants == nil || cfg.Checker == nil || cfg.Routes == nil {
		return nil, errors.New("gatekeeper: missing dependency")
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = audit.NopLogger{}
	}
	return &Gatekeeper{cfg: cfg}, nil
}

// Middleware returns the gatekeeper as chi-compatible middleware.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		d := g.decide(r)
		g.cfg.Metrics.GateDecision(r.Context(), d.outcome, time.Since(start))

		if d.clear {
			g.cfg.Session.clearCookie(w)
		}
		if d.rotated != nil {
			g.cfg.Session.setCookie(w, *d.rotated)
		}

		switch d.outcome {
		case outcomeAllow, outcomePublic:
			ctx := r.Context()
			if d.user != nil {
				ctx = withUser(ctx, d.user)
			}
			if d.tenant != nil {
				ctx = withTenant(ctx, d.tenant)
			}
			if d.rotated != nil {
				ctx = withCredential(ctx, *d.rotated)
			}
			next.ServeHTTP(w, r.WithContext(ctx))

		case outcomeForbidden:
			g.forbidden(w, r, d)

		case outcomeUnavailable:
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusServiceUnavailable, "service unavailable")

		default:
			g.unauthenticated(w, r, d)
		}
	})
}

// decide never returns an error: anything that goes wrong is an
// unauthenticated outcome.
func (g *Gatekeeper) decide(r *http.Request) (d decision) {
	d = decision{outcome: outcomeUnauthenticated, rule: fallbackRule(r.URL.Path)}
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(r.Context(), "gatekeeper panic, denying",
				logger.Component("gatekeeper"),
				logger.Path(r.URL.Path),
				logger.Error(fmt.Errorf("%v", rec)),
			)
			d = decision{outcome: outcomeUnauthenticated, rule: fallbackRule(r.URL.Path)}
		}
	}()

	ctx := r.Context()
	path := r.URL.Path
	if g.cfg.Locales != nil {
		if _, rest, ok := g.cfg.Locales.Split(path); ok {
			path = rest
		}
	}

	rule, rctx, matched := g.cfg.Routes.Match(r.Method, path)
	if matched {
		d.rule = rule
	}

	res := g.cfg.Authenticator.Authenticate(ctx, g.cfg.Session.credential(r))
	switch res.State {
	case session.StateRejected:
		d.clear = true
	case session.StateAuthenticated:
		d.rotated = res.Rotated
	}

	if matched && rule.Public {
		d.outcome = outcomePublic
		return d
	}
	if !res.Authenticated() {
		return d
	}

	user, err := g.cfg.Users.GetUser(ctx, res.Subject)
	if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
		// The credential may well be valid; deny without discarding it.
		g.warn(ctx, path, res.Subject, err)
		d.outcome = outcomeUnavailable
		d.rotated = nil
		return d
	}
	if err != nil || !user.Active {
		d.clear = true
		d.rotated = nil
		return d
	}
	d.user = user

	if !matched {
		d.outcome = outcomeForbidden
		return d
	}

	role := rule.RequiredRole(r.Method)
	if !rule.TenantScoped() {
		if role == RoleNone || user.Role.AtLeast(identity.Role(role)) {
			d.outcome = outcomeAllow
		} else {
			d.outcome = outcomeForbidden
		}
		return d
	}

	t, err := g.cfg.Tenants.GetBySlug(ctx, rctx.URLParam("tenant"))
	if errors.Is(err, tenant.ErrTenantNotFound) {
		d.outcome = outcomeForbidden
		return d
	}
	if err != nil {
		g.warn(ctx, path, user.ID, err)
		return d
	}

	var ok bool
	switch role {
	case RoleNone, string(tenant.RoleOperator):
		ok, err = g.cfg.Checker.HasTenantAccess(ctx, user.ID, t.ID)
	case string(tenant.RoleAdmin):
		ok, err = g.cfg.Checker.IsTenantAdmin(ctx, user.ID, t.ID)
	default:
		ok, err = g.cfg.Checker.IsSuperuser(ctx, user.ID)
	}
	if err != nil {
		g.warn(ctx, path, user.ID, err)
		return d
	}
	if !ok {
		d.outcome = outcomeForbidden
		d.tenant = t
		return d
	}

	d.outcome = outcomeAllow
	d.tenant = t
	return d
}

func (g *Gatekeeper) unauthenticated(w http.ResponseWriter, r *http.Request, d decision) {
	target := loginURL(g.cfg.LoginPath, r.URL.Path)
	if d.rule.Kind == KindAPI {
		w.Header().Set("Location", target)
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (g *Gatekeeper) forbidden(w http.ResponseWriter, r *http.Request, d decision) {
	event := audit.Event{
		Type:      audit.TypeAccessDenied,
		Resource:  d.rule.Path,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{audit.AttrPath: r.URL.Path},
	}
	if d.user != nil {
		event.ActorID = d.user.ID
	}
	if d.tenant != nil {
		event.TenantID = d.tenant.ID
	}
	g.cfg.AuditLogger.Log(r.Context(), event)

	if d.rule.Kind == KindAPI {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	http.Redirect(w, r, loginURL(g.cfg.LoginPath, r.URL.Path), http.StatusFound)
}

func (g *Gatekeeper) warn(ctx context.Context, path, userID string, err error) {
	slog.WarnContext(ctx, "gatekeeper check failed, denying",
		logger.Component("gatekeeper"),
		logger.Path(path),
		logger.UserID(userID),
		logger.Error(err),
	)
}

// fallbackRule classifies a path that matched nothing.
func fallbackRule(path string) RouteRule {
	if strings.HasPrefix(path, "/api/") {
		return RouteRule{Path: path, Kind: KindAPI}
	}
	return RouteRule{Path: path, Kind: KindPage}
}

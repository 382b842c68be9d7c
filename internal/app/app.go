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

// Package app wires stores, services and the HTTP surface from a Config.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/opentrusty/citygate/internal/audit"
	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/config"
	"github.com/opentrusty/citygate/internal/guard"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/locale"
	"github.com/opentrusty/citygate/internal/observability/metrics"
	"github.com/opentrusty/citygate/internal/resource"
	"github.com/opentrusty/citygate/internal/session"
	"github.com/opentrusty/citygate/internal/store/memory"
	"github.com/opentrusty/citygate/internal/store/postgres"
	"github.com/opentrusty/citygate/internal/tenant"
	transportHTTP "github.com/opentrusty/citygate/internal/transport/http"
)

// Repositories is one storage backend.
type Repositories struct {
	Users     identity.UserRepository
	Tenants   tenant.Repository
	Grants    tenant.GrantRepository
	Rotations session.RotationStore
	Resources resource.Repository

	close func()
}

// Close releases the backend.
func (r *Repositories) Close() {
	if r.close != nil {
		r.close()
	}
}

// MemoryRepositories returns an empty in-process backend.
func MemoryRepositories() (*Repositories, error) {
	store, err := memory.New()
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Users:     memory.NewUserRepository(store),
		Tenants:   memory.NewTenantRepository(store),
		Grants:    memory.NewGrantRepository(store),
		Rotations: memory.NewRotationRepository(store),
		Resources: memory.NewResourceRepository(store),
	}, nil
}

// PostgresRepositories returns a backend on db. Close closes db.
func PostgresRepositories(db *postgres.DB) *Repositories {
	return &Repositories{
		Users:     postgres.NewUserRepository(db),
		Tenants:   postgres.NewTenantRepository(db),
		Grants:    postgres.NewGrantRepository(db),
		Rotations: postgres.NewRotationRepository(db),
		Resources: postgres.NewResourceRepository(db),
		close:     db.Close,
	}
}

// OpenRepositories opens the backend selected by cfg.StoreBackend.
func OpenRepositories(ctx context.Context, cfg *config.Config) (*Repositories, error) {
	if cfg.StoreBackend == config.StoreMemory {
		return MemoryRepositories()
	}
	db, err := postgres.New(ctx, PostgresConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return PostgresRepositories(db), nil
}

// PostgresConfig maps the DB_* section onto the store's config.
func PostgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Name,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

// App is the assembled service.
type App struct {
	Identity      *identity.Service
	Tenants       *tenant.Service
	Grants        *authz.GrantService
	Resources     *resource.Service
	Enforcer      *authz.Enforcer
	Authenticator *session.Authenticator
	Bootstrap     *identity.BootstrapService
	RateLimiter   *transportHTTP.RateLimiter
	Router        http.Handler
}

// New assembles the service on repos. meter may be nil.
func New(cfg *config.Config, repos *Repositories, meter *metrics.Meter) (*App, error) {
	var authzMetrics *metrics.AuthzMetrics
	if meter != nil {
		m, err := metrics.NewAuthzMetrics(meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		authzMetrics = m
	}

	auditLogger := audit.NewSlogLogger()
	hasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	identityService := identity.NewService(
		repos.Users,
		hasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)
	tenantService := tenant.NewService(repos.Tenants, repos.Grants, auditLogger)

	predicates := authz.NewPredicates(repos.Users, repos.Grants, authzMetrics)
	enforcer := authz.NewEnforcer(predicates, authz.DefaultRegistry(), auditLogger)
	grantService := authz.NewGrantService(enforcer, tenantService)
	resourceService := resource.NewService(enforcer, repos.Resources, auditLogger)

	authenticator, err := session.NewAuthenticator(session.Config{
		Secret:        []byte(cfg.Session.Secret),
		Issuer:        cfg.Session.Issuer,
		Lifetime:      cfg.Session.Lifetime,
		RefreshWindow: cfg.Session.RefreshWindow,
		Leeway:        cfg.Session.Leeway,
	}, repos.Rotations, authzMetrics)
	if err != nil {
		return nil, err
	}

	sameSite, err := cfg.SameSite()
	if err != nil {
		return nil, err
	}
	cookies := transportHTTP.SessionConfig{
		CookieName:     cfg.Session.CookieName,
		CookieDomain:   cfg.Session.CookieDomain,
		CookiePath:     cfg.Session.CookiePath,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
		CookieSameSite: sameSite,
	}

	locales, err := locale.New(cfg.Locales)
	if err != nil {
		return nil, err
	}
	routes, err := transportHTTP.DefaultRouteTable()
	if err != nil {
		return nil, err
	}
	gate, err := transportHTTP.NewGatekeeper(transportHTTP.GatekeeperConfig{
		Authenticator: authenticator,
		Users:         identityService,
		Tenants:       tenantService,
		Checker:       predicates,
		Routes:        routes,
		Locales:       locales,
		Session:       cookies,
		LoginPath:     cfg.LoginPath,
		AuditLogger:   auditLogger,
		Metrics:       authzMetrics,
	})
	if err != nil {
		return nil, err
	}

	handler := transportHTTP.NewHandler(transportHTTP.HandlerDeps{
		Identity:      identityService,
		Authenticator: authenticator,
		Tenants:       tenantService,
		Grants:        grantService,
		Resources:     resourceService,
		Enforcer:      enforcer,
		AuditLogger:   auditLogger,
		Session:       cookies,
		LoginPath:     cfg.LoginPath,
	})

	proxies, err := cfg.Server.Proxies()
	if err != nil {
		return nil, err
	}

	opts := transportHTTP.RouterOptions{
		Mode:           cfg.Server.Mode,
		Gatekeeper:     gate,
		Locales:        locales,
		RateLimiter:    transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		TrustedProxies: proxies,
	}
	if cfg.Server.StaticDir != "" {
		opts.Static = os.DirFS(cfg.Server.StaticDir)
	}
	if cfg.Server.Mode == transportHTTP.ModeRender {
		checker, err := guard.NewHTTPChecker(cfg.Guard.APIURL, nil)
		if err != nil {
			return nil, err
		}
		opts.Guard = guard.New(checker, guard.Config{
			LoginPath:      cfg.LoginPath,
			CookieName:     cfg.Session.CookieName,
			PendingTimeout: cfg.Guard.PendingTimeout,
			CheckTimeout:   cfg.Guard.CheckTimeout,
			MaxStaleness:   cfg.Guard.MaxStaleness,
		}).Middleware
	}

	return &App{
		Identity:      identityService,
		Tenants:       tenantService,
		Grants:        grantService,
		Resources:     resourceService,
		Enforcer:      enforcer,
		Authenticator: authenticator,
		Bootstrap: identity.NewBootstrapService(identityService, auditLogger, identity.BootstrapConfig{
			Email:    cfg.Bootstrap.Email,
			Password: cfg.Bootstrap.Password,
		}),
		RateLimiter: opts.RateLimiter,
		Router:      transportHTTP.NewRouter(handler, opts),
	}, nil
}

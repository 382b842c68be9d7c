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

package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/observability/metrics"
	"github.com/opentrusty/citygate/internal/tenant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/opentrusty/citygate/internal/authz"

const (
	predicateSuperuser    = "is_superuser"
	predicateTenantAccess = "has_tenant_access"
	predicateTenantAdmin  = "is_tenant_admin"
)

// Predicates evaluates the three permission predicates against raw storage.
// Superuser status is always resolved first from the identity store alone
// and short-circuits every predicate without reading grants.
//
// An error return means the answer is unknown; callers must treat it as a denial.
type Predicates struct {
	users   UserReader
	grants  GrantReader
	tracer  trace.Tracer
	metrics *metrics.AuthzMetrics
}

// NewPredicates creates predicates over the raw identity and grant stores.
// m may be nil.
func NewPredicates(users UserReader, grants GrantReader, m *metrics.AuthzMetrics) *Predicates {
	return &Predicates{
		users:   users,
		grants:  grants,
		tracer:  otel.Tracer(tracerName),
		metrics: m,
	}
}

var _ Checker = (*Predicates)(nil)

// IsSuperuser reports whether userID is an active superuser.
func (p *Predicates) IsSuperuser(ctx context.Context, userID string) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "authz.IsSuperuser")
	defer span.End()

	ok, err := p.superuser(ctx, userID)
	p.record(ctx, span, predicateSuperuser, ok, err)
	return ok, err
}

// HasTenantAccess reports whether userID may read data of tenantID.
func (p *Predicates) HasTenantAccess(ctx context.Context, userID, tenantID string) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "authz.HasTenantAccess",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	ok, err := p.tenantRole(ctx, userID, tenantID, func(tenant.Role) bool { return true })
	p.record(ctx, span, predicateTenantAccess, ok, err)
	return ok, err
}

// IsTenantAdmin reports whether userID administers tenantID.
func (p *Predicates) IsTenantAdmin(ctx context.Context, userID, tenantID string) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "authz.IsTenantAdmin",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	ok, err := p.tenantRole(ctx, userID, tenantID, func(r tenant.Role) bool { return r == tenant.RoleAdmin })
	p.record(ctx, span, predicateTenantAdmin, ok, err)
	return ok, err
}

// superuser reads the identity store only.
func (p *Predicates) superuser(ctx context.Context, userID string) (bool, error) {
	user, err := p.activeUser(ctx, userID)
	if err != nil || user == nil {
		return false, err
	}
	return user.Role == identity.RoleSuperuser, nil
}

func (p *Predicates) tenantRole(ctx context.Context, userID, tenantID string, accept func(tenant.Role) bool) (bool, error) {
	user, err := p.activeUser(ctx, userID)
	if err != nil || user == nil {
		return false, err
	}
	if user.Role == identity.RoleSuperuser {
		return true, nil
	}
	if tenantID == "" {
		return false, nil
	}

	grant, err := p.grants.Get(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, tenant.ErrGrantNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("grant lookup: %w", err)
	}
	return accept(grant.Role), nil
}

// activeUser returns nil without error for unknown or deactivated users.
func (p *Predicates) activeUser(ctx context.Context, userID string) (*identity.User, error) {
	if userID == "" {
		return nil, nil
	}
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if !user.Active {
		return nil, nil
	}
	return user, nil
}

func (p *Predicates) record(ctx context.Context, span trace.Span, name string, ok bool, err error) {
	span.SetAttributes(attribute.Bool("authz.allowed", ok && err == nil))
	if err != nil {
		span.RecordError(err)
	}
	p.metrics.Predicate(ctx, name, ok && err == nil)
}

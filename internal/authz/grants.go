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

	"github.com/opentrusty/citygate/internal/tenant"
)

// GrantService is the policy-enforced view of the grant registry. Grant rows
// are readable by their own user and by superusers; any mutation requires
// IsTenantAdmin on the row's tenant.
type GrantService struct {
	enforcer *Enforcer
	tenants  *tenant.Service
}

// NewGrantService creates a new policy-enforced grant service
func NewGrantService(enforcer *Enforcer, tenants *tenant.Service) *GrantService {
	return &GrantService{enforcer: enforcer, tenants: tenants}
}

// List returns the grants of tenantID visible to callerID. A caller who may
// see nothing gets an empty slice, not an error.
func (s *GrantService) List(ctx context.Context, callerID, tenantID string) ([]*tenant.Grant, error) {
	ctx = WithCaller(ctx, callerID)
	super, err := s.enforcer.checker.IsSuperuser(ctx, callerID)
	if err != nil {
		s.enforcer.unknown(ctx, "list_grants", callerID, tenantID, err)
		return []*tenant.Grant{}, nil
	}
	if super {
		return s.tenants.ListGrantsForTenant(ctx, tenantID)
	}

	own, err := s.tenants.GetGrant(ctx, tenantID, callerID)
	if err != nil {
		if errors.Is(err, tenant.ErrGrantNotFound) {
			return []*tenant.Grant{}, nil
		}
		return nil, err
	}
	return []*tenant.Grant{own}, nil
}

// ListForUser returns the grants of userID across tenants, or nothing if
// callerID may not see them.
func (s *GrantService) ListForUser(ctx context.Context, callerID, userID string) ([]*tenant.Grant, error) {
	ctx = WithCaller(ctx, callerID)
	grants, err := s.tenants.ListGrantsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	visible := make([]*tenant.Grant, 0, len(grants))
	for _, g := range grants {
		if s.enforcer.CanReadGrant(ctx, callerID, g) {
			visible = append(visible, g)
		}
	}
	return visible, nil
}

// Get returns one grant, or tenant.ErrGrantNotFound when it does not exist
// or is not visible to callerID.
func (s *GrantService) Get(ctx context.Context, callerID, tenantID, userID string) (*tenant.Grant, error) {
	ctx = WithCaller(ctx, callerID)
	g, err := s.tenants.GetGrant(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if !s.enforcer.CanReadGrant(ctx, callerID, g) {
		return nil, tenant.ErrGrantNotFound
	}
	return g, nil
}

// Grant creates a grant after checking callerID administers tenantID.
func (s *GrantService) Grant(ctx context.Context, callerID, tenantID, userID string, role tenant.Role) (*tenant.Grant, error) {
	ctx = WithCaller(ctx, callerID)
	if err := s.enforcer.AuthorizeGrantWrite(ctx, callerID, tenantID); err != nil {
		return nil, err
	}
	return s.tenants.GrantAccess(ctx, callerID, tenantID, userID, role)
}

// ChangeRole updates an existing grant in place.
func (s *GrantService) ChangeRole(ctx context.Context, callerID, tenantID, userID string, role tenant.Role) (*tenant.Grant, error) {
	ctx = WithCaller(ctx, callerID)
	if err := s.enforcer.AuthorizeGrantWrite(ctx, callerID, tenantID); err != nil {
		return nil, err
	}
	return s.tenants.UpdateGrantRole(ctx, callerID, tenantID, userID, role)
}

// Upsert grants role, or changes the role of the existing grant.
func (s *GrantService) Upsert(ctx context.Context, callerID, tenantID, userID string, role tenant.Role) (*tenant.Grant, error) {
	ctx = WithCaller(ctx, callerID)
	g, err := s.Grant(ctx, callerID, tenantID, userID, role)
	if errors.Is(err, tenant.ErrDuplicateGrant) {
		return s.tenants.UpdateGrantRole(ctx, callerID, tenantID, userID, role)
	}
	return g, err
}

// Revoke removes a grant. Revoking a grant that does not exist succeeds.
func (s *GrantService) Revoke(ctx context.Context, callerID, tenantID, userID string) error {
	ctx = WithCaller(ctx, callerID)
	if err := s.enforcer.AuthorizeGrantWrite(ctx, callerID, tenantID); err != nil {
		return err
	}
	return s.tenants.RevokeAccess(ctx, callerID, tenantID, userID)
}

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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/citygate/internal/audit"
	"github.com/opentrusty/citygate/internal/id"
)

// Service provides tenant and grant storage operations. It has no
// authorization logic of its own; policy lives in the authz package.
type Service struct {
	repo        Repository
	grants      GrantRepository
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates a new tenant service
func NewService(repo Repository, grants GrantRepository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		grants:      grants,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// CreateTenant creates a new tenant. New tenants start active unless a
// status is given.
func (s *Service) CreateTenant(ctx context.Context, actorID, slug, name string, status Status) (*Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if name == "" {
		name = slug
	}
	if status == "" {
		status = StatusActive
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	now := s.now()
	t := &Tenant{
		ID:        id.NewUUIDv7(),
		Slug:      slug,
		Name:      name,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateTenant) {
			return nil, ErrDuplicateTenant
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		ActorID:  actorID,
		Resource: audit.ResourceTenant,
		Metadata: map[string]any{audit.AttrSlug: t.Slug},
	})

	return t, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetBySlug retrieves a tenant by its routable slug
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.repo.GetBySlug(ctx, strings.ToLower(slug))
}

// ListTenants lists every tenant
func (s *Service) ListTenants(ctx context.Context) ([]*Tenant, error) {
	return s.repo.List(ctx)
}

// SetStatus moves a tenant to another lifecycle state
func (s *Service) SetStatus(ctx context.Context, actorID, tenantID string, status Status) (*Tenant, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	t.Status = status
	t.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantStatus,
		TenantID: t.ID,
		ActorID:  actorID,
		Resource: audit.ResourceTenant,
		Metadata: map[string]any{"status": string(status)},
	})
	return t, nil
}

// GrantAccess inserts a grant. A second grant for the same pair fails with
// ErrDuplicateGrant; use UpdateGrantRole to change the role.
func (s *Service) GrantAccess(ctx context.Context, actorID, tenantID, userID string, role Role) (*Grant, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := s.now()
	g := &Grant{
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		GrantedBy: actorID,
		GrantedAt: now,
		UpdatedAt: now,
	}

	if err := s.grants.Insert(ctx, g); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeGrantCreated,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: audit.ResourceGrant,
		Metadata: map[string]any{audit.AttrUserID: userID, audit.AttrRole: string(role)},
	})

	return g, nil
}

// UpdateGrantRole changes the role of an existing grant in place
func (s *Service) UpdateGrantRole(ctx context.Context, actorID, tenantID, userID string, role Role) (*Grant, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	g, err := s.grants.UpdateRole(ctx, tenantID, userID, role, s.now())
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeGrantUpdated,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: audit.ResourceGrant,
		Metadata: map[string]any{audit.AttrUserID: userID, audit.AttrRole: string(role)},
	})
	return g, nil
}

// RevokeAccess removes the grant for the pair. Revoking a missing grant is a no-op.
func (s *Service) RevokeAccess(ctx context.Context, actorID, tenantID, userID string) error {
	removed, err := s.grants.Delete(ctx, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	if !removed {
		return nil
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeGrantRevoked,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: audit.ResourceGrant,
		Metadata: map[string]any{audit.AttrUserID: userID},
	})
	return nil
}

// GetGrant returns the grant for the pair or ErrGrantNotFound
func (s *Service) GetGrant(ctx context.Context, tenantID, userID string) (*Grant, error) {
	return s.grants.Get(ctx, tenantID, userID)
}

// ListGrantsForTenant lists every grant in a tenant
func (s *Service) ListGrantsForTenant(ctx context.Context, tenantID string) ([]*Grant, error) {
	return s.grants.ListByTenant(ctx, tenantID)
}

// ListGrantsForUser lists every grant held by a user
func (s *Service) ListGrantsForUser(ctx context.Context, userID string) ([]*Grant, error) {
	return s.grants.ListByUser(ctx, userID)
}

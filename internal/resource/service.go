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

package resource

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/opentrusty/citygate/internal/audit"
	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/id"
)

// Service applies the tenant policy to every resource class in the registry.
type Service struct {
	enforcer    *authz.Enforcer
	repo        Repository
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates a resource service.
func NewService(enforcer *authz.Enforcer, repo Repository, auditLogger audit.Logger) *Service {
	return &Service{
		enforcer:    enforcer,
		repo:        repo,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Classes returns the protected classes.
func (s *Service) Classes() []authz.ResourceClass {
	return s.enforcer.Registry().Classes()
}

// List returns the rows of className owned by tenantID. A caller without
// access receives an empty list, not an error.
func (s *Service) List(ctx context.Context, callerID, className, tenantID string) ([]*Record, error) {
	ctx = authz.WithCaller(ctx, callerID)
	class, parent, err := s.lookup(className)
	if err != nil {
		return nil, err
	}
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !s.enforcer.CanRead(ctx, callerID, tenantID) {
		return []*Record{}, nil
	}

	records, err := s.repo.ListByTenant(ctx, class, parent, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", class.Name, err)
	}
	for _, r := range records {
		r.Class = class.Name
		r.TenantID = tenantID
	}
	if records == nil {
		records = []*Record{}
	}
	return records, nil
}

// Get returns one row. Rows outside tenantID, and rows the caller may not
// read, are reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, callerID, className, tenantID, id string) (*Record, error) {
	ctx = authz.WithCaller(ctx, callerID)
	class, parent, err := s.lookup(className)
	if err != nil {
		return nil, err
	}
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !s.enforcer.CanRead(ctx, callerID, tenantID) {
		return nil, ErrNotFound
	}
	return s.owned(ctx, class, parent, tenantID, id)
}

// Create inserts a row into tenantID. Indirect classes must name a parent
// row that belongs to the same tenant.
func (s *Service) Create(ctx context.Context, callerID, className, tenantID string, in Input) (*Record, error) {
	ctx = authz.WithCaller(ctx, callerID)
	class, parent, err := s.lookup(className)
	if err != nil {
		return nil, err
	}
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := s.enforcer.AuthorizeWrite(ctx, callerID, class, tenantID); err != nil {
		return nil, err
	}
	name, err := validateInput(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &Record{
		ID:         id.NewUUIDv7(),
		Class:      class.Name,
		Name:       name,
		Attributes: maps.Clone(in.Attributes),
		CreatedBy:  callerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if parent == nil {
		rec.TenantID = tenantID
	} else {
		if in.ParentID == "" {
			return nil, fmt.Errorf("%w: %s requires a parent %s", ErrInvalidInput, class.Name, parent.Name)
		}
		p, err := s.repo.Get(ctx, *parent, in.ParentID)
		if errors.Is(err, ErrNotFound) || (err == nil && p.TenantID != tenantID) {
			return nil, ErrParentNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parent: %w", err)
		}
		rec.ParentID = p.ID
	}

	if err := s.repo.Insert(ctx, class, rec); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", class.Name, err)
	}
	rec.TenantID = tenantID

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResourceCreated,
		TenantID: tenantID,
		ActorID:  callerID,
		Resource: rec.ID,
		Metadata: map[string]any{audit.AttrClass: class.Name},
	})
	return rec, nil
}

// Update replaces the name and attributes of a row in tenantID. The parent
// of an indirect row cannot be changed.
func (s *Service) Update(ctx context.Context, callerID, className, tenantID, id string, in Input) (*Record, error) {
	ctx = authz.WithCaller(ctx, callerID)
	class, parent, err := s.lookup(className)
	if err != nil {
		return nil, err
	}
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if err := s.enforcer.AuthorizeWrite(ctx, callerID, class, tenantID); err != nil {
		return nil, err
	}
	name, err := validateInput(in)
	if err != nil {
		return nil, err
	}

	rec, err := s.owned(ctx, class, parent, tenantID, id)
	if err != nil {
		return nil, err
	}
	if in.ParentID != "" && in.ParentID != rec.ParentID {
		return nil, fmt.Errorf("%w: parent cannot be changed", ErrInvalidInput)
	}

	rec.Name = name
	rec.Attributes = maps.Clone(in.Attributes)
	rec.UpdatedAt = s.now()
	if parent != nil {
		rec.TenantID = ""
	}
	if err := s.repo.Update(ctx, class, rec); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", class.Name, err)
	}
	rec.TenantID = tenantID

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResourceUpdated,
		TenantID: tenantID,
		ActorID:  callerID,
		Resource: rec.ID,
		Metadata: map[string]any{audit.AttrClass: class.Name},
	})
	return rec, nil
}

// Delete removes a row of tenantID together with its children.
func (s *Service) Delete(ctx context.Context, callerID, className, tenantID, id string) error {
	ctx = authz.WithCaller(ctx, callerID)
	class, parent, err := s.lookup(className)
	if err != nil {
		return err
	}
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := s.enforcer.AuthorizeWrite(ctx, callerID, class, tenantID); err != nil {
		return err
	}
	if _, err := s.owned(ctx, class, parent, tenantID, id); err != nil {
		return err
	}

	removed, err := s.repo.Delete(ctx, class, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", class.Name, err)
	}
	if !removed {
		return ErrNotFound
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResourceDeleted,
		TenantID: tenantID,
		ActorID:  callerID,
		Resource: id,
		Metadata: map[string]any{audit.AttrClass: class.Name},
	})
	return nil
}

// TenantOf resolves the tenant that owns a row, following at most one
// parent reference.
func (s *Service) TenantOf(ctx context.Context, className, id string) (string, error) {
	class, parent, err := s.lookup(className)
	if err != nil {
		return "", err
	}
	rec, err := s.repo.Get(ctx, class, id)
	if err != nil {
		return "", err
	}
	return s.resolveTenant(ctx, parent, rec)
}

func (s *Service) lookup(className string) (authz.ResourceClass, *authz.ResourceClass, error) {
	class, err := s.enforcer.Registry().Lookup(className)
	if err != nil {
		return authz.ResourceClass{}, nil, err
	}
	if class.Direct() {
		return class, nil, nil
	}
	parent, err := s.enforcer.Registry().Lookup(class.Parent)
	if err != nil {
		return authz.ResourceClass{}, nil, err
	}
	if !parent.Direct() {
		return authz.ResourceClass{}, nil, authz.ErrIndirectionTooDeep
	}
	return class, &parent, nil
}

// owned fetches a row and verifies it belongs to tenantID.
func (s *Service) owned(ctx context.Context, class authz.ResourceClass, parent *authz.ResourceClass, tenantID, id string) (*Record, error) {
	rec, err := s.repo.Get(ctx, class, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.resolveTenant(ctx, parent, rec)
	if errors.Is(err, ErrNotFound) || (err == nil && owner != tenantID) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Class = class.Name
	rec.TenantID = owner
	return rec, nil
}

func (s *Service) resolveTenant(ctx context.Context, parent *authz.ResourceClass, rec *Record) (string, error) {
	if parent == nil {
		return rec.TenantID, nil
	}
	p, err := s.repo.Get(ctx, *parent, rec.ParentID)
	if err != nil {
		return "", err
	}
	return p.TenantID, nil
}

// requireTenant keeps a blank tenant from reaching a store, where it could
// read as "no tenant filter".
func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	return nil
}

func validateInput(in Input) (string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > 256 {
		return "", fmt.Errorf("%w: name too long", ErrInvalidInput)
	}
	return name, nil
}

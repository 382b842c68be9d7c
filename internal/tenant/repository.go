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
	"time"
)

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrDuplicateTenant = errors.New("tenant slug already exists")
	ErrInvalidSlug     = errors.New("invalid tenant slug")
	ErrInvalidStatus   = errors.New("invalid tenant status")
	ErrInvalidRole     = errors.New("invalid tenant role")
	ErrDuplicateGrant  = errors.New("grant already exists for tenant and user")
	ErrGrantNotFound   = errors.New("grant not found")
)

// Repository defines the interface for tenant storage
type Repository interface {
	// Create inserts a tenant. Returns ErrDuplicateTenant if the slug is taken.
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	List(ctx context.Context) ([]*Tenant, error)
}

// GrantRepository is the raw grant store. Each write is a single statement
// guarded only by the (tenant_id, user_id) uniqueness constraint.
type GrantRepository interface {
	// Insert stores a new grant. Returns ErrDuplicateGrant if the pair already has one.
	Insert(ctx context.Context, grant *Grant) error

	// UpdateRole changes the role of an existing grant in place.
	// Returns ErrGrantNotFound if no grant exists for the pair.
	UpdateRole(ctx context.Context, tenantID, userID string, role Role, at time.Time) (*Grant, error)

	// Delete removes the grant for the pair and reports whether one existed.
	Delete(ctx context.Context, tenantID, userID string) (bool, error)

	// Get returns the grant for the pair or ErrGrantNotFound.
	Get(ctx context.Context, tenantID, userID string) (*Grant, error)

	ListByTenant(ctx context.Context, tenantID string) ([]*Grant, error)
	ListByUser(ctx context.Context, userID string) ([]*Grant, error)
}

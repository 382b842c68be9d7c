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

package memory

import (
	"context"

	"github.com/opentrusty/citygate/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	store *Store
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(store *Store) *TenantRepository {
	return &TenantRepository{store: store}
}

// Create inserts a tenant
func (r *TenantRepository) Create(_ context.Context, t *tenant.Tenant) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	for index, value := range map[string]string{indexID: t.ID, indexSlug: t.Slug} {
		existing, err := txn.First(tableTenants, index, value)
		if err != nil {
			return err
		}
		if existing != nil {
			return tenant.ErrDuplicateTenant
		}
	}

	cp := *t
	if err := txn.Insert(tableTenants, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	return r.first(indexID, id)
}

// GetBySlug retrieves a tenant by slug
func (r *TenantRepository) GetBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	return r.first(indexSlug, slug)
}

// Update persists name and status
func (r *TenantRepository) Update(_ context.Context, t *tenant.Tenant) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableTenants, indexID, t.ID)
	if err != nil {
		return err
	}
	if obj == nil {
		return tenant.ErrTenantNotFound
	}
	updated := *obj.(*tenant.Tenant)
	updated.Name = t.Name
	updated.Status = t.Status
	updated.UpdatedAt = t.UpdatedAt
	if err := txn.Insert(tableTenants, &updated); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// List returns every tenant ordered by slug
func (r *TenantRepository) List(_ context.Context) ([]*tenant.Tenant, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTenants, indexSlug)
	if err != nil {
		return nil, err
	}
	tenants := collect(it, func(obj any) (*tenant.Tenant, bool) {
		cp := *obj.(*tenant.Tenant)
		return &cp, true
	})
	if tenants == nil {
		tenants = []*tenant.Tenant{}
	}
	return tenants, nil
}

func (r *TenantRepository) first(index, value string) (*tenant.Tenant, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableTenants, index, value)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, tenant.ErrTenantNotFound
	}
	cp := *obj.(*tenant.Tenant)
	return &cp, nil
}

var _ tenant.Repository = (*TenantRepository)(nil)

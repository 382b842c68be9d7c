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
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/tenant"
)

// GrantRepository implements tenant.GrantRepository. The compound id index
// on (TenantID, UserID) is the uniqueness constraint.
type GrantRepository struct {
	store *Store
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(store *Store) *GrantRepository {
	return &GrantRepository{store: store}
}

// Insert stores a new grant
func (r *GrantRepository) Insert(_ context.Context, g *tenant.Grant) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	if obj, err := txn.First(tableTenants, indexID, g.TenantID); err != nil {
		return err
	} else if obj == nil {
		return tenant.ErrTenantNotFound
	}
	if obj, err := txn.First(tableUsers, indexID, g.UserID); err != nil {
		return err
	} else if obj == nil {
		return identity.ErrUserNotFound
	}

	existing, err := txn.First(tableGrants, indexID, g.TenantID, g.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return tenant.ErrDuplicateGrant
	}

	cp := *g
	if err := txn.Insert(tableGrants, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// UpdateRole changes the role of an existing grant
func (r *GrantRepository) UpdateRole(_ context.Context, tenantID, userID string, role tenant.Role, at time.Time) (*tenant.Grant, error) {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableGrants, indexID, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, tenant.ErrGrantNotFound
	}
	updated := *obj.(*tenant.Grant)
	updated.Role = role
	updated.UpdatedAt = at
	if err := txn.Insert(tableGrants, &updated); err != nil {
		return nil, err
	}
	txn.Commit()

	out := updated
	return &out, nil
}

// Delete removes the grant for the pair
func (r *GrantRepository) Delete(_ context.Context, tenantID, userID string) (bool, error) {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableGrants, indexID, tenantID, userID)
	if err != nil {
		return false, err
	}
	if obj == nil {
		return false, nil
	}
	if err := txn.Delete(tableGrants, obj); err != nil {
		return false, err
	}
	txn.Commit()
	return true, nil
}

// Get returns the grant for the pair
func (r *GrantRepository) Get(_ context.Context, tenantID, userID string) (*tenant.Grant, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableGrants, indexID, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, tenant.ErrGrantNotFound
	}
	cp := *obj.(*tenant.Grant)
	return &cp, nil
}

// ListByTenant lists every grant in a tenant
func (r *GrantRepository) ListByTenant(_ context.Context, tenantID string) ([]*tenant.Grant, error) {
	return r.list(indexTenant, tenantID)
}

// ListByUser lists every grant held by a user
func (r *GrantRepository) ListByUser(_ context.Context, userID string) ([]*tenant.Grant, error) {
	return r.list(indexUser, userID)
}

func (r *GrantRepository) list(index, value string) ([]*tenant.Grant, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableGrants, index, value)
	if err != nil {
		return nil, err
	}
	return grants(it), nil
}

func grants(it memdb.ResultIterator) []*tenant.Grant {
	out := collect(it, func(obj any) (*tenant.Grant, bool) {
		cp := *obj.(*tenant.Grant)
		return &cp, true
	})
	if out == nil {
		out = []*tenant.Grant{}
	}
	return out
}

var _ tenant.GrantRepository = (*GrantRepository)(nil)

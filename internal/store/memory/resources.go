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
	"maps"

	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/resource"
)

// ResourceRepository implements resource.Repository. All classes share one
// table keyed by class name; ids are globally unique.
type ResourceRepository struct {
	store *Store
}

// NewResourceRepository creates a new resource repository
func NewResourceRepository(store *Store) *ResourceRepository {
	return &ResourceRepository{store: store}
}

// Insert stores rec
func (r *ResourceRepository) Insert(_ context.Context, class authz.ResourceClass, rec *resource.Record) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	if existing, err := txn.First(tableResources, indexID, rec.ID); err != nil {
		return err
	} else if existing != nil {
		return resource.ErrInvalidInput
	}

	row := copyRecord(rec)
	row.Class = class.Name
	if !class.Direct() {
		parent, err := txn.First(tableResources, indexID, rec.ParentID)
		if err != nil {
			return err
		}
		if parent == nil || parent.(*resource.Record).Class != class.Parent {
			return resource.ErrParentNotFound
		}
		row.TenantID = ""
	}

	if err := txn.Insert(tableResources, row); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Get returns one row of class
func (r *ResourceRepository) Get(_ context.Context, class authz.ResourceClass, id string) (*resource.Record, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableResources, indexID, id)
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.(*resource.Record).Class != class.Name {
		return nil, resource.ErrNotFound
	}
	return copyRecord(obj.(*resource.Record)), nil
}

// ListByTenant returns the rows of class owned by tenantID
func (r *ResourceRepository) ListByTenant(_ context.Context, class authz.ResourceClass, parent *authz.ResourceClass, tenantID string) ([]*resource.Record, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	if parent == nil {
		it, err := txn.Get(tableResources, indexOwner, class.Name, tenantID)
		if err != nil {
			return nil, err
		}
		return records(collect(it, rowOf)), nil
	}

	pit, err := txn.Get(tableResources, indexOwner, parent.Name, tenantID)
	if err != nil {
		return nil, err
	}
	var out []*resource.Record
	for _, p := range collect(pit, rowOf) {
		it, err := txn.Get(tableResources, indexParent, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, collect(it, func(obj any) (*resource.Record, bool) {
			rec := obj.(*resource.Record)
			return copyRecord(rec), rec.Class == class.Name
		})...)
	}
	return records(out), nil
}

// Update replaces name and attributes
func (r *ResourceRepository) Update(_ context.Context, class authz.ResourceClass, rec *resource.Record) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableResources, indexID, rec.ID)
	if err != nil {
		return err
	}
	if obj == nil || obj.(*resource.Record).Class != class.Name {
		return resource.ErrNotFound
	}
	updated := copyRecord(obj.(*resource.Record))
	updated.Name = rec.Name
	updated.Attributes = maps.Clone(rec.Attributes)
	updated.UpdatedAt = rec.UpdatedAt
	if err := txn.Insert(tableResources, updated); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Delete removes the row and every row that names it as parent
func (r *ResourceRepository) Delete(_ context.Context, class authz.ResourceClass, id string) (bool, error) {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableResources, indexID, id)
	if err != nil {
		return false, err
	}
	if obj == nil || obj.(*resource.Record).Class != class.Name {
		return false, nil
	}
	if _, err := txn.DeleteAll(tableResources, indexParent, id); err != nil {
		return false, err
	}
	if err := txn.Delete(tableResources, obj); err != nil {
		return false, err
	}
	txn.Commit()
	return true, nil
}

func rowOf(obj any) (*resource.Record, bool) {
	return copyRecord(obj.(*resource.Record)), true
}

func records(in []*resource.Record) []*resource.Record {
	if in == nil {
		return []*resource.Record{}
	}
	return in
}

func copyRecord(rec *resource.Record) *resource.Record {
	cp := *rec
	cp.Attributes = maps.Clone(rec.Attributes)
	return &cp
}

var _ resource.Repository = (*ResourceRepository)(nil)

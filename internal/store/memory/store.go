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

// Package memory is an in-process store backed by go-memdb. It implements
// every raw repository and is used for development and tests.
package memory

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
)

const (
	tableUsers       = "users"
	tableCredentials = "user_credentials"
	tableTenants     = "tenants"
	tableGrants      = "tenant_grants"
	tableRotations   = "session_rotations"
	tableResources   = "resources"

	indexID     = "id"
	indexEmail  = "email"
	indexRole   = "role"
	indexSlug   = "slug"
	indexTenant = "tenant"
	indexUser   = "user"
	indexClass  = "class"
	indexParent = "parent"
	indexOwner  = "owner"
)

// Store wraps a go-memdb database. Write transactions are serialized by
// memdb, so uniqueness checks made inside one are race free.
type Store struct {
	db *memdb.MemDB
}

// New creates an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableUsers: {
				Name: tableUsers,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexEmail: {
						Name:    indexEmail,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Email", Lowercase: true},
					},
					indexRole: {
						Name:    indexRole,
						Indexer: &memdb.StringFieldIndex{Field: "Role"},
					},
				},
			},
			tableCredentials: {
				Name: tableCredentials,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
			tableTenants: {
				Name: tableTenants,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexSlug: {
						Name:    indexSlug,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Slug"},
					},
				},
			},
			tableGrants: {
				Name: tableGrants,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "TenantID"},
								&memdb.StringFieldIndex{Field: "UserID"},
							},
						},
					},
					indexTenant: {
						Name:    indexTenant,
						Indexer: &memdb.StringFieldIndex{Field: "TenantID"},
					},
					indexUser: {
						Name:    indexUser,
						Indexer: &memdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
			tableRotations: {
				Name: tableRotations,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
			tableResources: {
				Name: tableResources,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexClass: {
						Name:    indexClass,
						Indexer: &memdb.StringFieldIndex{Field: "Class"},
					},
					indexOwner: {
						Name:         indexOwner,
						AllowMissing: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Class"},
								&memdb.StringFieldIndex{Field: "TenantID"},
							},
						},
					},
					indexParent: {
						Name:         indexParent,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "ParentID"},
					},
				},
			},
		},
	}
}

// collect drains a result iterator, converting each object with fn.
func collect[T any](it memdb.ResultIterator, fn func(obj any) (T, bool)) []T {
	var out []T
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if v, ok := fn(obj); ok {
			out = append(out, v)
		}
	}
	return out
}

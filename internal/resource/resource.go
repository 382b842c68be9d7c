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

// Package resource is the data-access boundary for tenant-owned content.
// Every function takes the caller's subject id and tenant id and applies
// the authz rules before touching storage.
package resource

import (
	"context"
	"errors"
	"time"

	"github.com/opentrusty/citygate/internal/authz"
)

var (
	// ErrNotFound covers both missing rows and rows the caller may not read.
	ErrNotFound       = errors.New("resource not found")
	ErrParentNotFound = errors.New("parent resource not found in tenant")
	ErrInvalidInput   = errors.New("invalid resource input")
)

// Record is one row of a resource class. TenantID is stored only for direct
// classes; for indirect classes it is resolved through the parent on read.
type Record struct {
	ID         string         `json:"id"`
	Class      string         `json:"class"`
	TenantID   string         `json:"tenant_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Input carries the writable fields of a record.
type Input struct {
	Name       string         `json:"name"`
	ParentID   string         `json:"parent_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Repository is the raw, unenforced resource store. Only Service may use it.
type Repository interface {
	// Insert stores rec in the table of class.
	Insert(ctx context.Context, class authz.ResourceClass, rec *Record) error

	// Get returns the row or ErrNotFound.
	Get(ctx context.Context, class authz.ResourceClass, id string) (*Record, error)

	// ListByTenant returns the rows of class owned by tenantID. For an
	// indirect class parent is its parent class and ownership is resolved
	// through it; for a direct class parent is nil.
	ListByTenant(ctx context.Context, class authz.ResourceClass, parent *authz.ResourceClass, tenantID string) ([]*Record, error)

	// Update replaces name and attributes of an existing row.
	Update(ctx context.Context, class authz.ResourceClass, rec *Record) error

	// Delete removes the row and its children, reporting whether it existed.
	Delete(ctx context.Context, class authz.ResourceClass, id string) (bool, error)
}

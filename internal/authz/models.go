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

	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/tenant"
)

// Domain errors
var (
	// ErrForbidden is the only denial a write ever reports. It carries no
	// detail about why.
	ErrForbidden = errors.New("forbidden")

	ErrUnknownResourceClass = errors.New("unknown resource class")
	ErrInvalidResourceClass = errors.New("invalid resource class")
	ErrIndirectionTooDeep   = errors.New("resource class may reach its tenant through at most one parent")
)

// UserReader reads the raw identity store. It is satisfied by
// identity.UserRepository and never goes through a policy.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*identity.User, error)
}

// GrantReader reads the raw grant store. It is satisfied by
// tenant.GrantRepository and never goes through a policy.
type GrantReader interface {
	Get(ctx context.Context, tenantID, userID string) (*tenant.Grant, error)
}

// Checker is the predicate surface policies are built from.
type Checker interface {
	// IsSuperuser reports whether the user holds the superuser global role.
	IsSuperuser(ctx context.Context, userID string) (bool, error)

	// HasTenantAccess reports whether the user is superuser or holds any grant in the tenant.
	HasTenantAccess(ctx context.Context, userID, tenantID string) (bool, error)

	// IsTenantAdmin reports whether the user is superuser or holds an admin grant in the tenant.
	IsTenantAdmin(ctx context.Context, userID, tenantID string) (bool, error)
}

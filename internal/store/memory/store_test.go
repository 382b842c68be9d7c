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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/resource"
	"github.com/opentrusty/citygate/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	users := NewUserRepository(s)
	for _, u := range []*identity.User{
		{ID: "u-root", Email: "root@city.example", Role: identity.RoleSuperuser, Active: true, CreatedAt: now},
		{ID: "u-alice", Email: "alice@city.example", Role: identity.RoleOperator, Active: true, CreatedAt: now},
		{ID: "u-bob", Email: "bob@city.example", Role: identity.RoleAdmin, Active: true, CreatedAt: now},
	} {
		require.NoError(t, users.Create(ctx, u))
	}

	tenants := NewTenantRepository(s)
	for _, tn := range []*tenant.Tenant{
		{ID: "t-rdam", Slug: "rotterdam", Name: "Rotterdam", Status: tenant.StatusActive},
		{ID: "t-adam", Slug: "amsterdam", Name: "Amsterdam", Status: tenant.StatusActive},
	} {
		require.NoError(t, tenants.Create(ctx, tn))
	}
}

// TestPurpose: Validates uniqueness of identities and that stored users are isolated from caller mutation.
// Scope: Unit Test
// Security: Identity integrity (CWE-694)
// Expected: Duplicate ids and case-variant emails are rejected; mutating a returned user leaves the store untouched.
// Test Case ID: MEM-01
func TestUserRepository_Uniqueness(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	repo := NewUserRepository(s)
	ctx := context.Background()

	err := repo.Create(ctx, &identity.User{ID: "u-alice", Email: "other@city.example", Role: identity.RoleOperator, Active: true})
	assert.ErrorIs(t, err, identity.ErrDuplicateIdentity)

	err = repo.Create(ctx, &identity.User{ID: "u-x", Email: "ALICE@city.example", Role: identity.RoleOperator, Active: true})
	assert.ErrorIs(t, err, identity.ErrDuplicateIdentity)

	u, err := repo.GetByEmail(ctx, "Alice@City.Example")
	require.NoError(t, err)
	u.Role = identity.RoleSuperuser

	again, err := repo.GetByID(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleOperator, again.Role)

	n, err := repo.CountByRole(ctx, identity.RoleSuperuser)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	err = repo.SetCredentials(ctx, &identity.Credentials{UserID: "missing", PasswordHash: "x"})
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

// TestPurpose: Validates that concurrent inserts of the same (tenant, user) grant leave exactly one row.
// Scope: Unit Test
// Security: Grant uniqueness under concurrency (CWE-362)
// Expected: One insert succeeds, every other insert fails with ErrDuplicateGrant, and a single grant is stored.
// Test Case ID: MEM-02
func TestGrantRepository_ConcurrentDuplicate(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	repo := NewGrantRepository(s)
	ctx := context.Background()

	const writers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		dupes     atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			role := tenant.RoleOperator
			if i%2 == 0 {
				role = tenant.RoleAdmin
			}
			err := repo.Insert(ctx, &tenant.Grant{TenantID: "t-rdam", UserID: "u-alice", Role: role, GrantedAt: time.Now()})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, tenant.ErrDuplicateGrant):
				dupes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(writers-1), dupes.Load())

	list, err := repo.ListByTenant(ctx, "t-rdam")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// TestPurpose: Validates grant lifecycle semantics of the raw store.
// Scope: Unit Test
// Expected: Updates change the role in place, deletes are idempotent, and grants need an existing tenant and user.
// Test Case ID: MEM-03
func TestGrantRepository_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	repo := NewGrantRepository(s)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, &tenant.Grant{TenantID: "t-rdam", UserID: "u-alice", Role: tenant.RoleOperator}))

	g, err := repo.UpdateRole(ctx, "t-rdam", "u-alice", tenant.RoleAdmin, time.Now())
	require.NoError(t, err)
	assert.Equal(t, tenant.RoleAdmin, g.Role)

	_, err = repo.UpdateRole(ctx, "t-adam", "u-alice", tenant.RoleAdmin, time.Now())
	assert.ErrorIs(t, err, tenant.ErrGrantNotFound)

	removed, err := repo.Delete(ctx, "t-rdam", "u-alice")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Delete(ctx, "t-rdam", "u-alice")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repo.Get(ctx, "t-rdam", "u-alice")
	assert.ErrorIs(t, err, tenant.ErrGrantNotFound)

	err = repo.Insert(ctx, &tenant.Grant{TenantID: "t-none", UserID: "u-alice", Role: tenant.RoleOperator})
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)

	err = repo.Insert(ctx, &tenant.Grant{TenantID: "t-rdam", UserID: "u-none", Role: tenant.RoleOperator})
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

// TestPurpose: Validates rotation records: last writer wins and revocation bumps the generation.
// Scope: Unit Test
// Security: Session revocation (CWE-613)
// Expected: Missing records read as generation 0; RecordRotation keeps the generation; RevokeAll increments it.
// Test Case ID: MEM-04
func TestRotationRepository(t *testing.T) {
	s := newTestStore(t)
	repo := NewRotationRepository(s)
	ctx := context.Background()
	now := time.Now()

	rot, err := repo.GetRotation(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rot.Generation)

	require.NoError(t, repo.RecordRotation(ctx, "u-alice", "tok-1", now))
	require.NoError(t, repo.RecordRotation(ctx, "u-alice", "tok-2", now))
	rot, err = repo.GetRotation(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", rot.TokenID)
	assert.Equal(t, int64(0), rot.Generation)

	require.NoError(t, repo.RevokeAll(ctx, "u-alice", now))
	require.NoError(t, repo.RevokeAll(ctx, "u-alice", now))
	rot, err = repo.GetRotation(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rot.Generation)
	assert.Equal(t, "tok-2", rot.TokenID)
	require.NotNil(t, rot.RevokedAt)
}

// TestPurpose: Validates per-class resource storage with parent resolution and cascading deletes.
// Scope: Unit Test
// Expected: Direct rows list by tenant, child rows list through their parent, and deleting a parent removes its children.
// Test Case ID: MEM-05
func TestResourceRepository(t *testing.T) {
	s := newTestStore(t)
	repo := NewResourceRepository(s)
	ctx := context.Background()
	reg := authz.DefaultRegistry()
	district, _ := reg.Lookup(authz.ClassDistrict)
	hood, _ := reg.Lookup(authz.ClassNeighborhood)

	require.NoError(t, repo.Insert(ctx, district, &resource.Record{ID: "d1", TenantID: "t-rdam", Name: "Noord"}))
	require.NoError(t, repo.Insert(ctx, district, &resource.Record{ID: "d2", TenantID: "t-adam", Name: "West"}))
	require.NoError(t, repo.Insert(ctx, hood, &resource.Record{ID: "n1", TenantID: "t-rdam", ParentID: "d1", Name: "Blijdorp"}))
	require.NoError(t, repo.Insert(ctx, hood, &resource.Record{ID: "n2", ParentID: "d2", Name: "Bos en Lommer"}))

	err := repo.Insert(ctx, hood, &resource.Record{ID: "n3", ParentID: "nope", Name: "Ghost"})
	assert.ErrorIs(t, err, resource.ErrParentNotFound)

	stored, err := repo.Get(ctx, hood, "n1")
	require.NoError(t, err)
	assert.Empty(t, stored.TenantID)

	_, err = repo.Get(ctx, district, "n1")
	assert.ErrorIs(t, err, resource.ErrNotFound)

	rdam, err := repo.ListByTenant(ctx, hood, &district, "t-rdam")
	require.NoError(t, err)
	require.Len(t, rdam, 1)
	assert.Equal(t, "n1", rdam[0].ID)

	districts, err := repo.ListByTenant(ctx, district, nil, "t-adam")
	require.NoError(t, err)
	require.Len(t, districts, 1)
	assert.Equal(t, "d2", districts[0].ID)

	removed, err := repo.Delete(ctx, district, "d1")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = repo.Get(ctx, hood, "n1")
	assert.ErrorIs(t, err, resource.ErrNotFound)

	removed, err = repo.Delete(ctx, district, "d1")
	require.NoError(t, err)
	assert.False(t, removed)
}

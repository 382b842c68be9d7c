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

//go:build integration
// +build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/id"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/resource"
	"github.com/opentrusty/citygate/internal/tenant"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := Config{
		Host:         envOr("DB_HOST", "localhost"),
		Port:         envOr("DB_PORT", "5432"),
		User:         envOr("DB_USER", "citygate"),
		Password:     envOr("DB_PASSWORD", "citygate_dev_password"),
		Database:     envOr("DB_NAME", "citygate"),
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}

	ctx := context.Background()
	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seedFixture(t *testing.T, db *DB) (userID, tenantA, tenantB string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	userID = id.NewUUIDv7()
	if err := NewUserRepository(db).Create(ctx, &identity.User{
		ID: userID, Email: userID + "@city.example", Role: identity.RoleOperator, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	tenants := NewTenantRepository(db)
	tenantA, tenantB = id.NewUUIDv7(), id.NewUUIDv7()
	for _, tid := range []string{tenantA, tenantB} {
		if err := tenants.Create(ctx, &tenant.Tenant{
			ID: tid, Slug: "t-" + tid[len(tid)-12:], Name: tid, Status: tenant.StatusActive,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("failed to create tenant: %v", err)
		}
	}

	t.Cleanup(func() {
		_, _ = db.pool.Exec(ctx, "DELETE FROM tenants WHERE id = ANY($1)", []string{tenantA, tenantB})
		_, _ = db.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	})
	return userID, tenantA, tenantB
}

// TestPurpose: Validates that the grant primary key admits exactly one row per (tenant, user) under concurrent inserts.
// Scope: Database Integration Test
// Security: Grant uniqueness under concurrency (CWE-362)
// Expected: One insert succeeds and the others fail with ErrDuplicateGrant.
// Test Case ID: PG-01
func TestGrantRepository_ConcurrentDuplicate(t *testing.T) {
	db := openTestDB(t)
	userID, tenantA, _ := seedFixture(t, db)
	repo := NewGrantRepository(db)
	ctx := context.Background()

	const writers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		dupes int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Insert(ctx, &tenant.Grant{
				TenantID: tenantA, UserID: userID, Role: tenant.RoleOperator,
				GrantedAt: time.Now(), UpdatedAt: time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, tenant.ErrDuplicateGrant):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dupes != writers-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d and %d", writers-1, ok, dupes)
	}
}

// TestPurpose: Validates the SQL predicate functions agree with the grant registry.
// Scope: Database Integration Test
// Security: Tenant isolation (CWE-639)
// Expected: has_tenant_access is true only for the granted tenant and is_tenant_admin only after promotion.
// Test Case ID: PG-02
func TestPredicateFunctions(t *testing.T) {
	db := openTestDB(t)
	userID, tenantA, tenantB := seedFixture(t, db)
	grants := NewGrantRepository(db)
	ctx := context.Background()

	if err := grants.Insert(ctx, &tenant.Grant{TenantID: tenantA, UserID: userID, Role: tenant.RoleOperator}); err != nil {
		t.Fatalf("failed to grant: %v", err)
	}

	check := func(fn, tid string) bool {
		var ok bool
		if err := db.pool.QueryRow(ctx, "SELECT "+fn+"($1, $2)", userID, tid).Scan(&ok); err != nil {
			t.Fatalf("%s failed: %v", fn, err)
		}
		return ok
	}

	if !check("has_tenant_access", tenantA) || check("has_tenant_access", tenantB) {
		t.Fatal("has_tenant_access does not match the grant registry")
	}
	if check("is_tenant_admin", tenantA) {
		t.Fatal("operator reported as tenant admin")
	}

	if _, err := grants.UpdateRole(ctx, tenantA, userID, tenant.RoleAdmin, time.Now()); err != nil {
		t.Fatalf("failed to promote: %v", err)
	}
	if !check("is_tenant_admin", tenantA) {
		t.Fatal("admin grant not reflected by is_tenant_admin")
	}
}

// TestPurpose: Validates indirect resource rows resolve through their parent and cascade on delete.
// Scope: Database Integration Test
// Expected: Neighborhoods list under their district's tenant only and disappear with the district.
// Test Case ID: PG-03
func TestResourceRepository_Indirect(t *testing.T) {
	db := openTestDB(t)
	_, tenantA, tenantB := seedFixture(t, db)
	repo := NewResourceRepository(db)
	reg := authz.DefaultRegistry()
	district, _ := reg.Lookup(authz.ClassDistrict)
	hood, _ := reg.Lookup(authz.ClassNeighborhood)
	ctx := context.Background()
	now := time.Now()

	d := &resource.Record{ID: id.NewUUIDv7(), TenantID: tenantA, Name: "Noord", CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(ctx, district, d); err != nil {
		t.Fatalf("failed to insert district: %v", err)
	}
	n := &resource.Record{ID: id.NewUUIDv7(), ParentID: d.ID, Name: "Blijdorp", CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(ctx, hood, n); err != nil {
		t.Fatalf("failed to insert neighborhood: %v", err)
	}

	inA, err := repo.ListByTenant(ctx, hood, &district, tenantA)
	if err != nil || len(inA) != 1 {
		t.Fatalf("expected 1 neighborhood in tenant A, got %d (%v)", len(inA), err)
	}
	inB, err := repo.ListByTenant(ctx, hood, &district, tenantB)
	if err != nil || len(inB) != 0 {
		t.Fatalf("expected no neighborhoods in tenant B, got %d (%v)", len(inB), err)
	}

	if removed, err := repo.Delete(ctx, district, d.ID); err != nil || !removed {
		t.Fatalf("failed to delete district: %v", err)
	}
	if _, err := repo.Get(ctx, hood, n.ID); !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
}

func seedUser(t *testing.T, db *DB, role identity.Role) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	userID := id.NewUUIDv7()
	if err := NewUserRepository(db).Create(ctx, &identity.User{
		ID: userID, Email: userID + "@city.example", Role: role, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", userID)
	})
	return userID
}

// TestPurpose: Validates that row-level security scopes resource statements to the calling user.
// Scope: Database Integration Test
// Security: Tenant isolation enforced by the database (CWE-639)
// Expected: A user with no grant sees zero rows and cannot insert; a granted user and a superuser see the rows.
// Test Case ID: PG-04
func TestRowSecurity_Resources(t *testing.T) {
	db := openTestDB(t)
	operator, tenantA, _ := seedFixture(t, db)
	outsider := seedUser(t, db, identity.RoleOperator)
	root := seedUser(t, db, identity.RoleSuperuser)
	repo := NewResourceRepository(db)
	reg := authz.DefaultRegistry()
	district, _ := reg.Lookup(authz.ClassDistrict)
	hood, _ := reg.Lookup(authz.ClassNeighborhood)
	ctx := context.Background()
	now := time.Now()

	if err := NewGrantRepository(db).Insert(ctx, &tenant.Grant{TenantID: tenantA, UserID: operator, Role: tenant.RoleOperator}); err != nil {
		t.Fatalf("failed to grant: %v", err)
	}

	d := &resource.Record{ID: id.NewUUIDv7(), TenantID: tenantA, Name: "Centrum", CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(authz.WithCaller(ctx, operator), district, d); err != nil {
		t.Fatalf("granted insert failed: %v", err)
	}
	n := &resource.Record{ID: id.NewUUIDv7(), ParentID: d.ID, Name: "Jordaan", CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(authz.WithCaller(ctx, operator), hood, n); err != nil {
		t.Fatalf("granted insert failed: %v", err)
	}

	asOutsider := authz.WithCaller(ctx, outsider)
	rows, err := repo.ListByTenant(asOutsider, district, nil, tenantA)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected zero districts for a user with no grant, got %d (%v)", len(rows), err)
	}
	rows, err = repo.ListByTenant(asOutsider, hood, &district, tenantA)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected zero neighborhoods for a user with no grant, got %d (%v)", len(rows), err)
	}
	if _, err := repo.Get(asOutsider, district, d.ID); !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected hidden row to be not found, got %v", err)
	}
	if removed, err := repo.Delete(asOutsider, district, d.ID); err != nil || removed {
		t.Fatalf("expected delete of a hidden row to affect nothing, got %v (%v)", removed, err)
	}
	intruder := &resource.Record{ID: id.NewUUIDv7(), TenantID: tenantA, Name: "Zuid", CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(asOutsider, district, intruder); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for insert without a grant, got %v", err)
	}

	for _, caller := range []string{operator, root} {
		rows, err := repo.ListByTenant(authz.WithCaller(ctx, caller), hood, &district, tenantA)
		if err != nil || len(rows) != 1 {
			t.Fatalf("expected 1 neighborhood for %s, got %d (%v)", caller, len(rows), err)
		}
	}

	// the service itself is never scoped
	if rows, err := repo.ListByTenant(ctx, district, nil, tenantA); err != nil || len(rows) != 1 {
		t.Fatalf("expected unscoped listing to see the district, got %d (%v)", len(rows), err)
	}
}

// TestPurpose: Validates that row-level security on tenant_grants limits reads to the caller's own grants and writes to tenant admins.
// Scope: Database Integration Test
// Security: Grant registry confidentiality and integrity (CWE-639, CWE-269)
// Expected: An operator reads only its own grant and cannot grant; a tenant admin reads and writes every grant of its tenant.
// Test Case ID: PG-05
func TestRowSecurity_Grants(t *testing.T) {
	db := openTestDB(t)
	operator, tenantA, _ := seedFixture(t, db)
	admin := seedUser(t, db, identity.RoleOperator)
	newcomer := seedUser(t, db, identity.RoleOperator)
	repo := NewGrantRepository(db)
	ctx := context.Background()
	now := time.Now()

	for _, g := range []*tenant.Grant{
		{TenantID: tenantA, UserID: operator, Role: tenant.RoleOperator, GrantedAt: now, UpdatedAt: now},
		{TenantID: tenantA, UserID: admin, Role: tenant.RoleAdmin, GrantedAt: now, UpdatedAt: now},
	} {
		if err := repo.Insert(ctx, g); err != nil {
			t.Fatalf("failed to grant: %v", err)
		}
	}

	asOperator := authz.WithCaller(ctx, operator)
	visible, err := repo.ListByTenant(asOperator, tenantA)
	if err != nil || len(visible) != 1 || visible[0].UserID != operator {
		t.Fatalf("expected the operator to see only its own grant, got %d (%v)", len(visible), err)
	}
	err = repo.Insert(asOperator, &tenant.Grant{TenantID: tenantA, UserID: newcomer, Role: tenant.RoleOperator, GrantedAt: now, UpdatedAt: now})
	if !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a grant by an operator, got %v", err)
	}

	asAdmin := authz.WithCaller(ctx, admin)
	if visible, err := repo.ListByTenant(asAdmin, tenantA); err != nil || len(visible) != 2 {
		t.Fatalf("expected the admin to see 2 grants, got %d (%v)", len(visible), err)
	}
	if err := repo.Insert(asAdmin, &tenant.Grant{TenantID: tenantA, UserID: newcomer, Role: tenant.RoleOperator, GrantedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("admin grant failed: %v", err)
	}
	if _, err := repo.UpdateRole(asOperator, tenantA, newcomer, tenant.RoleAdmin, now); !errors.Is(err, tenant.ErrGrantNotFound) {
		t.Fatalf("expected a hidden grant to be not found for the operator, got %v", err)
	}
}

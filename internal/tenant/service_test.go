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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/citygate/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, t *Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Tenant), args.Error(1)
}

func (m *mockRepo) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Tenant), args.Error(1)
}

func (m *mockRepo) Update(ctx context.Context, t *Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockRepo) List(ctx context.Context) ([]*Tenant, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*Tenant), args.Error(1)
}

type mockGrantRepo struct {
	mock.Mock
}

func (m *mockGrantRepo) Insert(ctx context.Context, g *Grant) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *mockGrantRepo) UpdateRole(ctx context.Context, tenantID, userID string, role Role, at time.Time) (*Grant, error) {
	args := m.Called(ctx, tenantID, userID, role, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Grant), args.Error(1)
}

func (m *mockGrantRepo) Delete(ctx context.Context, tenantID, userID string) (bool, error) {
	args := m.Called(ctx, tenantID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockGrantRepo) Get(ctx context.Context, tenantID, userID string) (*Grant, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Grant), args.Error(1)
}

func (m *mockGrantRepo) ListByTenant(ctx context.Context, tenantID string) ([]*Grant, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).([]*Grant), args.Error(1)
}

func (m *mockGrantRepo) ListByUser(ctx context.Context, userID string) ([]*Grant, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]*Grant), args.Error(1)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

// TestPurpose: Validates that tenant creation correctly generates IDs using UUIDv7 for temporal ordering.
// Scope: Unit Test
// Security: Traceability and unique identification of tenants
// Expected: A new tenant is created with a valid UUIDv7 ID, the normalized slug and an audit event.
// Test Case ID: TEN-01
func TestTenant_Service_CreateTenant_UUIDv7(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	service := NewService(repo, new(mockGrantRepo), auditLogger)
	ctx := context.Background()

	repo.On("Create", ctx, mock.MatchedBy(func(t *Tenant) bool {
		uid, err := uuid.Parse(t.ID)
		return err == nil && uid.Version() == 7 && t.Slug == "amsterdam"
	})).Return(nil)
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeTenantCreated && e.ActorID == "su-1"
	})).Return()

	created, err := service.CreateTenant(ctx, "su-1", " Amsterdam ", "Amsterdam", "")
	require.NoError(t, err)
	assert.Equal(t, "amsterdam", created.Slug)
	assert.Equal(t, StatusActive, created.Status)

	repo.AssertExpectations(t)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates that malformed slugs and statuses are rejected before touching storage.
// Scope: Unit Test
// Security: Input validation (CWE-20)
// Expected: ErrInvalidSlug and ErrInvalidStatus; the repository is never called.
// Test Case ID: TEN-02
func TestTenant_Service_CreateTenant_Validation(t *testing.T) {
	repo := new(mockRepo)
	service := NewService(repo, new(mockGrantRepo), audit.NopLogger{})
	ctx := context.Background()

	for _, slug := range []string{"", "a", "-leading", "has space", "../etc"} {
		_, err := service.CreateTenant(ctx, "su-1", slug, "", "")
		assert.ErrorIs(t, err, ErrInvalidSlug, slug)
	}
	_, err := service.CreateTenant(ctx, "su-1", "rotterdam", "", Status("deleted"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that grant roles form a closed set excluding superuser.
// Scope: Unit Test
// Security: Privilege integrity (CWE-269)
// Expected: ErrInvalidRole for anything outside {admin, operator}; storage is never reached.
// Test Case ID: TEN-03
func TestTenant_Service_GrantAccess_InvalidRole(t *testing.T) {
	grants := new(mockGrantRepo)
	service := NewService(new(mockRepo), grants, audit.NopLogger{})

	for _, role := range []Role{"superuser", "owner", "", "Admin"} {
		_, err := service.GrantAccess(context.Background(), "a-1", "t-1", "u-1", role)
		assert.ErrorIs(t, err, ErrInvalidRole, string(role))
	}
	grants.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that a second insert for the same pair surfaces ErrDuplicateGrant and that the update path changes the role.
// Scope: Unit Test
// Security: Data Integrity and Unique Constraint Enforcement
// Expected: ErrDuplicateGrant without an audit event; UpdateGrantRole returns the updated grant.
// Test Case ID: TEN-04
func TestTenant_Service_GrantAccess_Duplicate(t *testing.T) {
	grants := new(mockGrantRepo)
	auditLogger := new(mockAudit)
	service := NewService(new(mockRepo), grants, auditLogger)
	ctx := context.Background()

	grants.On("Insert", ctx, mock.MatchedBy(func(g *Grant) bool { return g.Role == RoleOperator })).Return(nil).Once()
	grants.On("Insert", ctx, mock.MatchedBy(func(g *Grant) bool { return g.Role == RoleAdmin })).Return(ErrDuplicateGrant).Once()
	grants.On("UpdateRole", ctx, "amsterdam", "u2", RoleAdmin, mock.AnythingOfType("time.Time")).
		Return(&Grant{TenantID: "amsterdam", UserID: "u2", Role: RoleAdmin}, nil)
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool { return e.Type == audit.TypeGrantCreated })).Return().Once()
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool { return e.Type == audit.TypeGrantUpdated })).Return().Once()

	_, err := service.GrantAccess(ctx, "a-1", "amsterdam", "u2", RoleOperator)
	require.NoError(t, err)

	_, err = service.GrantAccess(ctx, "a-1", "amsterdam", "u2", RoleAdmin)
	assert.ErrorIs(t, err, ErrDuplicateGrant)

	updated, err := service.UpdateGrantRole(ctx, "a-1", "amsterdam", "u2", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, updated.Role)

	grants.AssertExpectations(t)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates that revoking access is idempotent.
// Scope: Unit Test
// Security: Access revocation reliability
// Expected: Revoking a missing grant returns nil and emits no audit event.
// Test Case ID: TEN-05
func TestTenant_Service_RevokeAccess_Idempotent(t *testing.T) {
	grants := new(mockGrantRepo)
	auditLogger := new(mockAudit)
	service := NewService(new(mockRepo), grants, auditLogger)
	ctx := context.Background()

	grants.On("Delete", ctx, "t-1", "u-1").Return(true, nil).Once()
	grants.On("Delete", ctx, "t-1", "u-1").Return(false, nil).Once()
	auditLogger.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool { return e.Type == audit.TypeGrantRevoked })).Return().Once()

	require.NoError(t, service.RevokeAccess(ctx, "a-1", "t-1", "u-1"))
	require.NoError(t, service.RevokeAccess(ctx, "a-1", "t-1", "u-1"))

	grants.AssertExpectations(t)
	auditLogger.AssertExpectations(t)
}

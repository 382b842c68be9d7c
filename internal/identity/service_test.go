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

package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opentrusty/citygate/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockUserRepository is a simple in-memory implementation of UserRepository
type MockUserRepository struct {
	mu          sync.Mutex
	users       map[string]*User
	credentials map[string]*Credentials
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users:       make(map[string]*User),
		credentials: make(map[string]*Credentials),
	}
}

func (m *MockUserRepository) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicateIdentity
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicateIdentity
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MockUserRepository) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepository) List(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockUserRepository) CountByRole(_ context.Context, role Role) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if u.Active && u.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *MockUserRepository) Update(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MockUserRepository) UpdateLockout(_ context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.FailedLoginAttempts = failedAttempts
	u.LockedUntil = lockedUntil
	return nil
}

func (m *MockUserRepository) SetCredentials(_ context.Context, credentials *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *credentials
	m.credentials[credentials.UserID] = &cp
	return nil
}

func (m *MockUserRepository) GetCredentials(_ context.Context, userID string) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *c
	return &cp, nil
}

func newTestService(repo UserRepository) *Service {
	return NewService(repo, NewPasswordHasher(1024, 1, 1, 16, 32), audit.NopLogger{}, 3, 5*time.Minute)
}

// TestPurpose: Validates the user authentication flow, including success, failure, and account lockout after multiple failed attempts.
// Scope: Unit Test
// Security: Authentication mechanisms and Brute-force protection (lockout)
// Expected: Successful login for correct credentials, error for wrong credentials, and account lockout after the threshold.
// Test Case ID: IDN-01
func TestIdentity_Service_Authenticate(t *testing.T) {
	s := newTestService(NewMockUserRepository())
	ctx := context.Background()
	email := "test@example.com"
	password := "SecurePassword123"

	user, err := s.CreateUser(ctx, NewUser{Email: email, Role: RoleOperator})
	require.NoError(t, err)
	require.NoError(t, s.AddPassword(ctx, user.ID, password))

	got, err := s.Authenticate(ctx, "Test@Example.com", password)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.Authenticate(ctx, email, "WrongPassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _ = s.Authenticate(ctx, email, "WrongPassword")
	_, err = s.Authenticate(ctx, email, "WrongPassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, email, password)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

// TestPurpose: Validates that creating a user is idempotent on the email identity key.
// Scope: Unit Test
// Security: Data Integrity and Unique Constraint Enforcement
// Expected: A repeated create returns the stored user; a create naming a different ID fails with ErrDuplicateIdentity.
// Test Case ID: IDN-02
func TestIdentity_Service_CreateUser_Idempotent(t *testing.T) {
	s := newTestService(NewMockUserRepository())
	ctx := context.Background()

	first, err := s.CreateUser(ctx, NewUser{Email: "dup@example.com", Role: RoleAdmin})
	require.NoError(t, err)

	again, err := s.CreateUser(ctx, NewUser{Email: "DUP@example.com", Role: RoleOperator})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, RoleAdmin, again.Role, "existing user is returned unchanged")

	same, err := s.CreateUser(ctx, NewUser{ID: first.ID, Email: "dup@example.com", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, first.ID, same.ID)

	_, err = s.CreateUser(ctx, NewUser{ID: "another-id", Email: "dup@example.com", Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
}

// TestPurpose: Validates that global roles form a closed set checked at construction.
// Scope: Unit Test
// Security: Privilege integrity (CWE-269)
// Expected: Unknown role strings are rejected; ranks order operator < admin < superuser.
// Test Case ID: IDN-03
func TestIdentity_Role_ClosedSet(t *testing.T) {
	for _, raw := range []string{"superuser", "admin", "operator"} {
		r, err := ParseRole(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, string(r))
	}
	for _, raw := range []string{"", "root", "Admin", "tenant_admin"} {
		_, err := ParseRole(raw)
		assert.ErrorIs(t, err, ErrInvalidRole, raw)
	}

	assert.True(t, RoleSuperuser.AtLeast(RoleAdmin))
	assert.True(t, RoleAdmin.AtLeast(RoleOperator))
	assert.False(t, RoleOperator.AtLeast(RoleAdmin))
	assert.False(t, Role("root").AtLeast(RoleOperator))

	s := newTestService(NewMockUserRepository())
	_, err := s.CreateUser(context.Background(), NewUser{Email: "x@example.com", Role: "root"})
	assert.ErrorIs(t, err, ErrInvalidRole)
}

// TestPurpose: Validates that deactivation is soft and blocks authentication.
// Scope: Unit Test
// Security: Account lifecycle enforcement
// Expected: The user record survives with Active=false and login fails.
// Test Case ID: IDN-04
func TestIdentity_Service_Deactivate(t *testing.T) {
	repo := NewMockUserRepository()
	s := newTestService(repo)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, NewUser{Email: "gone@example.com", Role: RoleOperator})
	require.NoError(t, err)
	require.NoError(t, s.AddPassword(ctx, user.ID, "SecurePassword123"))

	require.NoError(t, s.Deactivate(ctx, "admin-1", user.ID))
	require.NoError(t, s.Deactivate(ctx, "admin-1", user.ID))

	stored, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.NotNil(t, stored.DeactivatedAt)

	_, err = s.Authenticate(ctx, "gone@example.com", "SecurePassword123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

// TestPurpose: Validates that the bootstrap superuser is created exactly once.
// Scope: Unit Test
// Security: Privileged account provisioning
// Expected: First run creates a superuser with a working password; second run is a no-op.
// Test Case ID: IDN-05
func TestIdentity_Bootstrap(t *testing.T) {
	repo := NewMockUserRepository()
	s := newTestService(repo)
	ctx := context.Background()
	b := NewBootstrapService(s, audit.NopLogger{}, BootstrapConfig{Email: "root@example.com", Password: "SecurePassword123"})

	created, err := b.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	user, err := s.Authenticate(ctx, "root@example.com", "SecurePassword123")
	require.NoError(t, err)
	assert.True(t, user.IsSuperuser())

	created, err = b.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	empty := NewBootstrapService(s, audit.NopLogger{}, BootstrapConfig{})
	created, err = empty.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, created)
}

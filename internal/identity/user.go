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
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateIdentity  = errors.New("identity already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidRole        = errors.New("invalid global role")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
	ErrUserInactive       = errors.New("user is deactivated")
)

// Role is the global role of a user. The set is closed.
type Role string

const (
	RoleSuperuser Role = "superuser"
	RoleAdmin     Role = "admin"
	RoleOperator  Role = "operator"
)

// ParseRole converts s into a Role, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the three global roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperuser, RoleAdmin, RoleOperator:
		return true
	}
	return false
}

// Rank orders global roles: operator < admin < superuser. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleOperator:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperuser:
		return 3
	}
	return 0
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

// User represents a global identity. Tenant membership lives in grants.
type User struct {
	ID                  string
	Email               string
	Role                Role
	Active              bool
	Profile             Profile
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeactivatedAt       *time.Time
}

// IsSuperuser reports whether the user is an active superuser.
func (u *User) IsSuperuser() bool {
	return u != nil && u.Active && u.Role == RoleSuperuser
}

// Profile holds user-editable profile fields
type Profile struct {
	DisplayName string `json:"display_name"`
	Locale      string `json:"locale"`
}

// Credentials represents user authentication credentials
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// NewUser is the input to Service.CreateUser.
type NewUser struct {
	// ID is optional. When set it must match any existing identity with the same email.
	ID      string
	Email   string
	Role    Role
	Profile Profile
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create inserts a new user. Returns ErrDuplicateIdentity if the id or email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID, including deactivated users
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a user by normalized email
	GetByEmail(ctx context.Context, email string) (*User, error)

	// List returns all users ordered by email
	List(ctx context.Context) ([]*User, error)

	// CountByRole counts active users holding the given global role
	CountByRole(ctx context.Context, role Role) (int, error)

	// Update persists role, profile and activation state
	Update(ctx context.Context, user *User) error

	// UpdateLockout updates user lockout status
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error

	// SetCredentials inserts or replaces the password credential of a user
	SetCredentials(ctx context.Context, credentials *Credentials) error

	// GetCredentials retrieves user credentials
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)
}

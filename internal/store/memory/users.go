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
	"strings"
	"time"

	"github.com/opentrusty/citygate/internal/identity"
)

// UserRepository implements identity.UserRepository
type UserRepository struct {
	store *Store
}

// NewUserRepository creates a new user repository
func NewUserRepository(store *Store) *UserRepository {
	return &UserRepository{store: store}
}

// Create inserts a new user identity
func (r *UserRepository) Create(_ context.Context, user *identity.User) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	if existing, err := txn.First(tableUsers, indexID, user.ID); err != nil {
		return err
	} else if existing != nil {
		return identity.ErrDuplicateIdentity
	}
	if existing, err := txn.First(tableUsers, indexEmail, strings.ToLower(user.Email)); err != nil {
		return err
	} else if existing != nil {
		return identity.ErrDuplicateIdentity
	}

	if err := txn.Insert(tableUsers, copyUser(user)); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(_ context.Context, id string) (*identity.User, error) {
	return r.first(indexID, id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	return r.first(indexEmail, strings.ToLower(email))
}

// List returns all users ordered by email
func (r *UserRepository) List(_ context.Context) ([]*identity.User, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableUsers, indexEmail)
	if err != nil {
		return nil, err
	}
	users := collect(it, func(obj any) (*identity.User, bool) {
		return copyUser(obj.(*identity.User)), true
	})
	if users == nil {
		users = []*identity.User{}
	}
	return users, nil
}

// CountByRole counts active users holding role
func (r *UserRepository) CountByRole(_ context.Context, role identity.Role) (int, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableUsers, indexRole, string(role))
	if err != nil {
		return 0, err
	}
	active := collect(it, func(obj any) (struct{}, bool) {
		return struct{}{}, obj.(*identity.User).Active
	})
	return len(active), nil
}

// Update persists role, profile and activation state
func (r *UserRepository) Update(_ context.Context, user *identity.User) error {
	return r.modify(user.ID, func(stored *identity.User) {
		stored.Role = user.Role
		stored.Active = user.Active
		stored.Profile = user.Profile
		stored.DeactivatedAt = copyTime(user.DeactivatedAt)
		stored.UpdatedAt = user.UpdatedAt
	})
}

// UpdateLockout updates user lockout status
func (r *UserRepository) UpdateLockout(_ context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	return r.modify(userID, func(stored *identity.User) {
		stored.FailedLoginAttempts = failedAttempts
		stored.LockedUntil = copyTime(lockedUntil)
	})
}

// SetCredentials inserts or replaces the password credential of a user
func (r *UserRepository) SetCredentials(_ context.Context, credentials *identity.Credentials) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	if u, err := txn.First(tableUsers, indexID, credentials.UserID); err != nil {
		return err
	} else if u == nil {
		return identity.ErrUserNotFound
	}

	cp := *credentials
	if err := txn.Insert(tableCredentials, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetCredentials retrieves user credentials
func (r *UserRepository) GetCredentials(_ context.Context, userID string) (*identity.Credentials, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableCredentials, indexID, userID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, identity.ErrUserNotFound
	}
	cp := *obj.(*identity.Credentials)
	return &cp, nil
}

func (r *UserRepository) first(index, value string) (*identity.User, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableUsers, index, value)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, identity.ErrUserNotFound
	}
	return copyUser(obj.(*identity.User)), nil
}

func (r *UserRepository) modify(userID string, fn func(*identity.User)) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableUsers, indexID, userID)
	if err != nil {
		return err
	}
	if obj == nil {
		return identity.ErrUserNotFound
	}
	updated := copyUser(obj.(*identity.User))
	fn(updated)
	if err := txn.Insert(tableUsers, updated); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Objects inside memdb are shared between readers and must never be mutated.
func copyUser(u *identity.User) *identity.User {
	cp := *u
	cp.LockedUntil = copyTime(u.LockedUntil)
	cp.DeactivatedAt = copyTime(u.DeactivatedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ identity.UserRepository = (*UserRepository)(nil)

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
	"time"

	"github.com/opentrusty/citygate/internal/session"
)

// RotationRepository implements session.RotationStore
type RotationRepository struct {
	store *Store
}

// NewRotationRepository creates a new rotation repository
func NewRotationRepository(store *Store) *RotationRepository {
	return &RotationRepository{store: store}
}

// GetRotation returns the rotation record of userID
func (r *RotationRepository) GetRotation(_ context.Context, userID string) (*session.Rotation, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableRotations, indexID, userID)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return &session.Rotation{UserID: userID}, nil
	}
	return copyRotation(obj.(*session.Rotation)), nil
}

// RecordRotation stores tokenID as the latest token. Last writer wins.
func (r *RotationRepository) RecordRotation(_ context.Context, userID, tokenID string, at time.Time) error {
	return r.upsert(userID, func(rot *session.Rotation) {
		rot.TokenID = tokenID
		rot.RotatedAt = at
	})
}

// RevokeAll bumps the generation of userID
func (r *RotationRepository) RevokeAll(_ context.Context, userID string, at time.Time) error {
	return r.upsert(userID, func(rot *session.Rotation) {
		rot.Generation++
		revokedAt := at
		rot.RevokedAt = &revokedAt
	})
}

func (r *RotationRepository) upsert(userID string, fn func(*session.Rotation)) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableRotations, indexID, userID)
	if err != nil {
		return err
	}
	rot := &session.Rotation{UserID: userID}
	if obj != nil {
		rot = copyRotation(obj.(*session.Rotation))
	}
	fn(rot)
	if err := txn.Insert(tableRotations, rot); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func copyRotation(rot *session.Rotation) *session.Rotation {
	cp := *rot
	cp.RevokedAt = copyTime(rot.RevokedAt)
	return &cp
}

var _ session.RotationStore = (*RotationRepository)(nil)

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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/citygate/internal/session"
)

// RotationRepository implements session.RotationStore
type RotationRepository struct {
	db *DB
}

// NewRotationRepository creates a new rotation repository
func NewRotationRepository(db *DB) *RotationRepository {
	return &RotationRepository{db: db}
}

// GetRotation returns the rotation record of userID
func (r *RotationRepository) GetRotation(ctx context.Context, userID string) (*session.Rotation, error) {
	rot := session.Rotation{UserID: userID}
	err := r.db.pool.QueryRow(ctx, `
		SELECT token_id, generation, rotated_at, revoked_at
		FROM session_rotations WHERE user_id = $1
	`, userID).Scan(&rot.TokenID, &rot.Generation, &rot.RotatedAt, &rot.RevokedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get rotation: %w", err)
	}
	return &rot, nil
}

// RecordRotation stores tokenID as the latest token. Concurrent upserts on
// the same row serialize on its lock; the last one wins.
func (r *RotationRepository) RecordRotation(ctx context.Context, userID, tokenID string, at time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO session_rotations (user_id, token_id, rotated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET token_id = EXCLUDED.token_id, rotated_at = EXCLUDED.rotated_at
	`, userID, tokenID, at)
	if err != nil {
		return fmt.Errorf("failed to record rotation: %w", err)
	}
	return nil
}

// RevokeAll bumps the generation of userID
func (r *RotationRepository) RevokeAll(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO session_rotations (user_id, generation, rotated_at, revoked_at)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET generation = session_rotations.generation + 1, revoked_at = EXCLUDED.revoked_at
	`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

var _ session.RotationStore = (*RotationRepository)(nil)

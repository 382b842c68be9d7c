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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/identity"
	"github.com/opentrusty/citygate/internal/tenant"
)

const grantColumns = `tenant_id, user_id, role, granted_by, granted_at, updated_at`

// GrantRepository implements tenant.GrantRepository. Uniqueness of
// (tenant_id, user_id) is the primary key of tenant_grants.
type GrantRepository struct {
	db *DB
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Insert stores a new grant
func (r *GrantRepository) Insert(ctx context.Context, g *tenant.Grant) error {
	var grantedBy sql.NullString
	if g.GrantedBy != "" {
		grantedBy = sql.NullString{String: g.GrantedBy, Valid: true}
	}

	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tenant_grants (tenant_id, user_id, role, granted_by, granted_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, g.TenantID, g.UserID, string(g.Role), grantedBy, g.GrantedAt, g.UpdatedAt)
		return err
	})
	if err != nil {
		switch {
		case isCode(err, codeUniqueViolation):
			return tenant.ErrDuplicateGrant
		case isCode(err, codeForeignKeyViolation) && constraint(err) == "tenant_grants_user_id_fkey":
			return identity.ErrUserNotFound
		case isCode(err, codeForeignKeyViolation):
			return tenant.ErrTenantNotFound
		case isCode(err, codeInsufficientPrivilege):
			return authz.ErrForbidden
		}
		return fmt.Errorf("failed to insert grant: %w", err)
	}
	return nil
}

// UpdateRole changes the role of an existing grant
func (r *GrantRepository) UpdateRole(ctx context.Context, tenantID, userID string, role tenant.Role, at time.Time) (*tenant.Grant, error) {
	var g *tenant.Grant
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		var err error
		g, err = scanGrant(tx.QueryRow(ctx, `
			UPDATE tenant_grants SET role = $3, updated_at = $4
			WHERE tenant_id = $1 AND user_id = $2
			RETURNING `+grantColumns, tenantID, userID, string(role), at))
		return err
	})
	if isCode(err, codeInsufficientPrivilege) {
		return nil, authz.ErrForbidden
	}
	return g, err
}

// Delete removes the grant for the pair
func (r *GrantRepository) Delete(ctx context.Context, tenantID, userID string) (bool, error) {
	var affected int64
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM tenant_grants WHERE tenant_id = $1 AND user_id = $2
		`, tenantID, userID)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete grant: %w", err)
	}
	return affected > 0, nil
}

// Get returns the grant for the pair
func (r *GrantRepository) Get(ctx context.Context, tenantID, userID string) (*tenant.Grant, error) {
	var g *tenant.Grant
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		var err error
		g, err = scanGrant(tx.QueryRow(ctx, `
			SELECT `+grantColumns+` FROM tenant_grants WHERE tenant_id = $1 AND user_id = $2
		`, tenantID, userID))
		return err
	})
	return g, err
}

// ListByTenant lists every grant in a tenant visible to the caller
func (r *GrantRepository) ListByTenant(ctx context.Context, tenantID string) ([]*tenant.Grant, error) {
	return r.list(ctx, `SELECT `+grantColumns+` FROM tenant_grants WHERE tenant_id = $1 ORDER BY granted_at`, tenantID)
}

// ListByUser lists every grant held by a user visible to the caller
func (r *GrantRepository) ListByUser(ctx context.Context, userID string) ([]*tenant.Grant, error) {
	return r.list(ctx, `SELECT `+grantColumns+` FROM tenant_grants WHERE user_id = $1 ORDER BY granted_at`, userID)
}

func (r *GrantRepository) list(ctx context.Context, query, arg string) ([]*tenant.Grant, error) {
	grants := []*tenant.Grant{}
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, arg)
		if err != nil {
			return fmt.Errorf("failed to list grants: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			g, err := scanGrant(rows)
			if err != nil {
				return err
			}
			grants = append(grants, g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func scanGrant(row pgx.Row) (*tenant.Grant, error) {
	var (
		g         tenant.Grant
		role      string
		grantedBy sql.NullString
	)
	if err := row.Scan(&g.TenantID, &g.UserID, &role, &grantedBy, &g.GrantedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to scan grant: %w", err)
	}
	g.Role = tenant.Role(role)
	g.GrantedBy = grantedBy.String
	return &g, nil
}

var _ tenant.GrantRepository = (*GrantRepository)(nil)

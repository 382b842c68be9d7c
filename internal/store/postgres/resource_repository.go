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

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/citygate/internal/authz"
	"github.com/opentrusty/citygate/internal/resource"
	"github.com/opentrusty/citygate/internal/tenant"
)

// ResourceRepository implements resource.Repository over one table per
// class. Table names come from the class registry and are quoted with
// pgx.Identifier.
type ResourceRepository struct {
	db *DB
}

// NewResourceRepository creates a new resource repository
func NewResourceRepository(db *DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// owner is the column linking a row of class towards its tenant.
func owner(class authz.ResourceClass) string {
	if class.Direct() {
		return "tenant_id"
	}
	return "parent_id"
}

func table(class authz.ResourceClass) string {
	return pgx.Identifier{class.Table}.Sanitize()
}

// Insert stores rec. A row the caller's policy rejects is authz.ErrForbidden.
func (r *ResourceRepository) Insert(ctx context.Context, class authz.ResourceClass, rec *resource.Record) error {
	ref := rec.TenantID
	if !class.Direct() {
		ref = rec.ParentID
	}

	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, %s, name, attributes, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, table(class), owner(class)),
			rec.ID, ref, rec.Name, attributes(rec.Attributes), rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt,
		)
		return err
	})
	if err != nil {
		switch {
		case isCode(err, codeForeignKeyViolation) && class.Direct():
			return tenant.ErrTenantNotFound
		case isCode(err, codeForeignKeyViolation):
			return resource.ErrParentNotFound
		case isCode(err, codeUniqueViolation):
			return fmt.Errorf("%w: duplicate id", resource.ErrInvalidInput)
		case isCode(err, codeInsufficientPrivilege):
			return authz.ErrForbidden
		}
		return fmt.Errorf("failed to insert %s: %w", class.Name, err)
	}
	return nil
}

// Get returns one row of class. Rows hidden from the caller are not found.
func (r *ResourceRepository) Get(ctx context.Context, class authz.ResourceClass, id string) (*resource.Record, error) {
	var rec *resource.Record
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, fmt.Sprintf(`
			SELECT id, %s, name, attributes, COALESCE(created_by, ''), created_at, updated_at
			FROM %s WHERE id = $1
		`, owner(class), table(class)), id), class)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, resource.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", class.Name, err)
	}
	return rec, nil
}

// ListByTenant returns the rows of class owned by tenantID, joining through
// parent for indirect classes
func (r *ResourceRepository) ListByTenant(ctx context.Context, class authz.ResourceClass, parent *authz.ResourceClass, tenantID string) ([]*resource.Record, error) {
	var query string
	if parent == nil {
		query = fmt.Sprintf(`
			SELECT id, tenant_id, name, attributes, COALESCE(created_by, ''), created_at, updated_at
			FROM %s WHERE tenant_id = $1 ORDER BY created_at
		`, table(class))
	} else {
		query = fmt.Sprintf(`
			SELECT c.id, c.parent_id, c.name, c.attributes, COALESCE(c.created_by, ''), c.created_at, c.updated_at
			FROM %s c JOIN %s p ON p.id = c.parent_id
			WHERE p.tenant_id = $1 ORDER BY c.created_at
		`, table(class), table(*parent))
	}

	records := []*resource.Record{}
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows, class)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", class.Name, err)
	}
	return records, nil
}

// Update replaces name and attributes
func (r *ResourceRepository) Update(ctx context.Context, class authz.ResourceClass, rec *resource.Record) error {
	var affected int64
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET name = $2, attributes = $3, updated_at = $4 WHERE id = $1
		`, table(class)), rec.ID, rec.Name, attributes(rec.Attributes), rec.UpdatedAt)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		if isCode(err, codeInsufficientPrivilege) {
			return authz.ErrForbidden
		}
		return fmt.Errorf("failed to update %s: %w", class.Name, err)
	}
	if affected == 0 {
		return resource.ErrNotFound
	}
	return nil
}

// Delete removes the row; children go with it through ON DELETE CASCADE
func (r *ResourceRepository) Delete(ctx context.Context, class authz.ResourceClass, id string) (bool, error) {
	var affected int64
	err := r.db.scoped(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table(class)), id)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", class.Name, err)
	}
	return affected > 0, nil
}

func scanRecord(row pgx.Row, class authz.ResourceClass) (*resource.Record, error) {
	var (
		rec resource.Record
		ref string
	)
	if err := row.Scan(&rec.ID, &ref, &rec.Name, &rec.Attributes, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Class = class.Name
	if class.Direct() {
		rec.TenantID = ref
	} else {
		rec.ParentID = ref
	}
	return &rec, nil
}

// attributes never binds NULL to the NOT NULL jsonb column.
func attributes(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ resource.Repository = (*ResourceRepository)(nil)

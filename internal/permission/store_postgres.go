// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/dberr"
)

// PostgresRoleStore implements [RoleStore] on the auth.role table.
//
// Parents are stored as a text[] column, permissions as a JSONB document, so
// the whole role definition loads in one row.
type PostgresRoleStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRoleStore creates a PostgreSQL implementation of [RoleStore].
func NewPostgresRoleStore(pool *pgxpool.Pool) *PostgresRoleStore {
	return &PostgresRoleStore{pool: pool}
}

const roleColumns = `id, name, parents, permissions, isactive, createdat, updatedat`

func scanRole(row pgx.Row) (*Role, error) {
	role := &Role{}
	var permissionsJSON []byte

	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Parents,
		&permissionsJSON,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
			return nil, fmt.Errorf("postgres_role_decode_failed: %w", err)
		}
	}
	return role, nil
}

/*
FindByID returns the role with the given ID.

Parameters:
  - context: context.Context
  - id: string

Returns:
  - *Role: Hydrated entity
  - error: apperr.NotFound or execution errors
*/
func (repository *PostgresRoleStore) FindByID(context context.Context, id string) (*Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM auth.role WHERE id = $1`, roleColumns)

	role, err := scanRole(repository.pool.QueryRow(context, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Role")
		}
		return nil, fmt.Errorf("postgres_role_find_failed: %w", err)
	}
	return role, nil
}

/*
FindByIDs returns every existing role among the given IDs, keyed by ID.

Parameters:
  - context: context.Context
  - ids: []string

Returns:
  - map[string]*Role: Hydrated entities, missing IDs absent
  - error: Execution errors
*/
func (repository *PostgresRoleStore) FindByIDs(context context.Context, ids []string) (map[string]*Role, error) {
	if len(ids) == 0 {
		return map[string]*Role{}, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM auth.role WHERE id = ANY($1)`, roleColumns)

	rows, err := repository.pool.Query(context, query, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres_role_find_many_failed: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Role, len(ids))
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_role_find_many_failed: %w", err)
		}
		out[role.ID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_role_find_many_failed: %w", err)
	}
	return out, nil
}

/*
Create persists a new role definition.

Parameters:
  - context: context.Context
  - role: *Role

Returns:
  - error: apperr.Conflict on duplicate ID, or execution errors
*/
func (repository *PostgresRoleStore) Create(context context.Context, role *Role) error {
	const query = `
		INSERT INTO auth.role (id, name, parents, permissions, isactive, createdat, updatedat)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	now := time.Now()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("postgres_role_encode_failed: %w", err)
	}

	_, err = repository.pool.Exec(context, query,
		role.ID,
		role.Name,
		role.Parents,
		permissionsJSON,
		role.IsActive,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		return dberr.Wrap(err, "role_create")
	}
	return nil
}

/*
Update replaces the role's mutable fields.

Parameters:
  - context: context.Context
  - role: *Role

Returns:
  - error: apperr.NotFound when the role does not exist
*/
func (repository *PostgresRoleStore) Update(context context.Context, role *Role) error {
	const query = `
		UPDATE auth.role
		SET name = $2, parents = $3, permissions = $4, isactive = $5, updatedat = $6
		WHERE id = $1`

	role.UpdatedAt = time.Now()

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("postgres_role_encode_failed: %w", err)
	}

	tag, err := repository.pool.Exec(context, query,
		role.ID,
		role.Name,
		role.Parents,
		permissionsJSON,
		role.IsActive,
		role.UpdatedAt,
	)
	if err != nil {
		return dberr.Wrap(err, "role_update")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Role")
	}
	return nil
}

/*
List returns every role definition.

Returns:
  - []*Role: Hydrated entities
  - error: Execution errors
*/
func (repository *PostgresRoleStore) List(context context.Context) ([]*Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM auth.role ORDER BY id`, roleColumns)

	rows, err := repository.pool.Query(context, query)
	if err != nil {
		return nil, fmt.Errorf("postgres_role_list_failed: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_role_list_failed: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_role_list_failed: %w", err)
	}
	return roles, nil
}

// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import "context"

// # Role Data Access

// RoleStore defines the data access contract for role definitions.
type RoleStore interface {

	/*
		FindByID returns the role with the given ID.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *Role: Hydrated entity
		  - error: apperr.NotFound or database errors
	*/
	FindByID(context context.Context, id string) (*Role, error)

	/*
		FindByIDs returns every existing role among the given IDs, keyed by ID.
		Missing IDs are simply absent from the map.

		Parameters:
		  - context: context.Context
		  - ids: []string

		Returns:
		  - map[string]*Role: Hydrated entities
		  - error: Database errors
	*/
	FindByIDs(context context.Context, ids []string) (map[string]*Role, error)

	/*
		Create persists a new role definition.

		Parameters:
		  - context: context.Context
		  - role: *Role

		Returns:
		  - error: apperr.Conflict on duplicate ID, or database errors
	*/
	Create(context context.Context, role *Role) error

	/*
		Update replaces the role's name, parents, permissions, and active flag.

		Parameters:
		  - context: context.Context
		  - role: *Role

		Returns:
		  - error: apperr.NotFound or database errors
	*/
	Update(context context.Context, role *Role) error

	/*
		List returns every role definition, active and inactive.

		Returns:
		  - []*Role: Hydrated entities
		  - error: Database errors
	*/
	List(context context.Context) ([]*Role, error)
}

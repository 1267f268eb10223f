// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"context"
	"sync"
	"time"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

// MemoryRoleStore is an in-memory [RoleStore] used in tests and local
// development. All returned entities are copies.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

// NewMemoryRoleStore constructs an empty in-memory role store.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*Role)}
}

// Create persists a new role definition, enforcing ID uniqueness.
func (s *MemoryRoleStore) Create(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[role.ID]; exists {
		return apperr.Conflict("Resource already exists")
	}
	now := time.Now()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	s.roles[role.ID] = cloneRole(role)
	return nil
}

// FindByID returns the role with the given ID.
func (s *MemoryRoleStore) FindByID(_ context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return nil, apperr.NotFound("Role")
	}
	return cloneRole(role), nil
}

// FindByIDs returns every existing role among the given IDs.
func (s *MemoryRoleStore) FindByIDs(_ context.Context, ids []string) (map[string]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Role, len(ids))
	for _, id := range ids {
		if role, ok := s.roles[id]; ok {
			out[id] = cloneRole(role)
		}
	}
	return out, nil
}

// Update replaces the role's mutable fields.
func (s *MemoryRoleStore) Update(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.roles[role.ID]
	if !ok {
		return apperr.NotFound("Role")
	}
	updated := cloneRole(role)
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	s.roles[role.ID] = updated
	return nil
}

// List returns every role definition.
func (s *MemoryRoleStore) List(_ context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, cloneRole(role))
	}
	return roles, nil
}

func cloneRole(r *Role) *Role {
	clone := *r
	clone.Parents = append([]string(nil), r.Parents...)
	clone.Permissions = make([]Permission, len(r.Permissions))
	for i, p := range r.Permissions {
		cp := p
		cp.Conditions = append([]Condition(nil), p.Conditions...)
		clone.Permissions[i] = cp
	}
	return &clone
}

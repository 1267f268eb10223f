// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package identity

import (
	"context"
	"sync"
	"time"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

// MemoryStore is an in-memory [Store] used in tests and local development.
// All returned entities are copies; mutating them does not affect the store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string // email -> id
}

// NewMemoryStore constructs an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

// Create persists a new user, enforcing email uniqueness.
func (s *MemoryStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return apperr.Conflict("Resource already exists")
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	stored := cloneUser(user)
	s.byID[user.ID] = stored
	s.byEmail[user.Email] = user.ID
	return nil
}

// FindByID returns the account with the given ID.
func (s *MemoryStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("User")
	}
	return cloneUser(user), nil
}

// FindByEmail returns the account with the given normalized email.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, apperr.NotFound("User")
	}
	return cloneUser(s.byID[id]), nil
}

// UpdatePassword replaces the stored password hash.
func (s *MemoryStore) UpdatePassword(_ context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	user.PasswordHash = newHash
	user.UpdatedAt = time.Now()
	return nil
}

// UpdateStatus transitions the account lifecycle state.
func (s *MemoryStore) UpdateStatus(_ context.Context, userID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	user.Status = status
	user.UpdatedAt = time.Now()
	return nil
}

// AssignRole grants a role, clearing any prior revocation.
func (s *MemoryStore) AssignRole(_ context.Context, userID, roleID string, at time.Time, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	assigned := at
	user.RoleID = roleID
	user.RoleAssigned = &assigned
	user.RoleRevoked = nil
	user.RoleExpires = expiresAt
	user.UpdatedAt = at
	return nil
}

// RevokeRole stamps the current role grant as revoked.
func (s *MemoryStore) RevokeRole(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return apperr.NotFound("User")
	}
	revoked := at
	user.RoleRevoked = &revoked
	user.UpdatedAt = at
	return nil
}

func cloneUser(u *User) *User {
	clone := *u
	if u.RoleAssigned != nil {
		t := *u.RoleAssigned
		clone.RoleAssigned = &t
	}
	if u.RoleRevoked != nil {
		t := *u.RoleRevoked
		clone.RoleRevoked = &t
	}
	if u.RoleExpires != nil {
		t := *u.RoleExpires
		clone.RoleExpires = &t
	}
	if u.Metadata != nil {
		clone.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// MemoryAPIKeyStore is an in-memory [APIKeyStore] used in tests.
type MemoryAPIKeyStore struct {
	mu       sync.RWMutex
	byID     map[string]*APIKey
	byDigest map[string]string // digest -> id
}

// NewMemoryAPIKeyStore constructs an empty in-memory API key store.
func NewMemoryAPIKeyStore() *MemoryAPIKeyStore {
	return &MemoryAPIKeyStore{
		byID:     make(map[string]*APIKey),
		byDigest: make(map[string]string),
	}
}

// Insert persists a freshly minted API key record.
func (s *MemoryAPIKeyStore) Insert(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDigest[key.Digest]; exists {
		return apperr.Conflict("Resource already exists")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	stored := cloneKey(key)
	s.byID[key.ID] = stored
	s.byDigest[key.Digest] = key.ID
	return nil
}

// FindByDigest returns the key record matching a SHA-256 digest.
func (s *MemoryAPIKeyStore) FindByDigest(_ context.Context, digest string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return nil, apperr.NotFound("API key")
	}
	return cloneKey(s.byID[id]), nil
}

// ListByUser returns every key owned by the user.
func (s *MemoryAPIKeyStore) ListByUser(_ context.Context, userID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*APIKey, 0)
	for _, key := range s.byID {
		if key.UserID == userID {
			keys = append(keys, cloneKey(key))
		}
	}
	return keys, nil
}

// TouchUsage stamps the key's last successful authentication.
func (s *MemoryAPIKeyStore) TouchUsage(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return apperr.NotFound("API key")
	}
	used := at
	key.LastUsedAt = &used
	return nil
}

// Revoke permanently disables the key.
func (s *MemoryAPIKeyStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok || key.RevokedAt != nil {
		return apperr.NotFound("API key")
	}
	revoked := at
	key.RevokedAt = &revoked
	return nil
}

func cloneKey(k *APIKey) *APIKey {
	clone := *k
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		clone.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		clone.LastUsedAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		clone.RevokedAt = &t
	}
	return &clone
}

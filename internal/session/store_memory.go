// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/averden/gatehouse/internal/platform/apperr"
)

// MemoryDurableStore is an in-memory [DurableStore] used in tests and local
// development. All returned records are copies.
type MemoryDurableStore struct {
	mu   sync.RWMutex
	rows map[string]*Record
}

// NewMemoryDurableStore constructs an empty in-memory session store.
func NewMemoryDurableStore() *MemoryDurableStore {
	return &MemoryDurableStore{rows: make(map[string]*Record)}
}

// Insert persists a new session row, enforcing ID uniqueness.
func (s *MemoryDurableStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[rec.ID]; exists {
		return apperr.Conflict("Session already exists")
	}
	s.rows[rec.ID] = cloneRecord(rec)
	return nil
}

// Find returns the session row.
func (s *MemoryDurableStore) Find(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rows[id]
	if !ok {
		return nil, apperr.NotFound("Session")
	}
	return cloneRecord(rec), nil
}

// Touch updates the activity and expiry stamps of an active session.
func (s *MemoryDurableStore) Touch(_ context.Context, id string, lastActivity, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[id]
	if !ok || rec.Status != StatusActive {
		return apperr.NotFound("Session")
	}
	rec.LastActivityAt = lastActivity
	rec.ExpiresAt = expiresAt
	return nil
}

// MarkRevoked transitions the session to revoked.
func (s *MemoryDurableStore) MarkRevoked(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[id]
	if !ok || rec.Status != StatusActive {
		return apperr.NotFound("Session")
	}
	stamp := at
	rec.Status = StatusRevoked
	rec.RevokedAt = &stamp
	return nil
}

// MarkRevokedByUser revokes every active session of the user.
func (s *MemoryDurableStore) MarkRevokedByUser(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, rec := range s.rows {
		if rec.UserID == userID && rec.Status == StatusActive {
			stamp := at
			rec.Status = StatusRevoked
			rec.RevokedAt = &stamp
			revoked++
		}
	}
	return revoked, nil
}

// ListByUser returns the user's sessions, newest first.
func (s *MemoryDurableStore) ListByUser(_ context.Context, userID string, activeOnly bool) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0)
	for _, rec := range s.rows {
		if rec.UserID != userID {
			continue
		}
		if activeOnly && rec.Status != StatusActive {
			continue
		}
		records = append(records, cloneRecord(rec))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// ReapExpired transitions stale active rows to expired.
func (s *MemoryDurableStore) ReapExpired(_ context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for _, rec := range s.rows {
		if reaped >= limit {
			break
		}
		if rec.Status == StatusActive && rec.ExpiresAt.Before(cutoff) {
			rec.Status = StatusExpired
			reaped++
		}
	}
	return reaped, nil
}

// Ping always succeeds.
func (s *MemoryDurableStore) Ping(context.Context) error { return nil }

func cloneRecord(r *Record) *Record {
	clone := *r
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		clone.RevokedAt = &t
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package auth

import (
	"context"
	"time"

	"github.com/averden/gatehouse/internal/audit"
	"github.com/averden/gatehouse/internal/identity"
	"github.com/averden/gatehouse/internal/platform/apperr"
	"github.com/averden/gatehouse/internal/platform/sec"
	"github.com/averden/gatehouse/internal/platform/validate"
	"github.com/averden/gatehouse/pkg/uuid"
)

// apiKeyBytes is the entropy of freshly minted key material.
const apiKeyBytes = 32

// apiKeyPrefix makes keys recognizable in logs and secret scanners.
const apiKeyPrefix = "avk_"

// KeyService manages long-lived API keys for service principals.
type KeyService struct {
	base *Service
	keys identity.APIKeyStore
}

// NewKeyService wraps the orchestrator with API key management.
func NewKeyService(base *Service, keys identity.APIKeyStore) *KeyService {
	return &KeyService{base: base, keys: keys}
}

// CreatedKey is the one-time response to key creation. Raw carries the key
// material; it is never stored and never shown again.
type CreatedKey struct {
	Key *identity.APIKey `json:"key"`
	Raw string           `json:"raw_key"`
}

/*
CreateKey mints a new API key for the user.

Description: The raw key material is generated, its SHA-256 digest stored,
and the raw value returned exactly once. Losing it means revoking and
re-creating the key.

Parameters:
  - ctx: context.Context
  - userID: owning principal
  - name: operator-chosen label
  - expiresAt: optional expiry, nil for a non-expiring key

Returns:
  - *CreatedKey: record plus the one-time raw key
  - error: validation or persistence failures
*/
func (keyService *KeyService) CreateKey(ctx context.Context, userID, name string, expiresAt *time.Time) (*CreatedKey, error) {

	now := keyService.base.clock.Now().UTC()

	// Validate input
	if err := (&validate.Validator{}).
		Required(identity.FieldUserID, userID).
		Required(identity.FieldKeyName, name).
		MaxLen(identity.FieldKeyName, name, 100).
		Custom("expires_at", expiresAt != nil && !expiresAt.After(now), "Expiry must be in the future").
		Err(); err != nil {
		return nil, err
	}

	// The owner must exist and be able to authenticate
	user, err := keyService.base.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.CanAuthenticate(now) {
		return nil, apperr.Forbidden("Account is not allowed to hold API keys")
	}

	material, err := sec.GenerateSecureToken(apiKeyBytes)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	raw := apiKeyPrefix + material

	key := &identity.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		Digest:    sec.HashToken(raw),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := keyService.keys.Insert(ctx, key); err != nil {
		return nil, err
	}

	keyService.base.record(ctx, audit.New(audit.ActionAPIKeyCreated, now).
		WithUser(userID).
		WithDetail("key_id", key.ID).
		WithDetail("name", name))

	return &CreatedKey{Key: key, Raw: raw}, nil
}

// ListKeys returns every key owned by the user, revoked ones included so
// operators can audit past credentials.
func (keyService *KeyService) ListKeys(ctx context.Context, userID string) ([]*identity.APIKey, error) {
	return keyService.keys.ListByUser(ctx, userID)
}

/*
RevokeKey permanently disables a key.

Description: Ownership is enforced: a caller may only revoke keys bound to
the given user. Revocation is idempotent.

Parameters:
  - ctx: context.Context
  - userID: owner whose key is being revoked
  - keyID: the key
  - actorID: who requested the revocation

Returns:
  - error: [apperr.NotFound] for unknown or foreign keys
*/
func (keyService *KeyService) RevokeKey(ctx context.Context, userID, keyID, actorID string) error {

	keys, err := keyService.keys.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	var target *identity.APIKey
	for _, key := range keys {
		if key.ID == keyID {
			target = key
			break
		}
	}
	if target == nil {
		return apperr.NotFound("API key")
	}
	if target.RevokedAt != nil {
		return nil
	}

	now := keyService.base.clock.Now().UTC()
	if err := keyService.keys.Revoke(ctx, keyID, now); err != nil {
		return err
	}

	keyService.base.record(ctx, audit.New(audit.ActionAPIKeyRevoked, now).
		WithUser(userID).
		WithActor(actorID).
		WithDetail("key_id", keyID))
	return nil
}

// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package sec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("S3cure-passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, "S3cure-passphrase", hash)

	assert.True(t, CheckPasswordHash("S3cure-passphrase", hash))
	assert.False(t, CheckPasswordHash("wrong-passphrase", hash))
}

func TestHashTokenIsDeterministicAndOpaque(t *testing.T) {
	digest := HashToken("refresh-token-value")

	assert.Equal(t, digest, HashToken("refresh-token-value"))
	assert.NotEqual(t, digest, HashToken("refresh-token-value2"))
	assert.Len(t, digest, 64)
}

func TestGenerateSecureTokenUniqueness(t *testing.T) {
	first, err := GenerateSecureToken(32)
	require.NoError(t, err)
	second, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.GreaterOrEqual(t, len(first), 42)
}

func TestConstantTimeEquals(t *testing.T) {
	assert.True(t, ConstantTimeEquals("abc", "abc"))
	assert.False(t, ConstantTimeEquals("abc", "abd"))
	assert.False(t, ConstantTimeEquals("abc", "abcd"))
}

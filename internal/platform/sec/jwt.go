// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

// Package sec provides cryptographic primitives and token signing.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, JWT Signing) from
// the domain logic. It acts as an Infrastructure service injected into the
// Application layer. It deliberately knows nothing about claim schemas; the
// token domain defines those and hands them in as [jwt.Claims].
package sec

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs and verifies HMAC-SHA256 tokens with a shared secret.
//
// A Signer validates only what cryptography and registered claims can prove:
// signature, expiry, and (when configured) issuer and audience. Payload-shape
// rules and revocation checks belong to the callers.
type Signer struct {
	key      []byte
	leeway   time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// SignerOption customizes a [Signer].
type SignerOption func(*Signer)

// WithLeeway sets the clock-skew tolerance applied to time-based claims.
func WithLeeway(d time.Duration) SignerOption {
	return func(s *Signer) { s.leeway = d }
}

// WithExpectedIssuer makes Parse reject tokens whose 'iss' claim differs.
func WithExpectedIssuer(issuer string) SignerOption {
	return func(s *Signer) { s.issuer = issuer }
}

// WithExpectedAudience makes Parse reject tokens missing the 'aud' entry.
func WithExpectedAudience(audience string) SignerOption {
	return func(s *Signer) { s.audience = audience }
}

// WithTimeFunc overrides the clock used for claim validation.
func WithTimeFunc(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a [Signer] for the given shared secret.
func NewSigner(secret string, opts ...SignerOption) *Signer {
	signer := &Signer{
		key: []byte(secret),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(signer)
	}
	return signer
}

// Sign serializes and signs the claims using HS256.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sec_sign_failed: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and registered claims of tokenString,
// unmarshalling the payload into claims.
//
// Expiry is inclusive: a token presented exactly at its 'exp' instant is
// already invalid. The configured leeway widens the acceptance window on both
// sides to absorb clock drift between issuing and verifying nodes.
func (s *Signer) Parse(tokenString string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		options = append(options, jwt.WithAudience(s.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	}, options...)
	if err != nil {
		return fmt.Errorf("sec_parse_failed: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("sec_parse_failed: token rejected")
	}
	return nil
}

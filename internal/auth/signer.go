// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shopmesh/shopmesh/internal/keys"
)

// TokenPair is the response of a successful login or refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Signer issues RS256 tokens for the identity provider.
type Signer struct {
	pair       *keys.Pair
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewSigner builds a Signer around the service keypair.
func NewSigner(pair *keys.Pair, issuer string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{pair: pair, issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Identity is the subject material baked into every issued token.
type Identity struct {
	UserID   int64
	Username string
	IsAdmin  bool
	Version  int64
}

func (s *Signer) issue(id Identity, kind string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username: id.Username,
		Kind:     kind,
		Version:  id.Version,
		IsAdmin:  id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.pair.KeyID

	signed, err := token.SignedString(s.pair.Private)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// IssueAccess mints a short-lived access token.
func (s *Signer) IssueAccess(id Identity) (string, error) {
	return s.issue(id, KindAccess, s.accessTTL)
}

// IssuePair mints a fresh access/refresh pair.
func (s *Signer) IssuePair(id Identity) (TokenPair, error) {
	access, err := s.issue(id, KindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.issue(id, KindRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

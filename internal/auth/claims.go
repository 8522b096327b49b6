// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package auth implements token issuance and verification. The identity
// provider signs RS256 access/refresh pairs; every service verifies them
// locally against the published public key, so no per-request call back to
// the identity provider is needed.
package auth

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds. An access token can never be replayed against the refresh
// endpoint and vice versa.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims is the ShopMesh token payload. Version mirrors the account's token
// version at issue time; bumping the stored version invalidates all
// outstanding refresh tokens at once.
type Claims struct {
	Username string `json:"username"`
	Kind     string `json:"kind"`
	Version  int64  `json:"ver"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// UserID parses the numeric account ID out of the subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

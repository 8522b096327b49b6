// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shopmesh/shopmesh/internal/keys"
	"github.com/shopmesh/shopmesh/internal/logging"
)

var (
	// ErrTokenInvalid covers malformed tokens, bad signatures, wrong
	// algorithms and unknown signing keys.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned for structurally valid but expired tokens.
	ErrTokenExpired = errors.New("token expired")

	// ErrWrongKind is returned when a token of the wrong kind is presented,
	// e.g. a refresh token on a resource endpoint.
	ErrWrongKind = errors.New("wrong token kind")
)

// Verifier validates RS256 tokens against the identity provider's published
// keys. Keys are cached; a token carrying an unknown key ID triggers one
// refresh from the source before the token is rejected, which covers key
// rotation without restarting downstream services.
type Verifier struct {
	mu     sync.RWMutex
	keys   map[string]*rsa.PublicKey
	source keys.Source
}

// NewVerifier builds a Verifier over an initial key set. source may be nil
// when rotation refresh is not needed (e.g. the identity provider verifying
// its own tokens).
func NewVerifier(initial map[string]*rsa.PublicKey, source keys.Source) *Verifier {
	cached := make(map[string]*rsa.PublicKey, len(initial))
	for kid, pub := range initial {
		cached[kid] = pub
	}
	return &Verifier{keys: cached, source: source}
}

func (v *Verifier) lookup(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pub, ok := v.keys[kid]
	return pub, ok
}

func (v *Verifier) refresh(ctx context.Context) {
	if v.source == nil {
		return
	}
	fetched, err := v.source(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Verification key refresh failed")
		return
	}
	v.mu.Lock()
	for kid, pub := range fetched {
		v.keys[kid] = pub
	}
	v.mu.Unlock()
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token missing kid header")
	}
	pub, ok := v.lookup(kid)
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return pub, nil
}

// Verify parses and validates a token of the expected kind. Signature,
// expiry and kind are checked locally; no identity provider round trip.
func (v *Verifier) Verify(ctx context.Context, tokenString, kind string) (*Claims, error) {
	claims, err := v.parse(tokenString)
	if err != nil {
		// A fresh key may have rotated in; refresh once and retry.
		if errors.Is(err, jwt.ErrTokenUnverifiable) || errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			v.refresh(ctx)
			claims, err = v.parse(tokenString)
		}
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

func (v *Verifier) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
